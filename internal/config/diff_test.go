package config

import "testing"

func TestDiff(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()
		cfg.Server.LogLevel = LogInfo
		cfg.Rooms.Defaults = RoomDefaults{
			SourceLang:         "en",
			DefaultTargetLangs: []string{"de", "fr"},
			Voices: map[string]VoiceConfig{
				"de": {VoiceID: "voice-de"},
				"fr": {VoiceID: "voice-fr"},
			},
		}
		return cfg
	}

	t.Run("no change", func(t *testing.T) {
		old, new := base(), base()
		d := Diff(old, new)
		if d.LogLevelChanged || d.RoomDefaultsChanged {
			t.Errorf("expected empty diff, got %+v", d)
		}
	})

	t.Run("log level change", func(t *testing.T) {
		old, new := base(), base()
		new.Server.LogLevel = LogDebug
		d := Diff(old, new)
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("unexpected diff: %+v", d)
		}
	})

	t.Run("voice modified and added", func(t *testing.T) {
		old, new := base(), base()
		new.Rooms.Defaults.Voices = map[string]VoiceConfig{
			"de": {VoiceID: "voice-de", FastID: "voice-de-fast"},
			"fr": {VoiceID: "voice-fr"},
			"es": {VoiceID: "voice-es"},
		}
		d := Diff(old, new)
		if !d.RoomDefaultsChanged {
			t.Fatal("expected room defaults change")
		}
		got := map[string]VoiceDiff{}
		for _, vc := range d.VoiceChanges {
			got[vc.Lang] = vc
		}
		if !got["de"].Modified {
			t.Errorf("de should be modified: %+v", got["de"])
		}
		if !got["es"].Added {
			t.Errorf("es should be added: %+v", got["es"])
		}
		if _, ok := got["fr"]; ok {
			t.Error("fr should be unchanged")
		}
	})

	t.Run("voice removed", func(t *testing.T) {
		old, new := base(), base()
		delete(new.Rooms.Defaults.Voices, "fr")
		d := Diff(old, new)
		if len(d.VoiceChanges) != 1 || !d.VoiceChanges[0].Removed || d.VoiceChanges[0].Lang != "fr" {
			t.Errorf("unexpected diff: %+v", d.VoiceChanges)
		}
	})

	t.Run("target langs change", func(t *testing.T) {
		old, new := base(), base()
		new.Rooms.Defaults.DefaultTargetLangs = []string{"de"}
		d := Diff(old, new)
		if !d.TargetLangsChanged || !d.RoomDefaultsChanged {
			t.Errorf("unexpected diff: %+v", d)
		}
	})
}
