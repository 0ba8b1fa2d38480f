package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the log level
// applies immediately, room defaults apply to rooms created afterwards.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RoomDefaultsChanged bool
	VoiceChanges        []VoiceDiff
	TargetLangsChanged  bool
}

// VoiceDiff describes what changed for a single language's voice mapping.
type VoiceDiff struct {
	Lang     string
	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldDef, newDef := old.Rooms.Defaults, new.Rooms.Defaults

	if !slices.Equal(oldDef.DefaultTargetLangs, newDef.DefaultTargetLangs) {
		d.TargetLangsChanged = true
		d.RoomDefaultsChanged = true
	}

	for lang, oldVoice := range oldDef.Voices {
		newVoice, exists := newDef.Voices[lang]
		if !exists {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Lang: lang, Removed: true})
			d.RoomDefaultsChanged = true
			continue
		}
		if oldVoice != newVoice {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Lang: lang, Modified: true})
			d.RoomDefaultsChanged = true
		}
	}
	for lang := range newDef.Voices {
		if _, exists := oldDef.Voices[lang]; !exists {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Lang: lang, Added: true})
			d.RoomDefaultsChanged = true
		}
	}

	if oldDef.SourceLang != newDef.SourceLang ||
		!slices.Equal(oldDef.AutoDetectLangs, newDef.AutoDetectLangs) {
		d.RoomDefaultsChanged = true
	}

	return d
}
