package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/types"
)

func TestNew(t *testing.T) {
	t.Run("rejects empty api key", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty api key")
		}
	})

	t.Run("applies options", func(t *testing.T) {
		p, err := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if p.model != "eleven_turbo_v2" {
			t.Errorf("model = %q", p.model)
		}
		if p.outputFormat != "pcm_24000" {
			t.Errorf("outputFormat = %q", p.outputFormat)
		}
	})
}

func TestSettingsFor(t *testing.T) {
	t.Run("normal profile has no speed override", func(t *testing.T) {
		vs := settingsFor(synth.Request{Profile: types.ProfileNormal, RateBoostPct: 25})
		if vs.Speed != 0 {
			t.Errorf("expected zero speed, got %v", vs.Speed)
		}
	})

	t.Run("fast profile applies rate boost", func(t *testing.T) {
		vs := settingsFor(synth.Request{Profile: types.ProfileFast, RateBoostPct: 25})
		if vs.Speed != 1.25 {
			t.Errorf("expected speed 1.25, got %v", vs.Speed)
		}
	})

	t.Run("fast profile without boost keeps default speed", func(t *testing.T) {
		vs := settingsFor(synth.Request{Profile: types.ProfileFast})
		if vs.Speed != 0 {
			t.Errorf("expected zero speed, got %v", vs.Speed)
		}
	})
}

func TestPCMDuration(t *testing.T) {
	// 16 kHz mono s16le: 32000 bytes per second.
	data := make([]byte, 32000)
	if got := pcmDuration("pcm_16000", data); got != 1000 {
		t.Errorf("pcm_16000: expected 1000ms, got %d", got)
	}
	if got := pcmDuration("mp3_44100_128", data); got != 0 {
		t.Errorf("non-pcm format: expected 0, got %d", got)
	}
}

func TestAudioResponseParsing(t *testing.T) {
	raw := `{"audio":"AAAA","isFinal":false}`
	var resp audioResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Audio != "AAAA" || resp.IsFinal {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestConvertVoices(t *testing.T) {
	vr := voicesResponse{Voices: []elevenLabsVoice{
		{
			VoiceID:  "21m00Tcm4TlvDq8ikWAM",
			Name:     "Rachel",
			Category: "premade",
			Labels:   map[string]string{"accent": "american", "gender": "female"},
		},
	}}
	voices := convertVoices(vr)
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	v := voices[0]
	if v.ID != "21m00Tcm4TlvDq8ikWAM" || v.Name != "Rachel" || v.Provider != "elevenlabs" {
		t.Errorf("unexpected voice: %+v", v)
	}
	if v.Metadata["accent"] != "american" || v.Metadata["category"] != "premade" {
		t.Errorf("unexpected metadata: %v", v.Metadata)
	}
}

func TestVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key-1" {
			t.Errorf("missing xi-api-key header, got %q", got)
		}
		json.NewEncoder(w).Encode(voicesResponse{Voices: []elevenLabsVoice{
			{VoiceID: "v1", Name: "Alpha"},
		}})
	}))
	defer srv.Close()

	p, err := New("key-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.voicesURL = srv.URL

	voices, err := p.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("unexpected voices: %+v", voices)
	}
}
