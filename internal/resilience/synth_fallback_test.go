package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/interpres-live/interpres/pkg/provider/synth"
	synthmock "github.com/interpres-live/interpres/pkg/provider/synth/mock"
)

func TestSynthFallback(t *testing.T) {
	ctx := context.Background()
	req := synth.Request{Text: "Guten Tag.", Lang: "de", Voice: "voice-de"}

	t.Run("primary success", func(t *testing.T) {
		primary := &synthmock.Provider{}
		secondary := &synthmock.Provider{}

		f := NewSynthFallback(primary, "primary", FallbackConfig{})
		f.AddFallback("secondary", secondary)

		audio, err := f.Synthesize(ctx, req)
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if audio.DurationMs <= 0 {
			t.Errorf("duration = %d, want positive", audio.DurationMs)
		}
		if len(secondary.Calls()) != 0 {
			t.Error("secondary should not be called when primary succeeds")
		}
	})

	t.Run("failover to secondary", func(t *testing.T) {
		primary := &synthmock.Provider{Err: errors.New("boom")}
		secondary := &synthmock.Provider{}

		f := NewSynthFallback(primary, "primary", FallbackConfig{})
		f.AddFallback("secondary", secondary)

		if _, err := f.Synthesize(ctx, req); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if len(secondary.Calls()) != 1 {
			t.Errorf("secondary calls = %d, want 1", len(secondary.Calls()))
		}
	})

	t.Run("all failed", func(t *testing.T) {
		primary := &synthmock.Provider{Err: errors.New("boom")}

		f := NewSynthFallback(primary, "primary", FallbackConfig{})

		_, err := f.Synthesize(ctx, req)
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("expected ErrAllFailed, got %v", err)
		}
	})

	t.Run("voices", func(t *testing.T) {
		primary := &synthmock.Provider{VoicesErr: errors.New("boom")}
		secondary := &synthmock.Provider{VoicesResult: []synth.Voice{{ID: "v1"}}}

		f := NewSynthFallback(primary, "primary", FallbackConfig{})
		f.AddFallback("secondary", secondary)

		voices, err := f.Voices(ctx)
		if err != nil {
			t.Fatalf("Voices: %v", err)
		}
		if len(voices) != 1 || voices[0].ID != "v1" {
			t.Errorf("unexpected voices: %+v", voices)
		}
	})
}
