package resilience

import (
	"context"

	"github.com/interpres-live/interpres/pkg/provider/synth"
)

// SynthFallback implements [synth.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
type SynthFallback struct {
	group *FallbackGroup[synth.Provider]
}

// Compile-time interface assertion.
var _ synth.Provider = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Provider, primaryName string, cfg FallbackConfig) *SynthFallback {
	cfg.Stage = "synthesize"
	return &SynthFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (f *SynthFallback) AddFallback(name string, provider synth.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders the request with the first healthy provider.
func (f *SynthFallback) Synthesize(ctx context.Context, req synth.Request) (*synth.Audio, error) {
	return ExecuteWithResult(f.group, func(p synth.Provider) (*synth.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}

// Voices returns the voice catalogue of the first healthy provider.
func (f *SynthFallback) Voices(ctx context.Context) ([]synth.Voice, error) {
	return ExecuteWithResult(f.group, func(p synth.Provider) ([]synth.Voice, error) {
		return p.Voices(ctx)
	})
}
