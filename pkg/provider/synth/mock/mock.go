// Package mock provides a test double for the synth.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/interpres-live/interpres/pkg/audio"
	"github.com/interpres-live/interpres/pkg/provider/synth"
)

// SynthesizeCall records the arguments of one Synthesize invocation.
type SynthesizeCall struct {
	Req synth.Request
}

// Provider is a configurable mock synthesizer. Zero value is usable: it
// returns a silent PCM buffer whose duration matches the speech estimate for
// the request text, so pacing and backlog tests see realistic timings.
//
// Provider is safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc, when set, fully replaces the default behaviour.
	SynthesizeFunc func(ctx context.Context, req synth.Request) (*synth.Audio, error)

	// Err, when set, is returned by every Synthesize call.
	Err error

	// VoicesResult and VoicesErr configure Voices.
	VoicesResult []synth.Voice
	VoicesErr    error

	// SynthesizeCalls records every Synthesize invocation in order.
	SynthesizeCalls []SynthesizeCall
}

// Compile-time assertion that Provider satisfies synth.Provider.
var _ synth.Provider = (*Provider)(nil)

// Synthesize implements synth.Provider.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Req: req})
	fn := p.SynthesizeFunc
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	durMs := audio.EstimateSpeechDurationMs(req.Text)
	// 16 kHz mono s16le: 32 bytes per millisecond.
	return &synth.Audio{
		Data:       make([]byte, durMs*32),
		Format:     "pcm_16000",
		DurationMs: durMs,
	}, nil
}

// Voices implements synth.Provider.
func (p *Provider) Voices(_ context.Context) ([]synth.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VoicesErr != nil {
		return nil, p.VoicesErr
	}
	if p.VoicesResult != nil {
		return p.VoicesResult, nil
	}
	return []synth.Voice{{ID: "mock-voice", Name: "Mock", Provider: "mock"}}, nil
}

// Calls returns a snapshot of recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}
