// Package synth defines the Provider interface for speech synthesis
// backends.
//
// A synthesis provider wraps a TTS service (ElevenLabs, OpenAI speech, or a
// test mock) and synthesises one queue item at a time into a complete audio
// buffer. Streaming within an item is an implementation detail; the TTS
// queue hands out whole items and broadcasts whole buffers, so the interface
// is request/response.
//
// Implementations must be safe for concurrent use; the hub runs one
// synthesis per (room, language) but many rooms share a provider.
package synth

import (
	"context"

	"github.com/interpres-live/interpres/pkg/types"
)

// Request describes one synthesis job.
type Request struct {
	// Text is the text to speak. Never empty.
	Text string

	// Lang is the language of Text (BCP-47). Some backends use it to pick
	// pronunciation rules; others infer from the voice.
	Lang string

	// Voice is the provider-specific voice ID.
	Voice string

	// Profile selects normal or fast prosody. How "fast" is realised is the
	// backend's choice (a speed parameter or a dedicated fast voice).
	Profile types.SynthesisProfile

	// RateBoostPct is the percentage speed increase applied when Profile is
	// fast and the backend supports a numeric rate (25 means +25%).
	RateBoostPct int
}

// Audio is a complete synthesized utterance.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Format names the encoding, e.g. "pcm_16000" or "mp3".
	Format string

	// DurationMs is the measured audio duration when the format allows
	// computing it, else zero.
	DurationMs int
}

// Voice describes one available voice.
type Voice struct {
	ID       string
	Name     string
	Provider string

	// Metadata holds provider-specific attributes (gender, accent, …).
	Metadata map[string]string
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders req.Text as speech. It blocks until the full buffer
	// is available or ctx is done.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// Voices returns the provider's current voice catalogue. Also used as a
	// reachability probe by the readiness checker.
	Voices(ctx context.Context) ([]Voice, error)
}
