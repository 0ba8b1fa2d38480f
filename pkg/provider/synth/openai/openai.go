// Package openai provides a synthesis provider backed by the OpenAI speech
// API. It implements the synth.Provider interface.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/interpres-live/interpres/pkg/audio"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/types"
)

// pcmSampleRate is the fixed sample rate of the OpenAI "pcm" response
// format (24 kHz, 16-bit, mono).
const pcmSampleRate = 24000

// defaultModel is used when no model option is given.
const defaultModel = "gpt-4o-mini-tts"

// openAIVoices is the fixed voice catalogue of the speech API; OpenAI has no
// list endpoint.
var openAIVoices = []string{
	"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer",
}

// Provider implements synth.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model (e.g. "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Compile-time assertion that Provider satisfies synth.Provider.
var _ synth.Provider = (*Provider)(nil)

// New constructs a new OpenAI speech Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Synthesize implements synth.Provider. The response is requested as raw PCM
// so its duration can be measured exactly.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Audio, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai: req.Text must not be empty")
	}
	if req.Voice == "" {
		return nil, fmt.Errorf("openai: req.Voice must not be empty")
	}

	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if speed := speedFor(req); speed != 1 {
		params.Speed = oai.Float(speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai: empty speech response")
	}

	return &synth.Audio{
		Data:       data,
		Format:     fmt.Sprintf("pcm_%d", pcmSampleRate),
		DurationMs: audio.PCMDurationMs(data, pcmSampleRate, 1),
	}, nil
}

// speedFor maps the synthesis profile onto the speech API speed parameter
// (0.25–4.0, 1.0 = normal).
func speedFor(req synth.Request) float64 {
	if req.Profile == types.ProfileFast && req.RateBoostPct > 0 {
		return 1 + float64(req.RateBoostPct)/100
	}
	return 1
}

// Voices implements synth.Provider. The catalogue is static; the models
// endpoint is pinged so the call still works as a reachability probe.
func (p *Provider) Voices(ctx context.Context) ([]synth.Voice, error) {
	if _, err := p.client.Models.List(ctx); err != nil {
		return nil, fmt.Errorf("openai: reachability probe: %w", err)
	}

	voices := make([]synth.Voice, 0, len(openAIVoices))
	for _, id := range openAIVoices {
		voices = append(voices, synth.Voice{
			ID:       id,
			Name:     id,
			Provider: "openai",
		})
	}
	return voices, nil
}
