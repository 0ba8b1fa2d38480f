// Package elevenlabs provides an ElevenLabs-backed synthesis provider using
// the ElevenLabs streaming WebSocket API. It implements the synth.Provider
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/interpres-live/interpres/pkg/audio"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000"). Duration measurement only works for pcm_* formats.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithWSEndpoint overrides the WebSocket endpoint format string. Used by
// tests to point at a local server.
func WithWSEndpoint(format string) Option {
	return func(p *Provider) {
		p.wsEndpoint = format
	}
}

// Provider implements synth.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	wsEndpoint   string
	voicesURL    string
	httpClient   *http.Client
}

// Compile-time assertion that Provider satisfies synth.Provider.
var _ synth.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsEndpoint:   wsEndpointFmt,
		voicesURL:    voicesEndpoint,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object. Speed is the
// prosody rate multiplier (1.0 = normal) used for the fast profile.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// boiMessage is the initial "begin of input" handshake payload.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// textMessage is the JSON payload for each text fragment.
type textMessage struct {
	Text string `json:"text"`
}

// audioResponse is a JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Synthesize implements synth.Provider. It opens a stream-input WebSocket,
// sends the full item text, flushes, and collects audio until the final
// message arrives.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Audio, error) {
	if req.Voice == "" {
		return nil, errors.New("elevenlabs: req.Voice must not be empty")
	}
	if req.Text == "" {
		return nil, errors.New("elevenlabs: req.Text must not be empty")
	}

	wsURL := fmt.Sprintf(p.wsEndpoint, req.Voice, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: settingsFor(req),
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: req.Text + " "}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// Empty text flushes the stream and closes generation.
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	var data []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// Server closes the socket after the final chunk; anything read
			// so far is the complete utterance.
			if len(data) > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			data = append(data, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	if len(data) == 0 {
		return nil, errors.New("elevenlabs: no audio in response")
	}

	return &synth.Audio{
		Data:       data,
		Format:     p.outputFormat,
		DurationMs: pcmDuration(p.outputFormat, data),
	}, nil
}

// settingsFor maps the synthesis profile onto ElevenLabs voice settings.
func settingsFor(req synth.Request) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if req.Profile == types.ProfileFast && req.RateBoostPct > 0 {
		vs.Speed = 1 + float64(req.RateBoostPct)/100
	}
	return vs
}

// pcmDuration measures the duration of pcm_<rate> data; other formats
// return 0.
func pcmDuration(format string, data []byte) int {
	rate := 0
	switch format {
	case "pcm_16000":
		rate = 16000
	case "pcm_22050":
		rate = 22050
	case "pcm_24000":
		rate = 24000
	case "pcm_44100":
		rate = 44100
	}
	if rate == 0 {
		return 0
	}
	return audio.PCMDurationMs(data, rate, 1)
}

// writeJSON marshals v and writes it as a text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- Voices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// Voices implements synth.Provider.
func (p *Provider) Voices(ctx context.Context) ([]synth.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return convertVoices(vr), nil
}

// convertVoices maps the ElevenLabs catalogue onto synth.Voice values.
func convertVoices(vr voicesResponse) []synth.Voice {
	voices := make([]synth.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, synth.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return voices
}
