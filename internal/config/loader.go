package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"translator":  {"azure", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"synthesizer": {"elevenlabs", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("translator", cfg.Providers.Translator.Name)
	validateProviderName("translator", cfg.Providers.TranslatorFallback.Name)
	validateProviderName("synthesizer", cfg.Providers.Synthesizer.Name)
	validateProviderName("synthesizer", cfg.Providers.SynthesizerFallback.Name)

	if cfg.Providers.Translator.Name == "" {
		slog.Warn("no translator configured; rooms will serve source text only")
	}
	if cfg.Providers.Synthesizer.Name == "" {
		slog.Warn("no synthesizer configured; listeners will receive text-only segments")
	}

	// Store
	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, redis, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StoreRedis && cfg.Store.RedisAddr == "" {
		errs = append(errs, errors.New("store.redis_addr is required when store.backend is redis"))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	// Room defaults
	d := cfg.Rooms.Defaults
	if d.SourceLang == "" && len(d.AutoDetectLangs) == 0 {
		slog.Warn("rooms.defaults has neither source_lang nor auto_detect_langs; patches must carry their own source language")
	}
	if len(d.AutoDetectLangs) > 4 {
		errs = append(errs, fmt.Errorf("rooms.defaults.auto_detect_langs has %d entries; at most 4 are allowed", len(d.AutoDetectLangs)))
	}
	for lang, v := range d.Voices {
		if v.VoiceID == "" {
			errs = append(errs, fmt.Errorf("rooms.defaults.voices[%q].voice_id is required", lang))
		}
	}
	for _, lang := range d.DefaultTargetLangs {
		if _, ok := d.Voices[lang]; !ok {
			slog.Warn("default target language has no voice mapping; segments will be text-only", "lang", lang)
		}
	}

	// Core tuning
	c := cfg.Core
	if c.TTSResumeBacklogSec >= c.TTSMaxBacklogSec {
		errs = append(errs, fmt.Errorf("core.tts_resume_backlog_sec (%d) must be less than core.tts_max_backlog_sec (%d)", c.TTSResumeBacklogSec, c.TTSMaxBacklogSec))
	}
	if c.TTSRateBoostPct < 0 || c.TTSRateBoostPct > 100 {
		errs = append(errs, fmt.Errorf("core.tts_rate_boost_pct %d is out of range [0, 100]", c.TTSRateBoostPct))
	}
	if c.SoftThrottleMs < 0 || c.SoftMinDeltaChars < 0 || c.FinalDebounceMs < 0 {
		errs = append(errs, errors.New("core soft/debounce intervals must not be negative"))
	}
	if c.TranslateTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("core.translate_timeout_ms must be positive, got %d", c.TranslateTimeoutMs))
	}
	if c.PatchLRUPerRoom < 1 {
		errs = append(errs, fmt.Errorf("core.patch_lru_per_room must be at least 1, got %d", c.PatchLRUPerRoom))
	}
	if c.ListenerQueueMsgs < 1 || c.ListenerQueueBytes < 1 {
		errs = append(errs, errors.New("core listener queue limits must be positive"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
