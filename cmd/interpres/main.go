// Command interpres is the main entry point for the Interpres translation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/redis/go-redis/v9"

	"github.com/interpres-live/interpres/internal/config"
	"github.com/interpres-live/interpres/internal/health"
	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/internal/resilience"
	"github.com/interpres-live/interpres/internal/room"
	"github.com/interpres-live/interpres/internal/server"
	"github.com/interpres-live/interpres/internal/state"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/provider/synth/elevenlabs"
	oaisynth "github.com/interpres-live/interpres/pkg/provider/synth/openai"
	"github.com/interpres-live/interpres/pkg/provider/translate"
	"github.com/interpres-live/interpres/pkg/provider/translate/azure"
	llmtranslate "github.com/interpres-live/interpres/pkg/provider/translate/llm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "interpres: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "interpres: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("interpres starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "interpres",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	translator, translatorFallback, synthesizer, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── State store ───────────────────────────────────────────────────────────
	store := buildStore(ctx, cfg.Store)

	// ── Rooms and HTTP surface ────────────────────────────────────────────────
	hub := room.NewHub(ctx, translator, translatorFallback, synthesizer, store,
		cfg.Rooms.Defaults, cfg.Core, metrics)

	probes := health.New(
		health.TranslatorCheck(translator),
		health.SynthesizerCheck(synthesizer),
		health.StoreCheck(store.Ping),
	)
	srv := server.New(hub, cfg, probes, metrics)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RoomDefaultsChanged {
			hub.SetDefaults(new.Rooms.Defaults)
			slog.Info("room defaults updated; applies to rooms created from now on",
				"target_langs_changed", d.TargetLangsChanged,
				"voice_changes", len(d.VoiceChanges),
			)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("serve error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	// Stop accepting connections first, then drain the rooms so final state
	// lands in the store.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	hub.Shutdown()

	if err := store.Close(); err != nil {
		slog.Warn("store close error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmTranslatorNames are the translator backends served through the any-llm
// chat API rather than a dedicated translation service.
var llmTranslatorNames = []string{
	"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Translators ───────────────────────────────────────────────────────────

	reg.RegisterTranslator("azure", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []azure.Option
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithEndpoint(entry.BaseURL))
		}
		if region := optString(entry.Options, "region"); region != "" {
			opts = append(opts, azure.WithRegion(region))
		}
		return azure.New(entry.APIKey, opts...)
	})

	// The LLM-backed translators share one pattern: optional APIKey + BaseURL.
	for _, providerName := range llmTranslatorNames {
		reg.RegisterTranslator(providerName, func(entry config.ProviderEntry) (translate.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return llmtranslate.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterTranslator("ollama", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llmtranslate.New("ollama", entry.Model, opts...)
	})

	// ── Synthesizers ──────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("elevenlabs", func(entry config.ProviderEntry) (synth.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesizer("openai", func(entry config.ProviderEntry) (synth.Provider, error) {
		var opts []oaisynth.Option
		if entry.Model != "" {
			opts = append(opts, oaisynth.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaisynth.WithBaseURL(entry.BaseURL))
		}
		return oaisynth.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the translator, its optional fallback, and the
// synthesizer named in cfg. Each backend gets its own circuit breaker; a
// configured synthesizer fallback is folded into one failover group because
// the synthesis lane talks to a single provider.
func buildProviders(cfg *config.Config, reg *config.Registry) (translate.Provider, translate.Provider, synth.Provider, error) {
	fbCfg := resilience.FallbackConfig{}

	var translator, translatorFallback translate.Provider

	if name := cfg.Providers.Translator.Name; name != "" {
		p, err := reg.CreateTranslator(cfg.Providers.Translator)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create translator %q: %w", name, err)
		}
		translator = resilience.NewTranslatorFallback(p, name, fbCfg)
		slog.Info("provider created", "kind", "translator", "name", name)
	}

	if name := cfg.Providers.TranslatorFallback.Name; name != "" {
		p, err := reg.CreateTranslator(cfg.Providers.TranslatorFallback)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create translator fallback %q: %w", name, err)
		}
		translatorFallback = resilience.NewTranslatorFallback(p, name, fbCfg)
		slog.Info("provider created", "kind", "translator_fallback", "name", name)
	}

	var synthesizer synth.Provider

	if name := cfg.Providers.Synthesizer.Name; name != "" {
		p, err := reg.CreateSynthesizer(cfg.Providers.Synthesizer)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create synthesizer %q: %w", name, err)
		}
		group := resilience.NewSynthFallback(p, name, fbCfg)
		slog.Info("provider created", "kind", "synthesizer", "name", name)

		if fbName := cfg.Providers.SynthesizerFallback.Name; fbName != "" {
			fb, err := reg.CreateSynthesizer(cfg.Providers.SynthesizerFallback)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("create synthesizer fallback %q: %w", fbName, err)
			}
			group.AddFallback(fbName, fb)
			slog.Info("provider created", "kind", "synthesizer_fallback", "name", fbName)
		}
		synthesizer = group
	}

	return translator, translatorFallback, synthesizer, nil
}

// ── State store ───────────────────────────────────────────────────────────────

// buildStore connects the configured state backend. An unreachable backend
// degrades to the in-memory store so rooms still run; rehydration is simply
// unavailable until the next restart.
func buildStore(ctx context.Context, cfg config.StoreConfig) state.Store {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch cfg.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unreachable, falling back to in-memory store", "addr", cfg.RedisAddr, "err", err)
			_ = client.Close()
			return state.NewMemoryStore()
		}
		slog.Info("state store connected", "backend", "redis", "addr", cfg.RedisAddr)
		var opts []state.RedisOption
		if cfg.RedisKeyPrefix != "" {
			opts = append(opts, state.WithRedisPrefix(cfg.RedisKeyPrefix))
		}
		return state.NewRedisStore(client, opts...)

	case config.StorePostgres:
		st, err := state.NewPostgresStore(pingCtx, cfg.PostgresDSN)
		if err != nil {
			slog.Warn("postgres unreachable, falling back to in-memory store", "err", err)
			return state.NewMemoryStore()
		}
		slog.Info("state store connected", "backend", "postgres")
		return st

	default:
		return state.NewMemoryStore()
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Interpres — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Translator", cfg.Providers.Translator.Name, cfg.Providers.Translator.Model)
	printProvider("Fallback", cfg.Providers.TranslatorFallback.Name, cfg.Providers.TranslatorFallback.Model)
	printProvider("Synthesizer", cfg.Providers.Synthesizer.Name, cfg.Providers.Synthesizer.Model)
	printProvider("Synth fb", cfg.Providers.SynthesizerFallback.Name, cfg.Providers.SynthesizerFallback.Model)
	fmt.Printf("║  Store           : %-19s ║\n", string(cfg.Store.Backend))
	src := cfg.Rooms.Defaults.SourceLang
	if src == "" {
		src = "(auto-detect)"
	}
	fmt.Printf("║  Source lang     : %-19s ║\n", src)
	fmt.Printf("║  Target langs    : %-19d ║\n", len(cfg.Rooms.Defaults.DefaultTargetLangs))
	fmt.Printf("║  Voices mapped   : %-19d ║\n", len(cfg.Rooms.Defaults.Voices))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
