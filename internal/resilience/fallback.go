package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] fails or
// has an open circuit breaker. For the translation stage the caller degrades
// to the identity fallback; for synthesis the item completes text-only.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Stage labels the pipeline stage the group serves ("translate",
	// "synthesize") in log output. The typed wrappers set it.
	Stage string

	// CircuitBreaker is the per-backend breaker configuration.
	CircuitBreaker CircuitBreakerConfig
}

// backend pairs one provider instance with its dedicated circuit breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary and zero or more fallback backends of one
// pipeline stage. When the primary fails, or its circuit is open after
// repeated failures, the next healthy backend takes the call in registration
// order. This covers hard provider outages; the latency-hedged escalation
// for slow-but-alive translators lives in the translation client.
//
// FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first
// backend. Additional backends are registered via
// [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = primaryName
	return &FallbackGroup[T]{
		backends: []backend[T]{
			{
				name:    primaryName,
				value:   primary,
				breaker: NewCircuitBreaker(cbCfg),
			},
		},
		cfg: cfg,
	}
}

// AddFallback appends a fallback backend. Fallbacks are tried in the order
// they are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.backends = append(fg.backends, backend[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute tries fn against each backend in order until one succeeds.
// Open-circuit backends are skipped. Returns [ErrAllFailed] wrapped with the
// last error if every backend fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.backends {
		b := &fg.backends[i]
		err := b.breaker.Execute(func() error {
			return fn(b.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open circuit",
				"stage", fg.cfg.Stage, "backend", b.name)
		} else {
			slog.Warn("backend failed, trying next",
				"stage", fg.cfg.Stage, "backend", b.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult tries fn against each backend in the group until one
// succeeds, returning the result. A package-level function because Go does
// not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.backends {
		b := &fg.backends[i]
		var result R
		err := b.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(b.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open circuit",
				"stage", fg.cfg.Stage, "backend", b.name)
		} else {
			slog.Warn("backend failed, trying next",
				"stage", fg.cfg.Stage, "backend", b.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
