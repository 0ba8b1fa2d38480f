package resilience

import (
	"context"

	"github.com/interpres-live/interpres/pkg/provider/translate"
)

// TranslatorFallback implements [translate.Provider] with automatic failover
// across multiple translation backends. Each backend has its own circuit
// breaker.
//
// The hedged-timeout escalation from primary to fallback is the translation
// client's job; this type covers hard failures and open circuits.
type TranslatorFallback struct {
	group *FallbackGroup[translate.Provider]
}

// Compile-time interface assertion.
var _ translate.Provider = (*TranslatorFallback)(nil)

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend.
func NewTranslatorFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslatorFallback {
	cfg.Stage = "translate"
	return &TranslatorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation provider as a fallback.
func (f *TranslatorFallback) AddFallback(name string, provider translate.Provider) {
	f.group.AddFallback(name, provider)
}

// Translate fans the request out to the first healthy provider.
func (f *TranslatorFallback) Translate(ctx context.Context, req translate.Request) ([]translate.Result, error) {
	return ExecuteWithResult(f.group, func(p translate.Provider) ([]translate.Result, error) {
		return p.Translate(ctx, req)
	})
}

// DetectLanguage identifies the language of text using the first healthy
// provider.
func (f *TranslatorFallback) DetectLanguage(ctx context.Context, text string) (string, error) {
	return ExecuteWithResult(f.group, func(p translate.Provider) (string, error) {
		return p.DetectLanguage(ctx, text)
	})
}
