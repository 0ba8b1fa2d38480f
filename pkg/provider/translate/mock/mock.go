// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/interpres-live/interpres/pkg/provider/translate"
)

// TranslateCall records the arguments of one Translate invocation.
type TranslateCall struct {
	Req translate.Request
}

// Provider is a configurable mock translator. Zero value is usable: it
// echoes the source text prefixed with the target language, which keeps
// sentence boundaries intact for alignment tests.
//
// Provider is safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// TranslateFunc, when set, fully replaces the default behaviour.
	TranslateFunc func(ctx context.Context, req translate.Request) ([]translate.Result, error)

	// Err, when set, is returned by every Translate call.
	Err error

	// DetectResult and DetectErr configure DetectLanguage.
	DetectResult string
	DetectErr    error

	// TranslateCalls records every Translate invocation in order.
	TranslateCalls []TranslateCall
}

// Compile-time assertion that Provider satisfies translate.Provider.
var _ translate.Provider = (*Provider)(nil)

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, req translate.Request) ([]translate.Result, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Req: req})
	fn := p.TranslateFunc
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	results := make([]translate.Result, 0, len(req.TargetLangs))
	for _, lang := range req.TargetLangs {
		results = append(results, translate.Result{
			Lang: lang,
			Text: "[" + lang + "] " + req.Text,
		})
	}
	return results, nil
}

// DetectLanguage implements translate.Provider.
func (p *Provider) DetectLanguage(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DetectErr != nil {
		return "", p.DetectErr
	}
	if p.DetectResult != "" {
		return p.DetectResult, nil
	}
	return "en", nil
}

// Calls returns a snapshot of recorded Translate calls.
func (p *Provider) Calls() []TranslateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranslateCall, len(p.TranslateCalls))
	copy(out, p.TranslateCalls)
	return out
}
