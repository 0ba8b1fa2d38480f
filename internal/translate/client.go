// Package translate runs the translation fan-out for stabilized units:
// per-room memoization, request coalescing, and hedged failover from the
// primary to the fallback backend.
package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/interpres-live/interpres/internal/observe"
	provider "github.com/interpres-live/interpres/pkg/provider/translate"
	"github.com/interpres-live/interpres/pkg/types"
)

// Config holds the client tuning knobs.
type Config struct {
	// PrimaryName and FallbackName label the backends in logs and metrics.
	PrimaryName  string
	FallbackName string

	// Timeout is the hedge: when the primary has not answered within it, the
	// fallback is tried. The primary's own call is cancelled at that point.
	Timeout time.Duration

	// MemoSize caps the translation memo (entries).
	MemoSize int
}

// Client translates unit text with memoization and failover. One Client
// serves one room, so memo locality follows the room's vocabulary.
//
// Client is safe for concurrent use.
type Client struct {
	primary  provider.Provider
	fallback provider.Provider
	cfg      Config
	memo     *memo
	sf       singleflight.Group
	metrics  *observe.Metrics
}

// NewClient creates a Client. fallback may be nil. metrics may be nil, in
// which case the package-level default instruments are used.
func NewClient(primary, fallback provider.Provider, cfg Config, m *observe.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.PrimaryName == "" {
		cfg.PrimaryName = "primary"
	}
	if cfg.FallbackName == "" {
		cfg.FallbackName = "fallback"
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Client{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		memo:     newMemo(cfg.MemoSize),
		metrics:  m,
	}
}

// Translate produces a translation for every target language. srcSentLen is
// the source sentence span vector; every returned translation carries a span
// vector of the same length. Identical requests are answered from the memo,
// and concurrent identical requests share one provider call.
//
// A nil error guarantees an entry per target. On error the caller should fall
// back to source text.
func (c *Client) Translate(ctx context.Context, srcText, srcLang string, srcSentLen []int, targets []string) (map[string]types.Translation, error) {
	if len(targets) == 0 {
		return map[string]types.Translation{}, nil
	}
	if c.primary == nil {
		return nil, errors.New("translate: no provider configured")
	}

	key := memoKey(srcText, srcLang, targets)
	if cached, ok := c.memo.Get(key); ok {
		c.metrics.RecordTranslateCache(ctx, true)
		return cached, nil
	}
	c.metrics.RecordTranslateCache(ctx, false)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// A concurrent caller may have populated the memo while this call
		// waited on the singleflight lock.
		if cached, ok := c.memo.Get(key); ok {
			return cached, nil
		}

		results, err := c.fanOut(ctx, provider.Request{
			Text:        srcText,
			SrcLang:     srcLang,
			TargetLangs: targets,
		})
		if err != nil {
			return nil, err
		}

		out := c.assemble(srcText, srcSentLen, targets, results)
		c.memo.Put(key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]types.Translation), nil
}

// Detect identifies the language of text, hedging to the fallback backend the
// same way Translate does.
func (c *Client) Detect(ctx context.Context, text string) (string, error) {
	if c.primary == nil {
		return "", errors.New("translate: no provider configured")
	}

	hedged, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	lang, err := c.primary.DetectLanguage(hedged, text)
	cancel()
	if err == nil {
		c.metrics.RecordProviderRequest(ctx, c.cfg.PrimaryName, "detect", "ok")
		return lang, nil
	}
	c.metrics.RecordProviderError(ctx, c.cfg.PrimaryName, "detect")

	if c.fallback == nil {
		return "", fmt.Errorf("translate: detect: %w", err)
	}
	lang, ferr := c.fallback.DetectLanguage(ctx, text)
	if ferr != nil {
		c.metrics.RecordProviderError(ctx, c.cfg.FallbackName, "detect")
		return "", fmt.Errorf("translate: detect: %w", errors.Join(err, ferr))
	}
	c.metrics.RecordProviderRequest(ctx, c.cfg.FallbackName, "detect", "ok")
	return lang, nil
}

// fanOut runs the hedged primary-then-fallback call.
func (c *Client) fanOut(ctx context.Context, req provider.Request) ([]provider.Result, error) {
	start := time.Now()
	hedged, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	results, err := c.primary.Translate(hedged, req)
	cancel()
	if err == nil {
		c.metrics.RecordProviderRequest(ctx, c.cfg.PrimaryName, "translate", "ok")
		c.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
		return results, nil
	}
	c.metrics.RecordProviderError(ctx, c.cfg.PrimaryName, "translate")

	if c.fallback == nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	results, ferr := c.fallback.Translate(ctx, req)
	if ferr != nil {
		c.metrics.RecordProviderError(ctx, c.cfg.FallbackName, "translate")
		return nil, fmt.Errorf("translate: %w", errors.Join(err, ferr))
	}
	c.metrics.RecordProviderRequest(ctx, c.cfg.FallbackName, "translate", "ok")
	c.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	return results, nil
}

// assemble maps provider results onto the target set, aligning sentence
// spans. Targets the provider skipped fall back to source text so the
// guarantee of one entry per target always holds.
func (c *Client) assemble(srcText string, srcSentLen []int, targets []string, results []provider.Result) map[string]types.Translation {
	byLang := make(map[string]provider.Result, len(results))
	for _, r := range results {
		byLang[r.Lang] = r
	}

	out := make(map[string]types.Translation, len(targets))
	for _, lang := range targets {
		r, ok := byLang[lang]
		if !ok {
			out[lang] = types.Translation{
				Lang:         lang,
				Text:         srcText,
				TransSentLen: srcSentLen,
			}
			continue
		}
		out[lang] = types.Translation{
			Lang:         lang,
			Text:         r.Text,
			TransSentLen: alignSentenceSpans(srcSentLen, r.Text),
		}
	}
	return out
}
