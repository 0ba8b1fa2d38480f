// Package translate defines the Provider interface for machine translation
// backends.
//
// A translation provider wraps a remote MT service (Azure Translator, an LLM
// behind any-llm-go, or a test mock) and presents a uniform batch interface:
// one source text, many target languages, one result per target. Sentence
// alignment and memoization live above this interface in internal/translate;
// providers only move text.
//
// Implementations must be safe for concurrent use.
package translate

import "context"

// Request is a single batch translation call: one source text into one or
// more target languages.
type Request struct {
	// Text is the source text. Never empty.
	Text string

	// SrcLang is the source language (BCP-47), or "" to let the provider
	// detect it.
	SrcLang string

	// TargetLangs lists the requested target languages. Results must cover
	// every entry.
	TargetLangs []string
}

// Result is the translation of the request text into one target language.
type Result struct {
	// Lang is the target language this result belongs to.
	Lang string

	// Text is the translated text.
	Text string

	// DetectedLang is the source language the provider detected, when the
	// request omitted SrcLang. May be empty.
	DetectedLang string
}

// Provider is the abstraction over any machine translation backend.
//
// Translate returns one Result per requested target language, in request
// order. A batch either succeeds for all targets or fails as a whole; the
// caller handles per-language fallback.
type Provider interface {
	Translate(ctx context.Context, req Request) ([]Result, error)

	// DetectLanguage returns the BCP-47 language of text. Providers without a
	// detection endpoint may return an error; callers treat the incoming
	// source language as authoritative and use detection opportunistically.
	DetectLanguage(ctx context.Context, text string) (string, error)
}
