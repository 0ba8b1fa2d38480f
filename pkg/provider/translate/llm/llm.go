// Package llm provides a translation provider backed by a chat LLM through
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It implements the translate.Provider interface.
//
// LLM translation is slower and costlier than a dedicated MT service but
// handles idiom and register better; it is typically configured as the
// fallback behind an Azure primary.
//
// Usage:
//
//	p, err := llm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
package llm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/interpres-live/interpres/pkg/provider/translate"
)

// systemPrompt constrains the model to interpreter-grade output: translation
// only, sentence boundaries preserved one-to-one.
const systemPrompt = "You are a simultaneous conference interpreter. Translate the user's text " +
	"into the requested language. Preserve the sentence structure exactly: produce the same " +
	"number of sentences as the input, in the same order. Do not add commentary, notes, or " +
	"quotation marks. Output only the translation."

// detectPrompt asks for a bare BCP-47 tag.
const detectPrompt = "Identify the language of the user's text. Reply with only the BCP-47 " +
	"language tag (for example: en, de, fr-CA, zh-Hans). No other output."

// Provider implements translate.Provider by prompting a chat LLM.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// Compile-time assertion that Provider satisfies translate.Provider.
var _ translate.Provider = (*Provider)(nil)

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". model is the specific model to use
// (e.g. "gpt-4o-mini"). opts are any-llm-go configuration options; without an
// API key option the provider falls back to the conventional environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Translate implements translate.Provider with one completion per target
// language. The batch fails as a whole on the first target that errors, so
// the caller's retry/fallback logic sees all-or-nothing semantics.
func (p *Provider) Translate(ctx context.Context, req translate.Request) ([]translate.Result, error) {
	if len(req.TargetLangs) == 0 {
		return nil, fmt.Errorf("llm: at least one target language is required")
	}

	results := make([]translate.Result, 0, len(req.TargetLangs))
	for _, lang := range req.TargetLangs {
		text, err := p.complete(ctx, translateUserPrompt(req.Text, req.SrcLang, lang))
		if err != nil {
			return nil, fmt.Errorf("llm: translate to %q: %w", lang, err)
		}
		results = append(results, translate.Result{Lang: lang, Text: text})
	}
	return results, nil
}

// DetectLanguage implements translate.Provider.
func (p *Provider) DetectLanguage(ctx context.Context, text string) (string, error) {
	tag, err := p.complete(ctx, detectUserPrompt(text))
	if err != nil {
		return "", fmt.Errorf("llm: detect language: %w", err)
	}
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.ContainsAny(tag, " \n") {
		return "", fmt.Errorf("llm: detect language: model returned %q, not a language tag", tag)
	}
	return tag, nil
}

// complete runs a single non-streaming completion and returns the trimmed
// first-choice content.
func (p *Provider) complete(ctx context.Context, messages []anyllmlib.Message) (string, error) {
	temp := 0.0
	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// translateUserPrompt builds the message pair for one target language.
func translateUserPrompt(text, srcLang, targetLang string) []anyllmlib.Message {
	var sb strings.Builder
	if srcLang != "" {
		fmt.Fprintf(&sb, "Source language: %s. ", srcLang)
	}
	fmt.Fprintf(&sb, "Target language: %s.\n\n%s", targetLang, text)

	return []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: systemPrompt},
		{Role: anyllmlib.RoleUser, Content: sb.String()},
	}
}

// detectUserPrompt builds the message pair for language detection.
func detectUserPrompt(text string) []anyllmlib.Message {
	return []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: detectPrompt},
		{Role: anyllmlib.RoleUser, Content: text},
	}
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}
