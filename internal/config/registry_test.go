package config

import (
	"errors"
	"testing"

	"github.com/interpres-live/interpres/pkg/provider/synth"
	synthmock "github.com/interpres-live/interpres/pkg/provider/synth/mock"
	"github.com/interpres-live/interpres/pkg/provider/translate"
	translatemock "github.com/interpres-live/interpres/pkg/provider/translate/mock"
)

func TestRegistry(t *testing.T) {
	t.Run("create registered translator", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterTranslator("mock", func(e ProviderEntry) (translate.Provider, error) {
			if e.APIKey != "key-1" {
				t.Errorf("entry not passed through: %+v", e)
			}
			return &translatemock.Provider{}, nil
		})

		p, err := r.CreateTranslator(ProviderEntry{Name: "mock", APIKey: "key-1"})
		if err != nil {
			t.Fatalf("CreateTranslator: %v", err)
		}
		if p == nil {
			t.Fatal("expected provider")
		}
	})

	t.Run("create registered synthesizer", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterSynthesizer("mock", func(ProviderEntry) (synth.Provider, error) {
			return &synthmock.Provider{}, nil
		})

		if _, err := r.CreateSynthesizer(ProviderEntry{Name: "mock"}); err != nil {
			t.Fatalf("CreateSynthesizer: %v", err)
		}
	})

	t.Run("unregistered name", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.CreateTranslator(ProviderEntry{Name: "nope"})
		if !errors.Is(err, ErrProviderNotRegistered) {
			t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
		}
	})
}
