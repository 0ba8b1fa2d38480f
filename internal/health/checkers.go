package health

import (
	"context"
	"errors"

	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/provider/translate"
)

// TranslatorCheck probes a translation provider by running a language
// detection on a short fixed phrase.
func TranslatorCheck(p translate.Provider) Checker {
	return Checker{
		Name: "translator",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("no translator configured")
			}
			_, err := p.DetectLanguage(ctx, "ready check")
			return err
		},
	}
}

// SynthesizerCheck probes a synthesis provider by listing its voices.
func SynthesizerCheck(p synth.Provider) Checker {
	return Checker{
		Name: "synthesizer",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("no synthesizer configured")
			}
			_, err := p.Voices(ctx)
			return err
		},
	}
}

// StoreCheck wraps a state store's ping function.
func StoreCheck(ping func(ctx context.Context) error) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if ping == nil {
				return nil
			}
			return ping(ctx)
		},
	}
}
