package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/interpres-live/interpres/pkg/types"
)

func validPatch() types.Patch {
	return types.Patch{
		UnitID:  "sess-1|en|42",
		Version: 7,
		Stage:   types.StageSoft,
		Op:      types.OpReplace,
		Text:    "Hello there.",
		SrcLang: "en",
	}
}

func TestValidatePatch(t *testing.T) {
	if err := ValidatePatch(validPatch()); err != nil {
		t.Fatalf("valid patch rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*types.Patch)
	}{
		{"missing unit id", func(p *types.Patch) { p.UnitID = "" }},
		{"unit id without counter", func(p *types.Patch) { p.UnitID = "sess|en" }},
		{"unit id with pipe in session", func(p *types.Patch) { p.UnitID = "se|ss|en|1" }},
		{"unit id with non-numeric counter", func(p *types.Patch) { p.UnitID = "sess|en|abc" }},
		{"version out of range", func(p *types.Patch) { p.Version = 1 << 31 }},
		{"unknown stage", func(p *types.Patch) { p.Stage = "draft" }},
		{"unknown op", func(p *types.Patch) { p.Op = "append" }},
		{"oversized text", func(p *types.Patch) { p.Text = strings.Repeat("a", maxTextBytes+1) }},
		{"bad lang tag", func(p *types.Patch) { p.SrcLang = "english!" }},
		{"too many timestamps", func(p *types.Patch) { p.Ts = []int64{1, 2, 3} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPatch()
			tt.mutate(&p)
			err := ValidatePatch(p)
			if !errors.Is(err, ErrInvalidPatch) {
				t.Errorf("err = %v, want ErrInvalidPatch", err)
			}
		})
	}

	t.Run("boundary values pass", func(t *testing.T) {
		p := validPatch()
		p.Version = 0
		p.Text = strings.Repeat("a", maxTextBytes)
		p.SrcLang = "zh-Hans-CN"
		p.Ts = []int64{0, 1200}
		if err := ValidatePatch(p); err != nil {
			t.Errorf("boundary patch rejected: %v", err)
		}
	})

	t.Run("empty text and lang are allowed", func(t *testing.T) {
		p := validPatch()
		p.Text = ""
		p.SrcLang = ""
		if err := ValidatePatch(p); err != nil {
			t.Errorf("err = %v", err)
		}
	})
}

func TestValidateRoomSlug(t *testing.T) {
	for _, slug := range []string{"plenary", "room-1", "a", "x_2"} {
		if err := ValidateRoomSlug(slug); err != nil {
			t.Errorf("%q rejected: %v", slug, err)
		}
	}
	for _, slug := range []string{"", "Plenary", "room/1", "-lead", strings.Repeat("a", 65)} {
		if err := ValidateRoomSlug(slug); err == nil {
			t.Errorf("%q accepted", slug)
		}
	}
}
