package server

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/interpres-live/interpres/pkg/types"
)

// ErrInvalidPatch wraps all patch validation failures; the HTTP layer maps it
// to 400.
var ErrInvalidPatch = errors.New("invalid patch")

const (
	// maxTextBytes caps patch text; anything larger is not live speech.
	maxTextBytes = 16 << 10

	// maxVersion keeps versions representable in clients using signed 32-bit
	// integers.
	maxVersion = 1<<31 - 1
)

var (
	unitIDPattern  = regexp.MustCompile(`^[^|]+\|[^|]+\|\d+$`)
	srcLangPattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{1,8})*$`)
)

// ValidatePatch checks a patch against the ingest contract before it reaches
// a room. The first violation found is returned, wrapped in
// [ErrInvalidPatch].
func ValidatePatch(p types.Patch) error {
	if !unitIDPattern.MatchString(p.UnitID) {
		return fmt.Errorf("%w: unitId %q must be sessionId|srcLang|counter", ErrInvalidPatch, p.UnitID)
	}
	if p.Version > maxVersion {
		return fmt.Errorf("%w: version %d out of range", ErrInvalidPatch, p.Version)
	}
	if !p.Stage.IsValid() {
		return fmt.Errorf("%w: stage %q", ErrInvalidPatch, p.Stage)
	}
	if p.Op != types.OpReplace {
		return fmt.Errorf("%w: op %q, only %q is supported", ErrInvalidPatch, p.Op, types.OpReplace)
	}
	if len(p.Text) > maxTextBytes {
		return fmt.Errorf("%w: text %d bytes exceeds %d", ErrInvalidPatch, len(p.Text), maxTextBytes)
	}
	if p.SrcLang != "" && !srcLangPattern.MatchString(p.SrcLang) {
		return fmt.Errorf("%w: srcLang %q is not a BCP-47 tag", ErrInvalidPatch, p.SrcLang)
	}
	if len(p.Ts) > 2 {
		return fmt.Errorf("%w: ts has %d entries, want at most [t0, t1]", ErrInvalidPatch, len(p.Ts))
	}
	return nil
}

// roomSlugPattern restricts room slugs to URL-safe tokens.
var roomSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateRoomSlug checks a room identifier.
func ValidateRoomSlug(slug string) error {
	if !roomSlugPattern.MatchString(slug) {
		return fmt.Errorf("%w: room slug %q", ErrInvalidPatch, slug)
	}
	return nil
}
