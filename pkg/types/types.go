// Package types defines the shared types used across all Interpres packages.
//
// These types form the lingua franca between the ingest surface, the segment
// processor, the translator client, the TTS queue, and the room hub. Each
// package defines its own domain types; cross-cutting data structures live
// here to avoid circular imports.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stage is the stabilisation stage of a speech unit's text.
type Stage string

const (
	// StageSoft marks a partial (interim) transcript that may still change.
	StageSoft Stage = "soft"

	// StageHard marks a finalised transcript. Hard units never regress to soft.
	StageHard Stage = "hard"
)

// IsValid reports whether s is a recognised stage.
func (s Stage) IsValid() bool {
	return s == StageSoft || s == StageHard
}

// OpReplace is the only patch operation: a full replacement of the unit's
// text at the carried version.
const OpReplace = "replace"

// Patch is the only ingest shape. A patch replaces the text of one speech
// unit at a specific version. Patches with a version at or below the stored
// version of the same unit are dropped as stale.
type Patch struct {
	// UnitID identifies the speech unit as "sessionId|srcLang|counter".
	UnitID string `json:"unitId"`

	// Version is the per-unit revision. Must be in [0, 2^31).
	Version uint32 `json:"version"`

	// Stage is soft (partial) or hard (final).
	Stage Stage `json:"stage"`

	// Op is always "replace".
	Op string `json:"op"`

	// Text is the full replacement text. May be empty for a soft erasure.
	Text string `json:"text"`

	// SrcLang is the detected source language as a BCP-47 token. Absent means
	// the room's source policy decides.
	SrcLang string `json:"srcLang,omitempty"`

	// Ts holds optional [t0, t1] millisecond timestamps relative to the
	// capture session start.
	Ts []int64 `json:"ts,omitempty"`

	// TTSFinal marks a hard unit that ends on terminal punctuation and should
	// be spoken.
	TTSFinal bool `json:"ttsFinal,omitempty"`
}

// ParseUnitID splits a unit ID of the form "sessionId|srcLang|counter" into
// its components. Returns an error when the shape does not match.
func ParseUnitID(id string) (sessionID, srcLang string, counter uint64, err error) {
	parts := strings.Split(id, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("types: unit id %q is not sessionId|srcLang|counter", id)
	}
	counter, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("types: unit id %q counter: %w", id, err)
	}
	return parts[0], parts[1], counter, nil
}

// Translation is the machine translation of one segment into one target
// language, with sentence spans preserved.
type Translation struct {
	// Lang is the target language (BCP-47).
	Lang string `json:"lang"`

	// Text is the translated text.
	Text string `json:"text"`

	// TransSentLen holds the rune length of each translated sentence. Always
	// the same cardinality as the source segment's SrcSentLen.
	TransSentLen []int `json:"transSentLen"`
}

// Segment is a stabilised, optionally translated speech unit ready for
// broadcast. Segments are the unit of delivery to listeners and of TTS
// enqueueing.
type Segment struct {
	UnitID  string `json:"unitId"`
	Version uint32 `json:"version"`
	Stage   Stage  `json:"stage"`
	SrcLang string `json:"srcLang"`
	SrcText string `json:"srcText"`

	// SrcSentLen holds the rune length of each source sentence.
	SrcSentLen []int `json:"srcSentLen"`

	// Translations maps target language to its translation. A missing entry
	// for a requested target means translation failed; consumers fall back to
	// SrcText.
	Translations map[string]Translation `json:"translations,omitempty"`

	Ts       []int64 `json:"ts,omitempty"`
	TTSFinal bool    `json:"ttsFinal,omitempty"`
}

// TranslationFor returns the translation for lang, or an identity fallback
// carrying the source text when no translation is present (including when the
// target language equals the source language).
func (s *Segment) TranslationFor(lang string) Translation {
	if t, ok := s.Translations[lang]; ok {
		return t
	}
	return Translation{Lang: lang, Text: s.SrcText, TransSentLen: s.SrcSentLen}
}

// Role scopes what a connected peer sends and receives.
type Role string

const (
	// RoleSpeaker streams patches and heartbeats in; receives source mirrors.
	RoleSpeaker Role = "speaker"

	// RoleListener receives segments and audio for one target language.
	RoleListener Role = "listener"

	// RoleAdmin receives everything a listener does plus advisories.
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSpeaker, RoleListener, RoleAdmin:
		return true
	}
	return false
}

// SynthesisProfile selects the prosody used for a TTS item. The fast profile
// is engaged when the per-language backlog exceeds the configured ceiling and
// reverted once it drains below the resume threshold.
type SynthesisProfile string

const (
	ProfileNormal SynthesisProfile = "normal"
	ProfileFast   SynthesisProfile = "fast"
)

// TTSState is the lifecycle state of a TTS item.
//
// queued → synthesizing → ready → playing → done, with dropped reachable only
// from queued or synthesizing when the room closes.
type TTSState string

const (
	TTSQueued       TTSState = "queued"
	TTSSynthesizing TTSState = "synthesizing"
	TTSReady        TTSState = "ready"
	TTSPlaying      TTSState = "playing"
	TTSDone         TTSState = "done"
	TTSDropped      TTSState = "dropped"
)

// TTSItem is one pending or completed synthesis job for a (unit, language)
// pair. At most one item per unit ID exists in any queue.
type TTSItem struct {
	UnitID string `json:"unitId"`
	Lang   string `json:"lang"`
	Text   string `json:"text"`

	// Voice is the provider voice ID chosen at build time.
	Voice string `json:"voice"`

	// Profile is the synthesis profile chosen when synthesis starts.
	Profile SynthesisProfile `json:"profile"`

	// EstDurationMs is the estimated spoken duration. Before synthesis it is
	// derived from text length; after synthesis it reflects the actual audio.
	EstDurationMs int `json:"estDurationMs"`

	CreatedAt time.Time `json:"createdAt"`
	State     TTSState  `json:"state"`
}

// AudioChunk is a synthesized audio buffer attached to a TTS item for
// delivery. Audio bytes are never persisted.
type AudioChunk struct {
	UnitID string
	Lang   string

	// Format names the container/encoding, e.g. "pcm_16000", "mp3", "opus".
	Format string
	Data   []byte

	// DurationMs is the measured duration of Data when known, else zero.
	DurationMs int
}
