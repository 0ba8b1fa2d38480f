// Package segment stabilizes the recognizer's patch stream into versioned
// translation units.
//
// The recognizer emits overlapping soft (provisional) and hard (final)
// patches per unit, possibly out of order and with formatting jitter. The
// [Processor] applies normalization, monotone version filtering, the
// soft-to-hard upgrade rule, continuation repair, and a soft-update throttle,
// and retains a bounded window of units per room. It is purely synchronous;
// debounce timing lives with the caller.
package segment

import (
	"sync"
	"time"

	"github.com/interpres-live/interpres/pkg/types"
)

// Action tells the caller what to do with a submitted patch.
type Action int

const (
	// ActionBroadcast means the patch changed the unit and the new state
	// should go out to listeners now.
	ActionBroadcast Action = iota

	// ActionThrottled means the patch was applied but the soft-update
	// throttle is holding the broadcast; [Processor.Flush] releases it.
	ActionThrottled

	// ActionDropped means the patch was discarded; Reason says why.
	ActionDropped
)

// Drop reasons reported in [Result.Reason].
const (
	DropStale     = "stale"
	DropFinalized = "finalized"
)

// Result is the outcome of one [Processor.Submit] call.
type Result struct {
	Action   Action
	Reason   string
	Unit     Unit
	Repaired bool

	// Upgraded is set when a hard patch finalized a previously soft unit.
	Upgraded bool
}

// Unit is the stabilized state of one translation unit.
type Unit struct {
	UnitID   string
	Version  uint32
	Stage    types.Stage
	SrcLang  string
	Text     string
	SentLen  []int
	TTSFinal bool
	Ts       []int64

	Translations map[string]types.Translation
}

// Segment converts the unit to its wire representation.
func (u Unit) Segment() types.Segment {
	return types.Segment{
		UnitID:       u.UnitID,
		Version:      u.Version,
		Stage:        u.Stage,
		SrcLang:      u.SrcLang,
		SrcText:      u.Text,
		SrcSentLen:   u.SentLen,
		Translations: u.Translations,
		Ts:           u.Ts,
		TTSFinal:     u.TTSFinal,
	}
}

// Config holds the processor tuning knobs.
type Config struct {
	// SoftThrottle is the minimum interval between soft broadcasts per unit.
	SoftThrottle time.Duration

	// SoftMinDeltaChars lets a soft update through the throttle early when
	// the text grew by at least this many runes since the last broadcast.
	SoftMinDeltaChars int

	// MaxUnits bounds the retained unit window; the oldest unit by first
	// appearance is evicted first.
	MaxUnits int
}

// unitState is a Unit plus throttle bookkeeping.
type unitState struct {
	Unit

	lastBroadcast    time.Time
	lastBroadcastLen int
	pending          bool
}

// Processor stabilizes patches for a single room. Safe for concurrent use.
type Processor struct {
	mu    sync.Mutex
	cfg   Config
	units map[string]*unitState
	order []string
}

// NewProcessor creates a Processor. Zero-value config fields get defaults
// matching the server's core tuning.
func NewProcessor(cfg Config) *Processor {
	if cfg.SoftThrottle <= 0 {
		cfg.SoftThrottle = 700 * time.Millisecond
	}
	if cfg.SoftMinDeltaChars <= 0 {
		cfg.SoftMinDeltaChars = 12
	}
	if cfg.MaxUnits <= 0 {
		cfg.MaxUnits = 512
	}
	return &Processor{
		cfg:   cfg,
		units: make(map[string]*unitState),
	}
}

// Submit applies one patch. now is the caller's clock, injected for
// deterministic tests.
func (p *Processor) Submit(patch types.Patch, now time.Time) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, exists := p.units[patch.UnitID]
	if !exists {
		st = p.insertLocked(patch.UnitID)
	}

	text := NormalizeText(patch.Text)
	repaired := false
	upgraded := false

	switch {
	case !exists:
		st.Version = patch.Version
		st.Stage = patch.Stage

	case st.Stage == types.StageHard:
		// A finalized unit only moves forward through a newer hard patch.
		if patch.Stage == types.StageSoft {
			return Result{Action: ActionDropped, Reason: DropFinalized, Unit: st.Unit}
		}
		if patch.Version <= st.Version {
			return Result{Action: ActionDropped, Reason: DropStale, Unit: st.Unit}
		}
		st.Version = patch.Version

	case patch.Stage == types.StageHard:
		// Hard finalizes a soft unit regardless of its version; the stored
		// version never decreases.
		upgraded = true
		st.Stage = types.StageHard
		st.Version = max(st.Version, patch.Version)

	default:
		// Soft on soft: monotone versions only.
		if patch.Version <= st.Version {
			return Result{Action: ActionDropped, Reason: DropStale, Unit: st.Unit}
		}
		st.Version = patch.Version
		text, repaired = RepairContinuation(st.Text, text)
	}

	if patch.Stage == types.StageHard {
		// Final text is authoritative; any spliced preview is discarded.
		text = NormalizeText(patch.Text)
	}

	st.Text = text
	st.SentLen = SentenceLengths(text)
	st.TTSFinal = patch.TTSFinal
	if patch.SrcLang != "" {
		st.SrcLang = patch.SrcLang
	}
	if len(patch.Ts) > 0 {
		st.Ts = patch.Ts
	}
	// Content changed, so previously attached translations are stale.
	st.Translations = nil

	// Hard patches always broadcast; soft patches pass through the throttle.
	if patch.Stage == types.StageSoft && exists {
		grew := runeLen(st.Text) - st.lastBroadcastLen
		if now.Sub(st.lastBroadcast) < p.cfg.SoftThrottle && grew < p.cfg.SoftMinDeltaChars {
			st.pending = true
			return Result{Action: ActionThrottled, Unit: st.Unit, Repaired: repaired}
		}
	}

	st.lastBroadcast = now
	st.lastBroadcastLen = runeLen(st.Text)
	st.pending = false

	return Result{Action: ActionBroadcast, Unit: st.Unit, Repaired: repaired, Upgraded: upgraded}
}

// Flush returns the units whose soft broadcasts were held back by the
// throttle and whose window has now elapsed, marking them broadcast.
func (p *Processor) Flush(now time.Time) []Unit {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Unit
	for _, id := range p.order {
		st := p.units[id]
		if !st.pending {
			continue
		}
		if now.Sub(st.lastBroadcast) < p.cfg.SoftThrottle {
			continue
		}
		st.pending = false
		st.lastBroadcast = now
		st.lastBroadcastLen = runeLen(st.Text)
		out = append(out, st.Unit)
	}
	return out
}

// SetTranslations attaches translation results to a unit, provided the unit
// still has the version the translation was produced for. Returns the updated
// unit and whether the attach took effect.
func (p *Processor) SetTranslations(unitID string, version uint32, tr map[string]types.Translation) (Unit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.units[unitID]
	if !ok || st.Version != version {
		return Unit{}, false
	}
	st.Translations = tr
	return st.Unit, true
}

// Get returns the current state of a unit.
func (p *Processor) Get(unitID string) (Unit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.units[unitID]
	if !ok {
		return Unit{}, false
	}
	return st.Unit, true
}

// Snapshot returns all retained units in first-appearance order.
func (p *Processor) Snapshot() []Unit {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Unit, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.units[id].Unit)
	}
	return out
}

// Restore seeds the processor with previously persisted units, preserving the
// given order. Used on room rehydration; existing state is discarded.
func (p *Processor) Restore(units []Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.units = make(map[string]*unitState, len(units))
	p.order = p.order[:0]
	for _, u := range units {
		st := &unitState{Unit: u}
		st.lastBroadcastLen = runeLen(u.Text)
		p.units[u.UnitID] = st
		p.order = append(p.order, u.UnitID)
	}
}

// Len returns the number of retained units.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.units)
}

// insertLocked creates a unit slot, evicting the oldest unit when the window
// is full. Caller holds p.mu.
func (p *Processor) insertLocked(unitID string) *unitState {
	if len(p.order) >= p.cfg.MaxUnits {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.units, oldest)
	}
	st := &unitState{Unit: Unit{UnitID: unitID}}
	p.units[unitID] = st
	p.order = append(p.order, unitID)
	return st
}

func runeLen(s string) int {
	return len([]rune(s))
}
