// Package state persists room contents across restarts: stabilized units
// with their translations, and TTS queue metadata. Audio bytes are never
// persisted; on rehydration, items that were in flight are demoted back to
// queued and re-synthesized.
//
// Three backends exist: an in-process map ([NewMemoryStore]), Redis
// ([NewRedisStore]), and PostgreSQL ([NewPostgresStore]). All are safe for
// concurrent use.
package state

import (
	"context"

	"github.com/interpres-live/interpres/pkg/types"
)

// StoredUnit is one persisted speech unit. Order preserves the room's
// first-seen sequence so rehydration rebuilds the processor in the same
// order listeners saw.
type StoredUnit struct {
	Order   uint64        `json:"order"`
	Segment types.Segment `json:"segment"`
}

// TTSMeta is the persisted lifecycle of one (unit, language) synthesis item.
// Only metadata survives a restart, never the audio.
type TTSMeta struct {
	UnitID        string         `json:"unitId"`
	Lang          string         `json:"lang"`
	State         types.TTSState `json:"state"`
	EstDurationMs int            `json:"estDurationMs"`
}

// HistoryEntry is one finalized segment in a room's append-only transcript.
// Seq is the room's broadcast sequence number at finalization time.
type HistoryEntry struct {
	Seq     uint64        `json:"seq"`
	At      int64         `json:"at"`
	Segment types.Segment `json:"segment"`
}

// Store is the persistence abstraction used by the room hub.
type Store interface {
	// SaveUnit upserts one unit of a room.
	SaveUnit(ctx context.Context, room string, u StoredUnit) error

	// LoadUnits returns all units of a room ordered by first appearance.
	// Returns an empty slice for an unknown room.
	LoadUnits(ctx context.Context, room string) ([]StoredUnit, error)

	// SaveHistory appends one finalized segment to the room transcript.
	// Entries with the same Seq are upserted, not duplicated.
	SaveHistory(ctx context.Context, room string, e HistoryEntry) error

	// LoadHistory returns a room's transcript ordered by Seq. Returns an
	// empty slice for an unknown room.
	LoadHistory(ctx context.Context, room string) ([]HistoryEntry, error)

	// SaveTTSMeta upserts the lifecycle record of one synthesis item.
	SaveTTSMeta(ctx context.Context, room string, meta TTSMeta) error

	// LoadTTSMeta returns all synthesis records of a room.
	LoadTTSMeta(ctx context.Context, room string) ([]TTSMeta, error)

	// DeleteRoom removes everything stored for a room.
	DeleteRoom(ctx context.Context, room string) error

	// Ping verifies the backend is reachable. Wired into the readiness
	// endpoint.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// DemoteInFlight rewrites TTS records loaded during rehydration: items that
// were being synthesized or had audio ready lost that audio with the process,
// so they go back to queued. Completed and dropped items keep their state.
func DemoteInFlight(metas []TTSMeta) []TTSMeta {
	out := make([]TTSMeta, len(metas))
	for i, m := range metas {
		switch m.State {
		case types.TTSSynthesizing, types.TTSReady, types.TTSPlaying:
			m.State = types.TTSQueued
		}
		out[i] = m
	}
	return out
}
