package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps room state in process memory. It is the default backend
// and the test double for the other two; state does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	units   map[string]map[string]StoredUnit   // room -> unitID -> unit
	tts     map[string]map[string]TTSMeta      // room -> unitID/lang -> meta
	history map[string]map[uint64]HistoryEntry // room -> seq -> entry
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:   make(map[string]map[string]StoredUnit),
		tts:     make(map[string]map[string]TTSMeta),
		history: make(map[string]map[uint64]HistoryEntry),
	}
}

// SaveUnit implements [Store].
func (s *MemoryStore) SaveUnit(_ context.Context, room string, u StoredUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.units[room]
	if !ok {
		m = make(map[string]StoredUnit)
		s.units[room] = m
	}
	m[u.Segment.UnitID] = u
	return nil
}

// LoadUnits implements [Store].
func (s *MemoryStore) LoadUnits(_ context.Context, room string) ([]StoredUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.units[room]
	out := make([]StoredUnit, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// SaveHistory implements [Store].
func (s *MemoryStore) SaveHistory(_ context.Context, room string, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.history[room]
	if !ok {
		m = make(map[uint64]HistoryEntry)
		s.history[room] = m
	}
	m[e.Seq] = e
	return nil
}

// LoadHistory implements [Store].
func (s *MemoryStore) LoadHistory(_ context.Context, room string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.history[room]
	out := make([]HistoryEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveTTSMeta implements [Store].
func (s *MemoryStore) SaveTTSMeta(_ context.Context, room string, meta TTSMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tts[room]
	if !ok {
		m = make(map[string]TTSMeta)
		s.tts[room] = m
	}
	m[ttsField(meta.UnitID, meta.Lang)] = meta
	return nil
}

// LoadTTSMeta implements [Store].
func (s *MemoryStore) LoadTTSMeta(_ context.Context, room string) ([]TTSMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.tts[room]
	out := make([]TTSMeta, 0, len(m))
	for _, meta := range m {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitID != out[j].UnitID {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].Lang < out[j].Lang
	})
	return out, nil
}

// DeleteRoom implements [Store].
func (s *MemoryStore) DeleteRoom(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, room)
	delete(s.tts, room)
	delete(s.history, room)
	return nil
}

// Ping implements [Store].
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (s *MemoryStore) Close() error { return nil }

// ttsField builds the composite map/hash field for a TTS record.
func ttsField(unitID, lang string) string {
	return unitID + "/" + lang
}
