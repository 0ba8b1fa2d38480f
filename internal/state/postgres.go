package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists room state in a single JSONB table. One row per
// unit and one per TTS record keeps the schema trivial while still allowing
// per-unit upserts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn, pings it, and runs
// [Migrate] so the schema exists before the first write.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate ensures the room_state table exists.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS room_state (
			room       TEXT        NOT NULL,
			kind       TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room, kind, key)
		)`)
	if err != nil {
		return fmt.Errorf("create room_state: %w", err)
	}
	return nil
}

const (
	kindUnit    = "unit"
	kindTTS     = "tts"
	kindHistory = "history"
)

// SaveUnit implements [Store].
func (s *PostgresStore) SaveUnit(ctx context.Context, room string, u StoredUnit) error {
	return s.upsert(ctx, room, kindUnit, u.Segment.UnitID, u)
}

// LoadUnits implements [Store].
func (s *PostgresStore) LoadUnits(ctx context.Context, room string) ([]StoredUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM room_state
		 WHERE room = $1 AND kind = $2
		 ORDER BY (value->>'order')::bigint`,
		room, kindUnit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load units: %w", err)
	}
	defer rows.Close()

	var out []StoredUnit
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres store: scan unit: %w", err)
		}
		var u StoredUnit
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal unit: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load units: %w", err)
	}
	if out == nil {
		out = []StoredUnit{}
	}
	return out, nil
}

// SaveHistory implements [Store].
func (s *PostgresStore) SaveHistory(ctx context.Context, room string, e HistoryEntry) error {
	return s.upsert(ctx, room, kindHistory, strconv.FormatUint(e.Seq, 10), e)
}

// LoadHistory implements [Store].
func (s *PostgresStore) LoadHistory(ctx context.Context, room string) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM room_state
		 WHERE room = $1 AND kind = $2
		 ORDER BY (value->>'seq')::bigint`,
		room, kindHistory)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres store: scan history entry: %w", err)
		}
		var e HistoryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal history entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load history: %w", err)
	}
	if out == nil {
		out = []HistoryEntry{}
	}
	return out, nil
}

// SaveTTSMeta implements [Store].
func (s *PostgresStore) SaveTTSMeta(ctx context.Context, room string, meta TTSMeta) error {
	return s.upsert(ctx, room, kindTTS, ttsField(meta.UnitID, meta.Lang), meta)
}

// LoadTTSMeta implements [Store].
func (s *PostgresStore) LoadTTSMeta(ctx context.Context, room string) ([]TTSMeta, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM room_state
		 WHERE room = $1 AND kind = $2
		 ORDER BY key`,
		room, kindTTS)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load tts records: %w", err)
	}
	defer rows.Close()

	var out []TTSMeta
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres store: scan tts record: %w", err)
		}
		var m TTSMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal tts record: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load tts records: %w", err)
	}
	if out == nil {
		out = []TTSMeta{}
	}
	return out, nil
}

// DeleteRoom implements [Store].
func (s *PostgresStore) DeleteRoom(ctx context.Context, room string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM room_state WHERE room = $1`, room); err != nil {
		return fmt.Errorf("postgres store: delete room: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// upsert writes one JSONB row keyed by (room, kind, key).
func (s *PostgresStore) upsert(ctx context.Context, room, kind, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres store: marshal %s: %w", kind, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO room_state (room, kind, key, value, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (room, kind, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		room, kind, key, data); err != nil {
		return fmt.Errorf("postgres store: upsert %s: %w", kind, err)
	}
	return nil
}
