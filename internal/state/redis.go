package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists room state in Redis. Each room owns two hashes, one
// for units keyed by unit ID and one for TTS records keyed by unitID/lang,
// so a single HGETALL per hash rehydrates the room.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default is "interpres".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisTTL sets a per-room expiry, refreshed on every write. Zero means
// no expiry; rooms are then removed only via DeleteRoom.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedisStore creates a Redis-backed store on an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "interpres",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveUnit implements [Store].
func (s *RedisStore) SaveUnit(ctx context.Context, room string, u StoredUnit) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("redis store: marshal unit: %w", err)
	}

	key := s.unitsKey(room)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, u.Segment.UnitID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: save unit: %w", err)
	}
	return nil
}

// LoadUnits implements [Store].
func (s *RedisStore) LoadUnits(ctx context.Context, room string) ([]StoredUnit, error) {
	fields, err := s.client.HGetAll(ctx, s.unitsKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: load units: %w", err)
	}

	out := make([]StoredUnit, 0, len(fields))
	for _, v := range fields {
		var u StoredUnit
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			return nil, fmt.Errorf("redis store: unmarshal unit: %w", err)
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// SaveHistory implements [Store].
func (s *RedisStore) SaveHistory(ctx context.Context, room string, e HistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis store: marshal history entry: %w", err)
	}

	key := s.historyKey(room)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, strconv.FormatUint(e.Seq, 10), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: save history entry: %w", err)
	}
	return nil
}

// LoadHistory implements [Store].
func (s *RedisStore) LoadHistory(ctx context.Context, room string) ([]HistoryEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.historyKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: load history: %w", err)
	}

	out := make([]HistoryEntry, 0, len(fields))
	for _, v := range fields {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("redis store: unmarshal history entry: %w", err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveTTSMeta implements [Store].
func (s *RedisStore) SaveTTSMeta(ctx context.Context, room string, meta TTSMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis store: marshal tts record: %w", err)
	}

	key := s.ttsKey(room)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, ttsField(meta.UnitID, meta.Lang), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: save tts record: %w", err)
	}
	return nil
}

// LoadTTSMeta implements [Store].
func (s *RedisStore) LoadTTSMeta(ctx context.Context, room string) ([]TTSMeta, error) {
	fields, err := s.client.HGetAll(ctx, s.ttsKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: load tts records: %w", err)
	}

	out := make([]TTSMeta, 0, len(fields))
	for _, v := range fields {
		var m TTSMeta
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("redis store: unmarshal tts record: %w", err)
		}
		out = append(out, m)
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
func (s *RedisStore) DeleteRoom(ctx context.Context, room string) error {
	if err := s.client.Del(ctx, s.unitsKey(room), s.ttsKey(room), s.historyKey(room)).Err(); err != nil {
		return fmt.Errorf("redis store: delete room: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) unitsKey(room string) string {
	return fmt.Sprintf("%s:room:%s:units", s.prefix, room)
}

func (s *RedisStore) ttsKey(room string) string {
	return fmt.Sprintf("%s:room:%s:tts", s.prefix, room)
}

func (s *RedisStore) historyKey(room string) string {
	return fmt.Sprintf("%s:room:%s:history", s.prefix, room)
}
