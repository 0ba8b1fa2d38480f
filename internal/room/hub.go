package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/interpres-live/interpres/internal/config"
	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/internal/state"
	"github.com/interpres-live/interpres/internal/translate"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	provider "github.com/interpres-live/interpres/pkg/provider/translate"
)

// Hub owns the live rooms. Rooms are created on first use, rehydrated from
// the state store, and torn down after their idle TTL.
type Hub struct {
	translator provider.Provider
	fallback   provider.Provider
	synth      synth.Provider
	store      state.Store
	defaults   config.RoomDefaults
	core       config.CoreConfig
	metrics    *observe.Metrics

	ctx context.Context

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates a Hub. fallback may be nil. ctx bounds the lifetime of all
// room actors.
func NewHub(ctx context.Context, primary, fallback provider.Provider, synthesizer synth.Provider, store state.Store, defaults config.RoomDefaults, core config.CoreConfig, m *observe.Metrics) *Hub {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{
		translator: primary,
		fallback:   fallback,
		synth:      synthesizer,
		store:      store,
		defaults:   defaults,
		core:       core,
		metrics:    m,
		ctx:        ctx,
		rooms:      make(map[string]*Room),
	}
}

// SetDefaults swaps the defaults applied to rooms created from now on.
// Already-live rooms keep the defaults they were created with.
func (h *Hub) SetDefaults(defaults config.RoomDefaults) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaults = defaults
}

// History returns the persisted transcript of a room, live or not.
func (h *Hub) History(ctx context.Context, slug string) ([]state.HistoryEntry, error) {
	return h.store.LoadHistory(ctx, slug)
}

// Get returns the live room for slug, if any.
func (h *Hub) Get(slug string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[slug]
	return r, ok
}

// GetOrCreate returns the room for slug, creating and starting it on first
// use. Each room gets its own translation client so memo locality follows the
// room's vocabulary.
func (h *Hub) GetOrCreate(slug string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[slug]; ok {
		return r
	}

	client := translate.NewClient(h.translator, h.fallback, translate.Config{
		Timeout:  time.Duration(h.core.TranslateTimeoutMs) * time.Millisecond,
		MemoSize: h.core.TranslateMemoSize,
	}, h.metrics)

	r := NewRoom(Options{
		Slug:     slug,
		Defaults: h.defaults,
		Core:     h.core,
		OnIdle:   h.retire,
	}, client, h.synth, h.store, h.metrics)
	r.Start(h.ctx)
	h.rooms[slug] = r
	h.metrics.ActiveRooms.Add(h.ctx, 1)
	slog.Info("room opened", "room", slug)
	return r
}

// retire removes an idle room. Called from the room's actor via OnIdle, so
// the actual Close runs on a fresh goroutine.
func (h *Hub) retire(slug string) {
	h.mu.Lock()
	r, ok := h.rooms[slug]
	if ok {
		delete(h.rooms, slug)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.metrics.ActiveRooms.Add(context.Background(), -1)
	slog.Info("room idle, tearing down", "room", slug)
	go r.Close()
}

// Len returns the number of live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown closes every room, persisting their state.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Close()
		}()
		h.metrics.ActiveRooms.Add(context.Background(), -1)
	}
	wg.Wait()
}
