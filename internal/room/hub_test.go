package room

import (
	"context"
	"testing"

	"github.com/interpres-live/interpres/internal/state"
	synthmock "github.com/interpres-live/interpres/pkg/provider/synth/mock"
	translatemock "github.com/interpres-live/interpres/pkg/provider/translate/mock"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(ctx, &translatemock.Provider{}, nil, &synthmock.Provider{},
		state.NewMemoryStore(), testDefaults(), testCore(), testMetrics(t))
	t.Cleanup(func() {
		h.Shutdown()
		cancel()
	})
	return h
}

func TestHub_GetOrCreate(t *testing.T) {
	h := newTestHub(t)

	r1 := h.GetOrCreate("plenary")
	r2 := h.GetOrCreate("plenary")
	if r1 != r2 {
		t.Error("same slug produced two rooms")
	}
	if h.Len() != 1 {
		t.Errorf("len = %d, want 1", h.Len())
	}

	h.GetOrCreate("breakout")
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}
}

func TestHub_Get(t *testing.T) {
	h := newTestHub(t)

	if _, ok := h.Get("ghost"); ok {
		t.Error("unknown slug should miss")
	}
	h.GetOrCreate("plenary")
	if r, ok := h.Get("plenary"); !ok || r.Slug() != "plenary" {
		t.Errorf("got %v, %v", r, ok)
	}
}

func TestHub_Retire(t *testing.T) {
	h := newTestHub(t)
	h.GetOrCreate("plenary")

	h.retire("plenary")
	if h.Len() != 0 {
		t.Errorf("len = %d after retire", h.Len())
	}

	// Retiring twice is a no-op.
	h.retire("plenary")
}

func TestHub_Shutdown(t *testing.T) {
	h := newTestHub(t)
	h.GetOrCreate("plenary")
	h.GetOrCreate("breakout")

	h.Shutdown()
	if h.Len() != 0 {
		t.Errorf("len = %d after shutdown", h.Len())
	}
}
