package tts

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	synthmock "github.com/interpres-live/interpres/pkg/provider/synth/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newTestQueue builds a lane with a frozen clock and no pacing sleeps so
// tests run instantly and deterministically.
func newTestQueue(t *testing.T, p synth.Provider, cfg Config, listeners bool) (*Queue, chan Event) {
	t.Helper()
	if cfg.Room == "" {
		cfg.Room = "plenary"
	}
	if cfg.Lang == "" {
		cfg.Lang = "de"
	}
	if cfg.Voice == "" {
		cfg.Voice = "voice-1"
	}
	events := make(chan Event, 16)
	q := New(p, cfg, func(ev Event) { events <- ev }, func() bool { return listeners }, testMetrics(t))
	q.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	q.sleep = func(context.Context, time.Duration) {}
	t.Cleanup(q.Close)
	return q, events
}

func waitEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lane event")
		return Event{}
	}
}

func TestQueue_DeliversInOrder(t *testing.T) {
	q, events := newTestQueue(t, &synthmock.Provider{}, Config{}, true)
	q.Start(context.Background())

	q.Enqueue("s|en|1", "First sentence.")
	q.Enqueue("s|en|2", "Second sentence.")
	q.Enqueue("s|en|3", "Third sentence.")

	for i, want := range []string{"s|en|1", "s|en|2", "s|en|3"} {
		ev := waitEvent(t, events)
		if ev.Item.UnitID != want {
			t.Fatalf("event %d: unit = %q, want %q", i, ev.Item.UnitID, want)
		}
		if ev.Audio == nil || len(ev.Audio.Data) == 0 {
			t.Errorf("event %d: no audio", i)
		}
		if ev.Item.State != "ready" {
			t.Errorf("event %d: state = %q", i, ev.Item.State)
		}
	}
}

func TestQueue_EnqueueIdempotent(t *testing.T) {
	q, _ := newTestQueue(t, &synthmock.Provider{}, Config{}, true)

	q.Enqueue("s|en|1", "Hello.")
	q.Enqueue("s|en|1", "Hello.")

	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
}

func TestQueue_BacklogNeverTruncates(t *testing.T) {
	mock := &synthmock.Provider{
		SynthesizeFunc: func(_ context.Context, _ synth.Request) (*synth.Audio, error) {
			return &synth.Audio{Data: []byte{0, 0}, Format: "pcm_16000", DurationMs: 1}, nil
		},
	}
	cfg := Config{
		Voice:         "voice-1",
		MaxBacklog:    time.Second,
		ResumeBacklog: 500 * time.Millisecond,
	}
	q, events := newTestQueue(t, mock, cfg, true)

	// Four items at ~1.3s estimate each pile far past the 1s ceiling.
	units := []string{"s|en|1", "s|en|2", "s|en|3", "s|en|4"}
	for _, id := range units {
		q.Enqueue(id, "alpha beta gamma word")
	}
	if q.Len() != len(units) {
		t.Fatalf("len = %d, want %d: backlog pressure must not shed items", q.Len(), len(units))
	}

	q.Start(context.Background())

	// Catch-up comes from the fast profile, never from skipping units.
	for i, want := range units {
		ev := waitEvent(t, events)
		if ev.Item.UnitID != want {
			t.Fatalf("event %d: unit = %q, want %q", i, ev.Item.UnitID, want)
		}
		if ev.TextOnly {
			t.Errorf("event %d: unit %q was not synthesized", i, want)
		}
	}
}

func TestQueue_FastModeHysteresis(t *testing.T) {
	mock := &synthmock.Provider{
		SynthesizeFunc: func(_ context.Context, _ synth.Request) (*synth.Audio, error) {
			// Near-zero real duration so the backlog drains as items finish.
			return &synth.Audio{Data: []byte{0, 0}, Format: "pcm_16000", DurationMs: 1}, nil
		},
	}
	cfg := Config{
		Voice:         "voice-1",
		FastVoice:     "voice-1-fast",
		MaxBacklog:    time.Second,
		ResumeBacklog: 500 * time.Millisecond,
	}
	q, events := newTestQueue(t, mock, cfg, true)

	// 20 chars each estimates to 1300ms, so the first enqueue alone crosses
	// the 1s ceiling.
	q.Enqueue("s|en|1", "alpha beta gamma one")
	q.Enqueue("s|en|2", "alpha beta gamma two")

	if !q.FastMode() {
		t.Fatal("lane should be in fast profile after backlog buildup")
	}

	q.Start(context.Background())

	for i := range 2 {
		ev := waitEvent(t, events)
		if ev.Item.Profile != "fast" {
			t.Errorf("event %d: profile = %q, want fast", i, ev.Item.Profile)
		}
		if ev.Item.Voice != "voice-1-fast" {
			t.Errorf("event %d: voice = %q, want fast voice", i, ev.Item.Voice)
		}
	}

	if q.FastMode() {
		t.Error("lane should revert to normal once the backlog drains")
	}
}

func TestQueue_RetryWithFallbackVoice(t *testing.T) {
	mock := &synthmock.Provider{
		SynthesizeFunc: func(_ context.Context, req synth.Request) (*synth.Audio, error) {
			if req.Voice == "voice-1" {
				return nil, errors.New("voice unavailable")
			}
			return &synth.Audio{Data: make([]byte, 64), Format: "pcm_16000", DurationMs: 2}, nil
		},
	}
	q, events := newTestQueue(t, mock, Config{FallbackVoice: "rescue"}, true)
	q.Start(context.Background())

	q.Enqueue("s|en|1", "Hello there.")

	ev := waitEvent(t, events)
	if ev.Audio == nil {
		t.Fatalf("expected audio after fallback retry, got %+v", ev)
	}
	if ev.Item.Voice != "rescue" {
		t.Errorf("voice = %q, want rescue", ev.Item.Voice)
	}
	if got := len(mock.Calls()); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestQueue_SynthesisFailureCompletesTextOnly(t *testing.T) {
	t.Run("no fallback voice", func(t *testing.T) {
		mock := &synthmock.Provider{Err: errors.New("down")}
		q, events := newTestQueue(t, mock, Config{}, true)
		q.Start(context.Background())

		q.Enqueue("s|en|1", "Hello.")

		ev := waitEvent(t, events)
		if !ev.TextOnly || ev.Reason != DropSynthFailed {
			t.Errorf("event = %+v, want text-only synth_failed", ev)
		}
		if got := len(mock.Calls()); got != 1 {
			t.Errorf("provider calls = %d, want 1", got)
		}
	})

	t.Run("fallback voice also fails", func(t *testing.T) {
		mock := &synthmock.Provider{Err: errors.New("down")}
		q, events := newTestQueue(t, mock, Config{FallbackVoice: "rescue"}, true)
		q.Start(context.Background())

		q.Enqueue("s|en|1", "Hello.")

		ev := waitEvent(t, events)
		if !ev.TextOnly || ev.Reason != DropSynthFailed {
			t.Errorf("event = %+v, want text-only synth_failed", ev)
		}
		if got := len(mock.Calls()); got != 2 {
			t.Errorf("provider calls = %d, want 2", got)
		}
	})
}

func TestQueue_NoListenersSkipsSynthesis(t *testing.T) {
	mock := &synthmock.Provider{}
	q, events := newTestQueue(t, mock, Config{}, false)
	q.Start(context.Background())

	q.Enqueue("s|en|1", "Hello.")

	ev := waitEvent(t, events)
	if !ev.TextOnly || ev.Reason != DropNoListeners {
		t.Errorf("event = %+v, want text-only no_listeners", ev)
	}
	if got := len(mock.Calls()); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func TestQueue_CloseDropsPending(t *testing.T) {
	q, _ := newTestQueue(t, &synthmock.Provider{}, Config{}, true)

	q.Enqueue("s|en|1", "Hello.")
	q.Enqueue("s|en|2", "World.")
	q.Close()

	if q.Len() != 0 {
		t.Errorf("len = %d after close", q.Len())
	}

	// Enqueue after close is ignored.
	q.Enqueue("s|en|3", "Late.")
	if q.Len() != 0 {
		t.Error("enqueue after close should be a no-op")
	}
}

func TestQueue_BacklogAccounting(t *testing.T) {
	q, _ := newTestQueue(t, &synthmock.Provider{}, Config{}, true)

	q.Enqueue("s|en|1", "alpha beta gamma one") // 1300ms estimate
	q.Enqueue("s|en|2", "ok")                   // floored to 400ms

	if got := q.Backlog(); got != 1700*time.Millisecond {
		t.Errorf("backlog = %v, want 1.7s", got)
	}
}
