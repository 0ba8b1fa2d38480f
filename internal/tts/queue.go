// Package tts runs speech synthesis lanes. Each lane serves one
// (room, language) pair: finalized units enter in order, one item is
// synthesized at a time with a single item of lookahead over playback, and a
// backlog hysteresis switches the lane between normal and fast prosody so a
// slow language catches up instead of drifting ever further behind the
// speaker.
package tts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/pkg/audio"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/types"
)

// Drop reasons reported to metrics and [Event.Reason]. A lane never drops
// items to catch up; a backlog is worked off through the fast profile, so
// these cover only lane shutdown, empty audiences, and synthesis failure.
const (
	DropNoListeners = "no_listeners"
	DropSynthFailed = "synth_failed"
	DropShutdown    = "shutdown"
)

// Event is the lane's output: either synthesized audio for an item or a
// text-only completion when synthesis was skipped or failed.
type Event struct {
	Item     types.TTSItem
	Audio    *synth.Audio
	TextOnly bool
	Reason   string
}

// Config holds the lane tuning knobs.
type Config struct {
	// Room and Lang identify the lane in logs and metrics.
	Room string
	Lang string

	// Voice is the normal-profile voice ID. FastVoice, when set, replaces it
	// in the fast profile; otherwise Voice is reused with RateBoostPct.
	Voice     string
	FastVoice string

	// FallbackVoice is tried once when synthesis with the selected voice
	// fails. Empty disables the retry.
	FallbackVoice string

	// MaxBacklog flips the lane to the fast profile; ResumeBacklog flips it
	// back once the backlog has drained below it.
	MaxBacklog    time.Duration
	ResumeBacklog time.Duration

	// RateBoostPct is the fast-profile speech rate increase.
	RateBoostPct int
}

// laneItem is one unit of speech waiting in the lane.
type laneItem struct {
	item types.TTSItem
}

// Queue is a synthesis lane. Items enter via [Queue.Enqueue]; audio leaves
// through the emit callback passed to [New]. Safe for concurrent use.
type Queue struct {
	cfg      Config
	provider synth.Provider
	metrics  *observe.Metrics

	emit         func(Event)
	hasListeners func() bool

	mu       sync.Mutex
	pending  []*laneItem
	index    map[string]*laneItem
	fastMode bool
	playhead time.Time
	closed   bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	// injected for deterministic tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a lane. emit receives every completed item; hasListeners is
// consulted before synthesis so lanes nobody hears cost nothing. Both must be
// non-nil. Call [Queue.Start] to begin processing.
func New(p synth.Provider, cfg Config, emit func(Event), hasListeners func() bool, m *observe.Metrics) *Queue {
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = 8 * time.Second
	}
	if cfg.ResumeBacklog <= 0 || cfg.ResumeBacklog >= cfg.MaxBacklog {
		cfg.ResumeBacklog = cfg.MaxBacklog / 2
	}
	if cfg.RateBoostPct <= 0 {
		cfg.RateBoostPct = 25
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Queue{
		cfg:          cfg,
		provider:     p,
		metrics:      m,
		emit:         emit,
		hasListeners: hasListeners,
		index:        make(map[string]*laneItem),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		now:          time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
}

// Start launches the lane worker.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Close stops the worker and drops all pending items. Blocks until the
// worker has exited.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.index = make(map[string]*laneItem)
	q.mu.Unlock()

	if dropped > 0 {
		q.metrics.TTSItemsDropped.Add(context.Background(), int64(dropped),
			withReason(DropShutdown))
	}
	close(q.done)
	q.wg.Wait()
}

// Enqueue adds a finalized unit to the lane. Re-enqueueing a unit that is
// already pending is a no-op, which makes hard-patch replays idempotent.
func (q *Queue) Enqueue(unitID, text string) {
	est := audio.EstimateSpeechDurationMs(text)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, dup := q.index[unitID]; dup {
		q.mu.Unlock()
		return
	}
	it := &laneItem{item: types.TTSItem{
		UnitID:        unitID,
		Lang:          q.cfg.Lang,
		Text:          text,
		Voice:         q.cfg.Voice,
		Profile:       types.ProfileNormal,
		EstDurationMs: est,
		CreatedAt:     q.now(),
		State:         types.TTSQueued,
	}}
	q.pending = append(q.pending, it)
	q.index[unitID] = it
	q.updateModeLocked()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Backlog returns the lane's current audio debt: estimates of everything not
// yet delivered plus audio delivered but not yet played out.
func (q *Queue) Backlog() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlogLocked()
}

// FastMode reports whether the lane is currently in the fast profile.
func (q *Queue) FastMode() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fastMode
}

// Len returns the number of items waiting in the lane.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// run is the lane worker: pop, pace, synthesize, emit.
func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		it, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
		}

		// Lookahead gate: the previous item must have started playing before
		// the next synthesis begins, so at most one item is buffered ahead.
		if wait := q.paceDelay(it.item.EstDurationMs); wait > 0 {
			q.sleep(ctx, wait)
			if ctx.Err() != nil {
				return
			}
		}

		q.process(ctx, it)

		select {
		case <-q.done:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pop takes the oldest queued item and marks it synthesizing.
func (q *Queue) pop() (*laneItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	it := q.pending[0]
	q.pending = q.pending[1:]
	it.item.State = types.TTSSynthesizing
	if q.fastMode {
		it.item.Profile = types.ProfileFast
		if q.cfg.FastVoice != "" {
			it.item.Voice = q.cfg.FastVoice
		}
	}
	return it, true
}

// paceDelay returns how long to hold synthesis so the lane keeps at most one
// item of lookahead over playback.
func (q *Queue) paceDelay(estMs int) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	ahead := q.playhead.Sub(q.now())
	lookahead := time.Duration(estMs) * time.Millisecond
	if ahead <= lookahead {
		return 0
	}
	return ahead - lookahead
}

// process synthesizes one item, retrying once with the fallback voice, and
// emits the result.
func (q *Queue) process(ctx context.Context, it *laneItem) {
	item := it.item

	if !q.hasListeners() {
		q.finish(it, Event{Item: item, TextOnly: true, Reason: DropNoListeners})
		q.metrics.TTSItemsDropped.Add(ctx, 1, withReason(DropNoListeners))
		return
	}

	out, err := q.synthesize(ctx, item)
	if err != nil && q.cfg.FallbackVoice != "" && q.cfg.FallbackVoice != item.Voice {
		slog.Warn("synthesis failed, retrying with fallback voice",
			"room", q.cfg.Room, "lang", q.cfg.Lang, "unit", item.UnitID, "error", err)
		item.Voice = q.cfg.FallbackVoice
		out, err = q.synthesize(ctx, item)
	}
	if err != nil {
		slog.Error("synthesis failed, completing text-only",
			"room", q.cfg.Room, "lang", q.cfg.Lang, "unit", item.UnitID, "error", err)
		q.metrics.TTSItemsDropped.Add(ctx, 1, withReason(DropSynthFailed))
		q.finish(it, Event{Item: item, TextOnly: true, Reason: DropSynthFailed})
		return
	}

	q.mu.Lock()
	now := q.now()
	if q.playhead.Before(now) {
		q.playhead = now
	}
	q.playhead = q.playhead.Add(time.Duration(out.DurationMs) * time.Millisecond)
	q.mu.Unlock()

	item.State = types.TTSReady
	q.finish(it, Event{Item: item, Audio: out})
}

// synthesize runs one provider call with metrics.
func (q *Queue) synthesize(ctx context.Context, item types.TTSItem) (*synth.Audio, error) {
	start := q.now()
	out, err := q.provider.Synthesize(ctx, synth.Request{
		Text:         item.Text,
		Lang:         item.Lang,
		Voice:        item.Voice,
		Profile:      item.Profile,
		RateBoostPct: q.cfg.RateBoostPct,
	})
	if err != nil {
		return nil, err
	}
	q.metrics.SynthDuration.Record(ctx, q.now().Sub(start).Seconds())
	if out.DurationMs <= 0 {
		out.DurationMs = item.EstDurationMs
	}
	return out, nil
}

// finish removes the item from the index, refreshes the fast/normal mode,
// reports the backlog gauge, and emits the event.
func (q *Queue) finish(it *laneItem, ev Event) {
	q.mu.Lock()
	delete(q.index, it.item.UnitID)
	q.updateModeLocked()
	backlog := q.backlogLocked()
	q.mu.Unlock()

	q.metrics.RecordTTSBacklog(context.Background(), q.cfg.Room, q.cfg.Lang, backlog.Seconds())
	q.emit(ev)
}

// backlogLocked sums pending estimates plus undelivered playback time.
// Caller holds q.mu.
func (q *Queue) backlogLocked() time.Duration {
	var est time.Duration
	for _, it := range q.pending {
		est += time.Duration(it.item.EstDurationMs) * time.Millisecond
	}
	if ahead := q.playhead.Sub(q.now()); ahead > 0 {
		est += ahead
	}
	return est
}

// updateModeLocked applies the backlog hysteresis. Caller holds q.mu.
func (q *Queue) updateModeLocked() {
	backlog := q.backlogLocked()
	if !q.fastMode && backlog > q.cfg.MaxBacklog {
		q.fastMode = true
		slog.Info("tts lane entering fast profile",
			"room", q.cfg.Room, "lang", q.cfg.Lang, "backlog", backlog)
	} else if q.fastMode && backlog < q.cfg.ResumeBacklog {
		q.fastMode = false
		slog.Info("tts lane back to normal profile",
			"room", q.cfg.Room, "lang", q.cfg.Lang, "backlog", backlog)
	}
}

func withReason(reason string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("reason", reason))
}
