package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/interpres-live/interpres/internal/config"
	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/internal/state"
	"github.com/interpres-live/interpres/internal/translate"
	synthmock "github.com/interpres-live/interpres/pkg/provider/synth/mock"
	translatemock "github.com/interpres-live/interpres/pkg/provider/translate/mock"
	"github.com/interpres-live/interpres/pkg/types"
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

func testCore() config.CoreConfig {
	core := config.DefaultCore()
	core.FinalDebounceMs = 20
	core.SoftThrottleMs = 1 // effectively off for these tests
	return core
}

func testDefaults() config.RoomDefaults {
	return config.RoomDefaults{
		SourceLang:         "en",
		DefaultTargetLangs: []string{"de"},
		Voices:             map[string]config.VoiceConfig{"de": {VoiceID: "v-de"}},
	}
}

func newTestRoom(t *testing.T, opts Options) *Room {
	t.Helper()
	m := testMetrics(t)
	if opts.Slug == "" {
		opts.Slug = "plenary"
	}
	if opts.Core.PatchLRUPerRoom == 0 {
		opts.Core = testCore()
	}
	if opts.Defaults.DefaultTargetLangs == nil {
		opts.Defaults = testDefaults()
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = 10 * time.Millisecond
	}

	client := translate.NewClient(&translatemock.Provider{}, nil, translate.Config{}, m)
	r := NewRoom(opts, client, &synthmock.Provider{}, state.NewMemoryStore(), m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	r.Start(ctx)
	return r
}

func attach(t *testing.T, r *Room, role types.Role, lang string, wantsAudio bool) (*Listener, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	l := NewListener(conn, role, lang, wantsAudio, 64, 4<<20)
	r.Attach(l)

	if env := recvWire(t, conn); env.Type != TypeHello {
		t.Fatalf("first message = %q, want hello", env.Type)
	}
	if env := recvWire(t, conn); env.Type != TypeSnapshot {
		t.Fatalf("second message = %q, want snapshot", env.Type)
	}
	return l, conn
}

func decodeSegment(t *testing.T, env wireEnvelope) types.Segment {
	t.Helper()
	var seg types.Segment
	if err := json.Unmarshal(env.Payload, &seg); err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	return seg
}

// expectQuiet fails the test when the peer receives anything within d.
func expectQuiet(t *testing.T, conn *fakeConn, d time.Duration) {
	t.Helper()
	select {
	case data := <-conn.msgs:
		t.Errorf("unexpected message: %s", data)
	case <-time.After(d):
	}
}

func TestRoom_SoftPatchTranslatedDeliveredOnce(t *testing.T) {
	r := newTestRoom(t, Options{})
	_, conn := attach(t, r, types.RoleListener, "de", false)

	if err := r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 1, Stage: types.StageSoft, Op: types.OpReplace, Text: "Hello there.",
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// A translated listener sees each version exactly once, with the
	// translation already attached.
	env := recvWire(t, conn)
	if env.Type != TypePatch {
		t.Fatalf("type = %q", env.Type)
	}
	seg := decodeSegment(t, env)
	if seg.Translations["de"].Text != "[de] Hello there." {
		t.Errorf("translated view = %+v", seg.Translations["de"])
	}
	if seg.Stage != types.StageSoft || seg.Version != 1 {
		t.Errorf("segment = %+v", seg)
	}

	expectQuiet(t, conn, 150*time.Millisecond)
}

func TestRoom_HardSegmentDeliveredOncePerListener(t *testing.T) {
	r := newTestRoom(t, Options{})
	_, conn := attach(t, r, types.RoleListener, "de", false)

	if err := r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 3, Stage: types.StageHard, Op: types.OpReplace, Text: "Hello there.",
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	deliveries := 0
	deadline := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case data := <-conn.msgs:
			var env wireEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("bad envelope %q: %v", data, err)
			}
			if env.Type != TypePatch {
				continue
			}
			seg := decodeSegment(t, env)
			if seg.UnitID == "s|en|1" && seg.Version == 3 && seg.Stage == types.StageHard {
				deliveries++
			}
		case <-deadline:
			done = true
		}
	}
	if deliveries != 1 {
		t.Errorf("hard (s|en|1, v3) delivered %d times, want exactly 1", deliveries)
	}
}

func TestRoom_SoftCancelsFinalDebounce(t *testing.T) {
	core := testCore()
	core.FinalDebounceMs = 500
	r := newTestRoom(t, Options{Core: core, Defaults: testDefaults()})
	_, conn := attach(t, r, types.RoleSpeaker, "", false)

	if err := r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 2, Stage: types.StageHard, Op: types.OpReplace, Text: "Hello there.",
	}); err != nil {
		t.Fatalf("hard Ingest: %v", err)
	}
	start := time.Now()
	if err := r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 3, Stage: types.StageSoft, Op: types.OpReplace, Text: "Hello there. And",
	}); err != nil {
		t.Fatalf("soft Ingest: %v", err)
	}

	// The recognizer moved on, so the hard goes out now, not after the
	// debounce window.
	env := recvWire(t, conn)
	if env.Type != TypePatch {
		t.Fatalf("type = %q", env.Type)
	}
	seg := decodeSegment(t, env)
	if seg.Stage != types.StageHard || seg.UnitID != "s|en|1" {
		t.Fatalf("segment = %+v", seg)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("hard emitted after %v; the in-window soft should cancel the debounce", elapsed)
	}
}

func TestRoom_HardFinalProducesAudio(t *testing.T) {
	r := newTestRoom(t, Options{})
	_, conn := attach(t, r, types.RoleListener, "de", true)

	if err := r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 1, Stage: types.StageHard, Op: types.OpReplace,
		Text: "Hello there.", TTSFinal: true,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var sawTranslated, sawAudio bool
	for range 4 {
		env := recvWire(t, conn)
		switch env.Type {
		case TypePatch:
			seg := decodeSegment(t, env)
			if seg.Translations["de"].Text == "[de] Hello there." {
				sawTranslated = true
			}
		case TypeTTS:
			var p TTSPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("decode tts: %v", err)
			}
			if p.UnitID != "s|en|1" || p.Lang != "de" || len(p.Audio) == 0 {
				t.Errorf("tts payload = unit %q lang %q %d audio bytes", p.UnitID, p.Lang, len(p.Audio))
			}
			sawAudio = true
		}
		if sawTranslated && sawAudio {
			break
		}
	}
	if !sawTranslated || !sawAudio {
		t.Errorf("translated=%v audio=%v", sawTranslated, sawAudio)
	}
}

func TestRoom_SpeakerGetsSourceMirror(t *testing.T) {
	r := newTestRoom(t, Options{})
	_, conn := attach(t, r, types.RoleSpeaker, "", false)

	r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 1, Stage: types.StageSoft, Op: types.OpReplace, Text: "Hello there.",
	})

	env := recvWire(t, conn)
	seg := decodeSegment(t, env)
	if seg.SrcText != "Hello there." {
		t.Errorf("src text = %q", seg.SrcText)
	}
	if len(seg.Translations) != 0 {
		t.Errorf("speaker mirror carries translations: %+v", seg.Translations)
	}
}

func TestRoom_SnapshotOrdersHardBeforeSoft(t *testing.T) {
	r := newTestRoom(t, Options{})

	r.Ingest(types.Patch{UnitID: "s|en|1", Version: 1, Stage: types.StageSoft, Op: types.OpReplace, Text: "Draft one."})
	r.Ingest(types.Patch{UnitID: "s|en|2", Version: 1, Stage: types.StageHard, Op: types.OpReplace, Text: "Final two."})

	// Wait out the final debounce so the hard unit is fully processed.
	time.Sleep(100 * time.Millisecond)

	conn := newFakeConn()
	l := NewListener(conn, types.RoleListener, "de", false, 64, 4<<20)
	r.Attach(l)

	recvWire(t, conn) // hello
	env := recvWire(t, conn)
	if env.Type != TypeSnapshot {
		t.Fatalf("type = %q", env.Type)
	}
	var snap SnapshotPayload
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(snap.Segments))
	}
	if snap.Segments[0].Stage != types.StageHard || snap.Segments[1].Stage != types.StageSoft {
		t.Errorf("order = %q, %q", snap.Segments[0].Stage, snap.Segments[1].Stage)
	}
}

func TestRoom_LangChangeResnapshots(t *testing.T) {
	r := newTestRoom(t, Options{
		Core: testCore(),
		Defaults: config.RoomDefaults{
			SourceLang:         "en",
			DefaultTargetLangs: []string{"de", "fr"},
		},
	})
	l, conn := attach(t, r, types.RoleListener, "de", false)

	r.SetLang(l.ID, "fr", false)

	env := recvWire(t, conn)
	if env.Type != TypeSnapshot {
		t.Fatalf("type = %q", env.Type)
	}
	var snap SnapshotPayload
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Lang != "fr" {
		t.Errorf("snapshot lang = %q", snap.Lang)
	}
}

func TestRoom_LangChangeTogglesAudio(t *testing.T) {
	r := newTestRoom(t, Options{
		Core: testCore(),
		Defaults: config.RoomDefaults{
			SourceLang:         "en",
			DefaultTargetLangs: []string{"de", "fr"},
		},
	})
	l, conn := attach(t, r, types.RoleListener, "de", false)

	if r.audio.has("de") {
		t.Fatal("audio counted before the listener asked for it")
	}

	waitAudio := func(lang string, want bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for r.audio.has(lang) != want {
			if time.Now().After(deadline) {
				t.Fatalf("audio.has(%q) never became %v", lang, want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	// Same language, audio switched on: counts move, no re-snapshot.
	r.SetLang(l.ID, "de", true)
	waitAudio("de", true)
	expectQuiet(t, conn, 50*time.Millisecond)

	// New language with audio: the count follows the listener.
	r.SetLang(l.ID, "fr", true)
	waitAudio("fr", true)
	waitAudio("de", false)
	if env := recvWire(t, conn); env.Type != TypeSnapshot {
		t.Errorf("type = %q, want snapshot after language change", env.Type)
	}

	// Audio off again.
	r.SetLang(l.ID, "fr", false)
	waitAudio("fr", false)
}

func TestRoom_MailboxOverflow(t *testing.T) {
	m := testMetrics(t)
	client := translate.NewClient(&translatemock.Provider{}, nil, translate.Config{}, m)
	// Not started, so the mailbox only fills.
	r := NewRoom(Options{
		Slug: "plenary", Defaults: testDefaults(), Core: testCore(), MailboxSize: 1,
	}, client, &synthmock.Provider{}, state.NewMemoryStore(), m)

	if err := r.Ingest(types.Patch{UnitID: "s|en|1", Version: 1, Stage: types.StageSoft, Op: types.OpReplace}); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if err := r.Ingest(types.Patch{UnitID: "s|en|2", Version: 1, Stage: types.StageSoft, Op: types.OpReplace}); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("err = %v, want ErrMailboxFull", err)
	}
}

func TestRoom_WatchdogAdvisory(t *testing.T) {
	core := testCore()
	core.WatchdogEventIdleMs = 30
	core.WatchdogPCMIdleMs = 20
	r := newTestRoom(t, Options{Core: core, Defaults: testDefaults()})
	_, conn := attach(t, r, types.RoleSpeaker, "", false)

	env := recvWire(t, conn)
	if env.Type != TypeAdvisory {
		t.Fatalf("type = %q, want advisory", env.Type)
	}
	var p AdvisoryPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode advisory: %v", err)
	}
	if p.Kind != AdvisoryRestartCapture {
		t.Errorf("kind = %q", p.Kind)
	}

	// Disarmed until a stream resumes: the outage produces no second advisory.
	select {
	case data := <-conn.msgs:
		t.Errorf("unexpected second advisory: %s", data)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestRoom_IdleTeardown(t *testing.T) {
	retired := make(chan string, 1)
	var offset atomic.Int64

	m := testMetrics(t)
	client := translate.NewClient(&translatemock.Provider{}, nil, translate.Config{}, m)
	r := NewRoom(Options{
		Slug:         "plenary",
		Defaults:     testDefaults(),
		Core:         testCore(),
		TickInterval: 10 * time.Millisecond,
		OnIdle: func(slug string) {
			select {
			case retired <- slug:
			default:
			}
		},
	}, client, &synthmock.Provider{}, state.NewMemoryStore(), m)
	r.now = func() time.Time {
		return time.Now().Add(time.Duration(offset.Load()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	r.Start(ctx)

	// Jump past the 10 minute idle TTL.
	offset.Store(int64(11 * time.Minute))

	select {
	case slug := <-retired:
		if slug != "plenary" {
			t.Errorf("slug = %q", slug)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle room never retired")
	}
}

func TestRoom_PersistsFinalUnits(t *testing.T) {
	store := state.NewMemoryStore()
	m := testMetrics(t)
	client := translate.NewClient(&translatemock.Provider{}, nil, translate.Config{}, m)
	r := NewRoom(Options{
		Slug: "plenary", Defaults: testDefaults(), Core: testCore(),
		TickInterval: 10 * time.Millisecond,
	}, client, &synthmock.Provider{}, store, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 1, Stage: types.StageHard, Op: types.OpReplace,
		Text: "Final text.", TTSFinal: true,
	})
	time.Sleep(150 * time.Millisecond)
	r.Close()

	units, err := store.LoadUnits(context.Background(), "plenary")
	if err != nil {
		t.Fatalf("LoadUnits: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("units = %d, want 1", len(units))
	}
	if units[0].Segment.SrcText != "Final text." {
		t.Errorf("text = %q", units[0].Segment.SrcText)
	}
}

func TestRoom_RehydratesFromStore(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()
	store.SaveUnit(ctx, "plenary", state.StoredUnit{Order: 0, Segment: types.Segment{
		UnitID: "s|en|1", Version: 3, Stage: types.StageHard, SrcLang: "en",
		SrcText: "Restored.", SrcSentLen: []int{9},
	}})

	m := testMetrics(t)
	client := translate.NewClient(&translatemock.Provider{}, nil, translate.Config{}, m)
	r := NewRoom(Options{
		Slug: "plenary", Defaults: testDefaults(), Core: testCore(),
	}, client, &synthmock.Provider{}, store, m)

	segs := r.Snapshot()
	if len(segs) != 1 || segs[0].SrcText != "Restored." {
		t.Fatalf("snapshot = %+v", segs)
	}

	// A stale replay of the persisted version is still dropped.
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	r.Start(runCtx)

	if err := r.Ingest(types.Patch{
		UnitID: "s|en|1", Version: 3, Stage: types.StageHard, Op: types.OpReplace, Text: "Replay.",
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if segs := r.Snapshot(); segs[0].SrcText != "Restored." {
		t.Errorf("stale replay overwrote unit: %q", segs[0].SrcText)
	}
}
