// Package room hosts the per-room actor that ties the pipeline together:
// patches enter its mailbox, stabilized segments fan out to translation, TTS
// lanes, connected peers, and the state store. All room state is owned by the
// actor goroutine; the exported methods only post messages.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/interpres-live/interpres/internal/config"
	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/internal/segment"
	"github.com/interpres-live/interpres/internal/state"
	"github.com/interpres-live/interpres/internal/translate"
	"github.com/interpres-live/interpres/internal/tts"
	"github.com/interpres-live/interpres/pkg/audio"
	"github.com/interpres-live/interpres/pkg/provider/synth"
	"github.com/interpres-live/interpres/pkg/types"
)

// ErrMailboxFull is returned by [Room.Ingest] and [Room.Submit] when the
// room cannot keep up; the ingest surface maps it to 503.
var ErrMailboxFull = errors.New("room: mailbox full")

var errRoomClosed = errors.New("room: closed")

// Options configures one room.
type Options struct {
	Slug     string
	Defaults config.RoomDefaults
	Core     config.CoreConfig

	// MailboxSize bounds the actor mailbox. Default 256.
	MailboxSize int

	// TickInterval drives throttle flushes, the watchdog, and idle checks.
	// Default 100ms; shortened in tests.
	TickInterval time.Duration

	// OnIdle is called (from the actor) when the room has been empty past the
	// idle TTL. The hub uses it to tear the room down.
	OnIdle func(slug string)
}

// Room is one conference room. Create with [NewRoom], start with
// [Room.Start], stop with [Room.Close].
type Room struct {
	opts       Options
	proc       *segment.Processor
	translator *translate.Client
	synthesize synth.Provider
	store      state.Store
	metrics    *observe.Metrics

	mailbox chan msg
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup

	// audio listener counts are read by lane worker goroutines.
	audio audioCounts

	// Everything below is owned by the actor goroutine.
	listeners    map[string]*Listener
	lanes        map[string]*tts.Queue
	watchdog     *Watchdog
	seq          uint64
	sessionLang  map[string]string
	detecting    map[string]bool
	debounce     map[string]*time.Timer
	unitTargets  map[string][]string
	lastActivity time.Time
	pendingTTS   []pendingTTS

	now func() time.Time
}

// pendingTTS is a rehydrated queue item waiting for the actor to start.
type pendingTTS struct {
	unitID string
	lang   string
	text   string
}

// Mailbox message kinds.
type msg interface{ isMsg() }

type msgIngest struct {
	patch   types.Patch
	targets []string
	// reply, when non-nil, receives whether the processor discarded the
	// patch as stale. Buffered by the sender; the actor never blocks on it.
	reply chan bool
}

type msgTranslated struct {
	unit    segment.Unit
	targets []string
	tr      map[string]types.Translation
	err     error
	final   bool
}

type msgSynth struct{ ev tts.Event }

type msgAttach struct {
	l    *Listener
	done chan struct{}
}

type msgDetach struct{ id string }

type msgLang struct {
	id         string
	lang       string
	wantsAudio bool
}

type msgHeartbeat struct{}

type msgFinal struct{ unitID string }

type msgDetected struct{ session, lang string }

func (msgIngest) isMsg()     {}
func (msgTranslated) isMsg() {}
func (msgSynth) isMsg()      {}
func (msgAttach) isMsg()     {}
func (msgDetach) isMsg()     {}
func (msgLang) isMsg()       {}
func (msgHeartbeat) isMsg()  {}
func (msgFinal) isMsg()      {}
func (msgDetected) isMsg()   {}

// NewRoom creates a room and rehydrates it from the state store.
func NewRoom(opts Options, translator *translate.Client, synthesizer synth.Provider, store state.Store, m *observe.Metrics) *Room {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 256
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	core := opts.Core

	r := &Room{
		opts: opts,
		proc: segment.NewProcessor(segment.Config{
			SoftThrottle:      time.Duration(core.SoftThrottleMs) * time.Millisecond,
			SoftMinDeltaChars: core.SoftMinDeltaChars,
			MaxUnits:          core.PatchLRUPerRoom,
		}),
		translator:  translator,
		synthesize:  synthesizer,
		store:       store,
		metrics:     m,
		mailbox:     make(chan msg, opts.MailboxSize),
		done:        make(chan struct{}),
		listeners:   make(map[string]*Listener),
		lanes:       make(map[string]*tts.Queue),
		sessionLang: make(map[string]string),
		detecting:   make(map[string]bool),
		debounce:    make(map[string]*time.Timer),
		unitTargets: make(map[string][]string),
		now:         time.Now,
	}
	r.audio.byLang = make(map[string]int)
	r.rehydrate()
	return r
}

// Start launches the actor.
func (r *Room) Start(ctx context.Context) {
	now := r.now()
	r.lastActivity = now
	r.watchdog = NewWatchdog(
		time.Duration(r.opts.Core.WatchdogEventIdleMs)*time.Millisecond,
		time.Duration(r.opts.Core.WatchdogPCMIdleMs)*time.Millisecond,
		now,
	)
	r.wg.Add(1)
	go r.run(ctx)
}

// Close persists the room and stops the actor. Safe to call more than once.
func (r *Room) Close() {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.closeMu.Unlock()
	r.wg.Wait()
}

// Slug returns the room identifier.
func (r *Room) Slug() string { return r.opts.Slug }

// TargetLangs returns the room's translation targets.
func (r *Room) TargetLangs() []string { return r.opts.Defaults.DefaultTargetLangs }

// SourcePolicy returns the configured source language ("" means auto-detect)
// and the auto-detection candidates.
func (r *Room) SourcePolicy() (string, []string) {
	return r.opts.Defaults.SourceLang, r.opts.Defaults.AutoDetectLangs
}

// Ingest posts a patch into the room without waiting for the outcome. Never
// blocks; a full mailbox returns [ErrMailboxFull]. The speaker WebSocket
// uses this path.
func (r *Room) Ingest(p types.Patch) error {
	return r.ingest(p, nil, nil)
}

// Submit posts a patch and waits for the processor's verdict, reporting
// whether the patch was discarded as stale. The HTTP ingest surface uses
// this path so capture clients see staleness synchronously. targets, when
// non-empty, overrides the room's default fan-out languages for the patch's
// unit.
func (r *Room) Submit(ctx context.Context, p types.Patch, targets []string) (stale bool, err error) {
	reply := make(chan bool, 1)
	if err := r.ingest(p, targets, reply); err != nil {
		return false, err
	}
	select {
	case stale := <-reply:
		return stale, nil
	case <-r.done:
		return false, errRoomClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *Room) ingest(p types.Patch, targets []string, reply chan bool) error {
	select {
	case r.mailbox <- msgIngest{patch: p, targets: targets, reply: reply}:
		return nil
	case <-r.done:
		return errRoomClosed
	default:
		r.metrics.RecordPatchDrop(context.Background(), "overflow")
		return ErrMailboxFull
	}
}

// Attach registers a peer and blocks until its snapshot has been queued.
func (r *Room) Attach(l *Listener) {
	done := make(chan struct{})
	if r.post(msgAttach{l: l, done: done}) {
		<-done
	}
}

// Detach removes a peer and closes its connection.
func (r *Room) Detach(id string) {
	r.post(msgDetach{id: id})
}

// SetLang switches a listener's target language and audio preference,
// re-snapshotting it when the language changed.
func (r *Room) SetLang(id, lang string, wantsAudio bool) {
	r.post(msgLang{id: id, lang: lang, wantsAudio: wantsAudio})
}

// Heartbeat records capture liveness from the speaker client.
func (r *Room) Heartbeat() {
	r.post(msgHeartbeat{})
}

// Snapshot returns the room's segments in delivery order, hard units first.
// Used by the room metadata endpoint.
func (r *Room) Snapshot() []types.Segment {
	return snapshotSegments(r.proc.Snapshot())
}

// post delivers a message to the actor, blocking until accepted or the room
// is closed.
func (r *Room) post(m msg) bool {
	select {
	case r.mailbox <- m:
		return true
	case <-r.done:
		return false
	}
}

// run is the actor loop.
func (r *Room) run(ctx context.Context) {
	defer r.wg.Done()
	defer r.shutdown(ctx)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	// Re-queue synthesis items that were in flight before the restart.
	for _, p := range r.pendingTTS {
		r.enqueueTTS(ctx, p.unitID, p.lang, p.text)
	}
	r.pendingTTS = nil

	for {
		select {
		case m := <-r.mailbox:
			r.handle(ctx, m)
		case <-ticker.C:
			r.tick(ctx)
		case <-r.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Room) handle(ctx context.Context, m msg) {
	switch m := m.(type) {
	case msgIngest:
		r.handleIngest(ctx, m)
	case msgTranslated:
		r.handleTranslated(ctx, m)
	case msgSynth:
		r.handleSynth(ctx, m.ev)
	case msgAttach:
		r.handleAttach(ctx, m.l)
		close(m.done)
	case msgDetach:
		r.detach(ctx, m.id, "")
	case msgLang:
		r.handleLangChange(m.id, m.lang, m.wantsAudio)
	case msgHeartbeat:
		now := r.now()
		r.lastActivity = now
		r.watchdog.NotePCM(now)
	case msgFinal:
		r.handleFinal(ctx, m.unitID)
	case msgDetected:
		r.sessionLang[m.session] = m.lang
		delete(r.detecting, m.session)
	}
}

func (r *Room) handleIngest(ctx context.Context, m msgIngest) {
	p := m.patch
	now := r.now()
	r.lastActivity = now
	r.watchdog.NoteEvent(now)

	if p.SrcLang == "" {
		p.SrcLang = r.resolveLang(ctx, p)
	}
	if len(m.targets) > 0 {
		r.unitTargets[p.UnitID] = m.targets
	}

	res := r.proc.Submit(p, now)
	if m.reply != nil {
		m.reply <- res.Action == segment.ActionDropped
	}

	// A soft patch landing inside a unit's final debounce means the
	// recognizer has moved on; emit the pending hard now instead of waiting
	// out the window.
	if p.Stage == types.StageSoft {
		if _, ok := r.debounce[p.UnitID]; ok {
			r.handleFinal(ctx, p.UnitID)
		}
	}

	switch res.Action {
	case segment.ActionDropped:
		r.metrics.RecordPatchDrop(ctx, res.Reason)
		return
	case segment.ActionThrottled:
		r.metrics.RecordPatch(ctx, string(p.Stage))
		return
	}
	r.metrics.RecordPatch(ctx, string(p.Stage))

	if res.Unit.Stage == types.StageHard {
		r.armFinal(res.Unit.UnitID)
		return
	}
	r.dispatch(ctx, res.Unit, false)
}

// armFinal starts (or restarts) the final debounce for a unit. The unit is
// processed once the recognizer has been quiet on it for the window.
func (r *Room) armFinal(unitID string) {
	if t, ok := r.debounce[unitID]; ok {
		t.Reset(r.finalDebounce())
		return
	}
	r.debounce[unitID] = time.AfterFunc(r.finalDebounce(), func() {
		r.post(msgFinal{unitID: unitID})
	})
}

func (r *Room) finalDebounce() time.Duration {
	return time.Duration(r.opts.Core.FinalDebounceMs) * time.Millisecond
}

func (r *Room) handleFinal(ctx context.Context, unitID string) {
	t, ok := r.debounce[unitID]
	if !ok {
		// Already emitted: a timer that fired while a soft was cancelling
		// the window posts a second final for the same version.
		return
	}
	t.Stop()
	delete(r.debounce, unitID)

	u, ok := r.proc.Get(unitID)
	if !ok || u.Stage != types.StageHard {
		return
	}
	r.dispatch(ctx, u, true)
}

// dispatch broadcasts the unit's current state and fans out translation.
// final marks the post-debounce hard pass that also feeds the TTS lanes.
//
// Source-view peers (the speaker mirror and listeners reading the source
// language) get the unit immediately. Translated listeners receive nothing
// here; their single delivery happens in [Room.handleTranslated] once the
// translation (or its identity fallback) resolves, so no listener ever sees
// the same (unit, version) twice.
func (r *Room) dispatch(ctx context.Context, u segment.Unit, final bool) {
	targets := r.translationTargets(u)
	if len(targets) == 0 {
		r.broadcastSegment(u, nil)
		if final {
			r.persistUnit(ctx, u)
		}
		return
	}

	srcLang := u.SrcLang
	r.broadcastSegment(u, func(l *Listener) bool { return sourceView(l, srcLang) })

	go func() {
		tr, err := r.translator.Translate(ctx, u.Text, u.SrcLang, u.SentLen, targets)
		r.post(msgTranslated{unit: u, targets: targets, tr: tr, err: err, final: final})
	}()
}

func (r *Room) handleTranslated(ctx context.Context, m msgTranslated) {
	tr := m.tr
	if m.err != nil {
		// Identity fallback: listeners keep reading source text.
		slog.Warn("translation failed, broadcasting source text",
			"room", r.opts.Slug, "unit", m.unit.UnitID, "error", m.err)
		tr = make(map[string]types.Translation, len(m.targets))
		for _, lang := range m.targets {
			tr[lang] = types.Translation{Lang: lang, Text: m.unit.Text, TransSentLen: m.unit.SentLen}
			r.metrics.TranslationsFailed.Add(ctx, 1,
				observeAttr("lang", lang))
		}
	}

	u, ok := r.proc.SetTranslations(m.unit.UnitID, m.unit.Version, tr)
	if !ok {
		// The unit moved on while translation ran; the newer version's own
		// fan-out supersedes this result.
		return
	}

	// Source-view peers already got this version in dispatch.
	srcLang := u.SrcLang
	r.broadcastSegment(u, func(l *Listener) bool { return !sourceView(l, srcLang) })

	if m.final {
		r.persistUnit(ctx, u)
		if u.TTSFinal {
			for _, lang := range m.targets {
				r.enqueueTTS(ctx, u.UnitID, lang, tr[lang].Text)
			}
		}
	}
}

func (r *Room) enqueueTTS(ctx context.Context, unitID, lang, text string) {
	if text == "" || r.synthesize == nil {
		return
	}
	lane := r.laneFor(ctx, lang)
	lane.Enqueue(unitID, text)
	r.saveTTSMeta(ctx, state.TTSMeta{UnitID: unitID, Lang: lang, State: types.TTSQueued})
}

func (r *Room) handleSynth(ctx context.Context, ev tts.Event) {
	st := types.TTSDone
	if ev.TextOnly {
		// No audio for this item; captions already went out with the segment.
		r.saveTTSMeta(ctx, state.TTSMeta{UnitID: ev.Item.UnitID, Lang: ev.Item.Lang, State: st})
		return
	}

	payload := TTSPayload{
		UnitID:     ev.Item.UnitID,
		Lang:       ev.Item.Lang,
		Format:     ev.Audio.Format,
		DurationMs: ev.Audio.DurationMs,
		Audio:      ev.Audio.Data,
	}
	// 48 kHz PCM is what the Opus encoder accepts; transcoding there cuts the
	// wire size roughly tenfold. Other formats ship as delivered.
	if ev.Audio.Format == "pcm_48000" {
		if packets, err := opusPackets(ev.Audio.Data); err == nil {
			payload.Format = "opus"
			payload.Audio = nil
			payload.Packets = packets
		} else {
			slog.Warn("opus transcode failed, shipping raw pcm",
				"room", r.opts.Slug, "unit", ev.Item.UnitID, "error", err)
		}
	}

	r.seq++
	env := Envelope{Type: TypeTTS, Seq: r.seq, Payload: payload}
	for id, l := range r.listeners {
		if !l.WantsAudio || l.Lang != ev.Item.Lang {
			continue
		}
		if !l.Enqueue(env) {
			r.detach(ctx, id, "overflow")
		}
	}
	r.saveTTSMeta(ctx, state.TTSMeta{
		UnitID: ev.Item.UnitID, Lang: ev.Item.Lang,
		State: st, EstDurationMs: ev.Audio.DurationMs,
	})
}

func (r *Room) handleAttach(ctx context.Context, l *Listener) {
	r.lastActivity = r.now()
	r.listeners[l.ID] = l
	if l.WantsAudio {
		r.audio.add(l.Lang, 1)
	}
	l.Start(ctx)
	r.metrics.RoomParticipants.Add(ctx, 1, observeAttr("role", string(l.Role)))

	r.seq++
	l.Enqueue(Envelope{Type: TypeHello, Seq: r.seq, Payload: HelloPayload{
		Room:        r.opts.Slug,
		ListenerID:  l.ID,
		Role:        l.Role,
		Lang:        l.Lang,
		TargetLangs: r.opts.Defaults.DefaultTargetLangs,
	}})
	r.sendSnapshot(l)
}

func (r *Room) handleLangChange(id, lang string, wantsAudio bool) {
	l, ok := r.listeners[id]
	if !ok || (l.Lang == lang && l.WantsAudio == wantsAudio) {
		return
	}
	if l.WantsAudio {
		r.audio.add(l.Lang, -1)
	}
	if wantsAudio {
		r.audio.add(lang, 1)
	}
	langChanged := l.Lang != lang
	l.Lang = lang
	l.WantsAudio = wantsAudio
	if langChanged {
		r.sendSnapshot(l)
	}
}

// sendSnapshot queues the late-joiner snapshot: hard segments in unit order,
// then the soft head.
func (r *Room) sendSnapshot(l *Listener) {
	segs := snapshotSegments(r.proc.Snapshot())
	view := make([]types.Segment, len(segs))
	for i, s := range segs {
		view[i] = r.segmentView(s, l)
	}
	r.seq++
	l.Enqueue(Envelope{Type: TypeSnapshot, Seq: r.seq, Payload: SnapshotPayload{
		Room:     r.opts.Slug,
		Lang:     l.Lang,
		Segments: view,
	}})
}

func (r *Room) detach(ctx context.Context, id, reason string) {
	l, ok := r.listeners[id]
	if !ok {
		return
	}
	delete(r.listeners, id)
	if l.WantsAudio {
		r.audio.add(l.Lang, -1)
	}
	r.metrics.RoomParticipants.Add(ctx, -1, observeAttr("role", string(l.Role)))
	if reason != "" {
		slog.Warn("disconnecting listener", "room", r.opts.Slug, "listener", id, "reason", reason)
	}
	// Close drains the writer; do it off the actor goroutine.
	go l.Close()
}

func (r *Room) tick(ctx context.Context) {
	now := r.now()

	for _, u := range r.proc.Flush(now) {
		r.dispatch(ctx, u, false)
	}

	if r.watchdog.Check(now) {
		r.metrics.WatchdogAdvisories.Add(ctx, 1)
		slog.Warn("stream silence detected, advising capture restart", "room", r.opts.Slug)
		r.seq++
		env := Envelope{Type: TypeAdvisory, Seq: r.seq, Payload: AdvisoryPayload{
			Kind:    AdvisoryRestartCapture,
			Message: "recognizer events and audio both idle; restart capture",
		}}
		for id, l := range r.listeners {
			if l.Role != types.RoleSpeaker && l.Role != types.RoleAdmin {
				continue
			}
			if !l.Enqueue(env) {
				r.detach(ctx, id, "overflow")
			}
		}
	}

	idle := time.Duration(r.opts.Core.RoomIdleTTLMin) * time.Minute
	if len(r.listeners) == 0 && now.Sub(r.lastActivity) > idle && r.opts.OnIdle != nil {
		r.opts.OnIdle(r.opts.Slug)
	}
}

// broadcastSegment sends the unit to every peer in its language view for
// which keep returns true. A nil keep reaches everyone.
func (r *Room) broadcastSegment(u segment.Unit, keep func(*Listener) bool) {
	seg := u.Segment()
	r.seq++
	for id, l := range r.listeners {
		if keep != nil && !keep(l) {
			continue
		}
		env := Envelope{Type: TypePatch, Seq: r.seq, Payload: r.segmentView(seg, l)}
		if !l.Enqueue(env) {
			r.detach(context.Background(), id, "overflow")
		}
	}
}

// sourceView reports whether a peer reads the unit's untranslated source
// text: the speaker mirror, listeners without a target language, and
// listeners whose target matches the source.
func sourceView(l *Listener, srcLang string) bool {
	return l.Role == types.RoleSpeaker || l.Lang == "" || l.Lang == srcLang
}

// segmentView trims a segment to what one peer needs: speakers get the source
// mirror, listeners and admins get their language's translation only.
func (r *Room) segmentView(seg types.Segment, l *Listener) types.Segment {
	out := seg
	out.Translations = nil
	if l.Role == types.RoleSpeaker || l.Lang == "" || l.Lang == seg.SrcLang {
		return out
	}
	out.Translations = map[string]types.Translation{
		l.Lang: seg.TranslationFor(l.Lang),
	}
	return out
}

// resolveLang applies the room's source policy to a patch without a language
// tag: a configured source language wins; otherwise detection runs once per
// capture session.
func (r *Room) resolveLang(ctx context.Context, p types.Patch) string {
	session, unitLang, _, err := types.ParseUnitID(p.UnitID)
	if err == nil && unitLang != "" && unitLang != "auto" {
		return unitLang
	}
	if lang, ok := r.sessionLang[session]; ok {
		return lang
	}
	if cfg := r.opts.Defaults.SourceLang; cfg != "" {
		return cfg
	}
	if !r.detecting[session] && p.Text != "" {
		r.detecting[session] = true
		text := p.Text
		go func() {
			lang, err := r.translator.Detect(ctx, text)
			if err != nil {
				slog.Warn("language detection failed", "room", r.opts.Slug, "error", err)
				lang = ""
			}
			r.post(msgDetected{session: session, lang: lang})
		}()
	}
	return ""
}

// translationTargets returns the unit's fan-out languages minus the source
// language. A per-unit override from the ingest request wins over the room
// defaults.
func (r *Room) translationTargets(u segment.Unit) []string {
	langs := r.opts.Defaults.DefaultTargetLangs
	if req, ok := r.unitTargets[u.UnitID]; ok {
		langs = req
	}
	targets := make([]string, 0, len(langs))
	for _, lang := range langs {
		if lang != u.SrcLang {
			targets = append(targets, lang)
		}
	}
	return targets
}

// laneFor returns the TTS lane for a language, creating it on first use.
func (r *Room) laneFor(ctx context.Context, lang string) *tts.Queue {
	if lane, ok := r.lanes[lang]; ok {
		return lane
	}

	voice := r.opts.Defaults.Voices[lang]
	core := r.opts.Core
	lane := tts.New(r.synthesize, tts.Config{
		Room:          r.opts.Slug,
		Lang:          lang,
		Voice:         voice.VoiceID,
		FastVoice:     voice.FastID,
		FallbackVoice: voice.FastID,
		MaxBacklog:    time.Duration(core.TTSMaxBacklogSec) * time.Second,
		ResumeBacklog: time.Duration(core.TTSResumeBacklogSec) * time.Second,
		RateBoostPct:  core.TTSRateBoostPct,
	}, func(ev tts.Event) {
		r.post(msgSynth{ev: ev})
	}, func() bool {
		return r.audio.has(lang)
	}, r.metrics)
	lane.Start(ctx)
	r.lanes[lang] = lane
	return lane
}

// rehydrate restores the processor and re-queues interrupted TTS items from
// the state store.
func (r *Room) rehydrate() {
	ctx := context.Background()
	stored, err := r.store.LoadUnits(ctx, r.opts.Slug)
	if err != nil {
		slog.Warn("state rehydration failed, starting empty", "room", r.opts.Slug, "error", err)
		return
	}
	if len(stored) == 0 {
		return
	}

	units := make([]segment.Unit, 0, len(stored))
	byID := make(map[string]segment.Unit, len(stored))
	for _, su := range stored {
		u := segment.Unit{
			UnitID:       su.Segment.UnitID,
			Version:      su.Segment.Version,
			Stage:        su.Segment.Stage,
			SrcLang:      su.Segment.SrcLang,
			Text:         su.Segment.SrcText,
			SentLen:      su.Segment.SrcSentLen,
			TTSFinal:     su.Segment.TTSFinal,
			Ts:           su.Segment.Ts,
			Translations: su.Segment.Translations,
		}
		units = append(units, u)
		byID[u.UnitID] = u
	}
	r.proc.Restore(units)
	slog.Info("room rehydrated", "room", r.opts.Slug, "units", len(units))

	metas, err := r.store.LoadTTSMeta(ctx, r.opts.Slug)
	if err != nil {
		slog.Warn("tts metadata rehydration failed", "room", r.opts.Slug, "error", err)
		return
	}
	r.pendingTTS = nil
	for _, meta := range state.DemoteInFlight(metas) {
		if meta.State != types.TTSQueued {
			continue
		}
		u, ok := byID[meta.UnitID]
		if !ok {
			continue
		}
		text := u.Text
		if t, ok := u.Translations[meta.Lang]; ok {
			text = t.Text
		}
		r.pendingTTS = append(r.pendingTTS, pendingTTS{unitID: meta.UnitID, lang: meta.Lang, text: text})
	}
}

// persistUnit saves a finalized unit and appends it to the room transcript.
// Best effort: persistence failures are logged, the live pipeline keeps
// going.
func (r *Room) persistUnit(ctx context.Context, u segment.Unit) {
	order := r.unitOrder(u.UnitID)
	if err := r.store.SaveUnit(ctx, r.opts.Slug, state.StoredUnit{Order: order, Segment: u.Segment()}); err != nil {
		slog.Warn("unit persistence failed", "room", r.opts.Slug, "unit", u.UnitID, "error", err)
	}
	entry := state.HistoryEntry{Seq: r.seq, At: r.now().UnixMilli(), Segment: u.Segment()}
	if err := r.store.SaveHistory(ctx, r.opts.Slug, entry); err != nil {
		slog.Warn("history persistence failed", "room", r.opts.Slug, "unit", u.UnitID, "error", err)
	}
	// The unit is finalized; any per-request target override has served its
	// purpose.
	delete(r.unitTargets, u.UnitID)
}

func (r *Room) saveTTSMeta(ctx context.Context, meta state.TTSMeta) {
	if err := r.store.SaveTTSMeta(ctx, r.opts.Slug, meta); err != nil {
		slog.Warn("tts metadata persistence failed", "room", r.opts.Slug, "unit", meta.UnitID, "error", err)
	}
}

// unitOrder derives a unit's first-appearance index from the processor
// snapshot.
func (r *Room) unitOrder(unitID string) uint64 {
	for i, u := range r.proc.Snapshot() {
		if u.UnitID == unitID {
			return uint64(i)
		}
	}
	return 0
}

// shutdown persists the room and releases lanes and listeners. Runs on the
// actor goroutine after the loop exits.
func (r *Room) shutdown(ctx context.Context) {
	for _, t := range r.debounce {
		t.Stop()
	}
	for i, u := range r.proc.Snapshot() {
		if err := r.store.SaveUnit(ctx, r.opts.Slug, state.StoredUnit{Order: uint64(i), Segment: u.Segment()}); err != nil {
			slog.Warn("shutdown persistence failed", "room", r.opts.Slug, "unit", u.UnitID, "error", err)
			break
		}
	}
	for _, lane := range r.lanes {
		lane.Close()
	}
	for _, l := range r.listeners {
		l.Close()
	}
}

// snapshotSegments orders units for delivery: hard segments in first-seen
// order, then the soft head.
func snapshotSegments(units []segment.Unit) []types.Segment {
	out := make([]types.Segment, 0, len(units))
	for _, u := range units {
		if u.Stage == types.StageHard {
			out = append(out, u.Segment())
		}
	}
	for _, u := range units {
		if u.Stage == types.StageSoft {
			out = append(out, u.Segment())
		}
	}
	return out
}

// audioCounts tracks listeners wanting audio per language. Written by the
// actor, read by lane workers.
type audioCounts struct {
	mu     sync.Mutex
	byLang map[string]int
}

func (c *audioCounts) add(lang string, d int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLang[lang] += d
	if c.byLang[lang] <= 0 {
		delete(c.byLang, lang)
	}
}

func (c *audioCounts) has(lang string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byLang[lang] > 0
}

func observeAttr(key, value string) metric.AddOption {
	return metric.WithAttributes(observe.Attr(key, value))
}

// opusPackets transcodes a complete 48 kHz mono PCM buffer into Opus frames.
// A fresh encoder per utterance keeps codec state from leaking across items.
func opusPackets(pcm []byte) ([][]byte, error) {
	enc, err := audio.NewOpusEncoder()
	if err != nil {
		return nil, err
	}
	packets, err := enc.Encode(pcm)
	if err != nil {
		return nil, err
	}
	final, err := enc.Flush()
	if err != nil {
		return nil, err
	}
	if final != nil {
		packets = append(packets, final)
	}
	return packets, nil
}
