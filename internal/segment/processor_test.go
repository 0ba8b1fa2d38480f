package segment

import (
	"fmt"
	"testing"
	"time"

	"github.com/interpres-live/interpres/pkg/types"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func patch(unitID string, version uint32, stage types.Stage, text string) types.Patch {
	return types.Patch{
		UnitID:  unitID,
		Version: version,
		Stage:   stage,
		Op:      types.OpReplace,
		Text:    text,
		SrcLang: "en",
	}
}

func TestSubmit_SoftGrowth(t *testing.T) {
	p := NewProcessor(Config{})

	r := p.Submit(patch("s1|en|1", 0, types.StageSoft, "Good"), t0)
	if r.Action != ActionBroadcast {
		t.Fatalf("first soft: action = %v", r.Action)
	}
	if r.Unit.Version != 0 || r.Unit.Stage != types.StageSoft {
		t.Errorf("unit = %+v", r.Unit)
	}

	// Version 0 is valid; version 1 extends past the throttle via delta chars.
	r = p.Submit(patch("s1|en|1", 1, types.StageSoft, "Good morning everyone here"), t0.Add(100*time.Millisecond))
	if r.Action != ActionBroadcast {
		t.Fatalf("grown soft: action = %v, reason %q", r.Action, r.Reason)
	}
	if r.Unit.Text != "Good morning everyone here" {
		t.Errorf("text = %q", r.Unit.Text)
	}
}

func TestSubmit_StaleDropped(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 3, types.StageSoft, "third version text"), t0)

	r := p.Submit(patch("s1|en|1", 2, types.StageSoft, "second version text"), t0.Add(time.Second))
	if r.Action != ActionDropped || r.Reason != DropStale {
		t.Fatalf("action = %v reason = %q, want stale drop", r.Action, r.Reason)
	}
	if u, _ := p.Get("s1|en|1"); u.Version != 3 {
		t.Errorf("stored version = %d, want 3", u.Version)
	}

	// Same version re-send is also stale.
	r = p.Submit(patch("s1|en|1", 3, types.StageSoft, "third version text"), t0.Add(time.Second))
	if r.Action != ActionDropped || r.Reason != DropStale {
		t.Errorf("duplicate version: action = %v reason = %q", r.Action, r.Reason)
	}
}

func TestSubmit_HardUpgradesOlderVersion(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 5, types.StageSoft, "provisional text here"), t0)

	// A hard patch with a lower version still finalizes the unit.
	r := p.Submit(patch("s1|en|1", 3, types.StageHard, "Final text here."), t0.Add(time.Second))
	if r.Action != ActionBroadcast {
		t.Fatalf("action = %v, want broadcast", r.Action)
	}
	if !r.Upgraded {
		t.Error("expected upgrade")
	}
	if r.Unit.Stage != types.StageHard {
		t.Errorf("stage = %v, want hard", r.Unit.Stage)
	}
	// Stored version never decreases.
	if r.Unit.Version != 5 {
		t.Errorf("version = %d, want 5", r.Unit.Version)
	}
	if r.Unit.Text != "Final text here." {
		t.Errorf("text = %q", r.Unit.Text)
	}
}

func TestSubmit_SoftAfterHardDropped(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 2, types.StageHard, "Done."), t0)

	r := p.Submit(patch("s1|en|1", 9, types.StageSoft, "Done. And more"), t0.Add(time.Second))
	if r.Action != ActionDropped || r.Reason != DropFinalized {
		t.Errorf("action = %v reason = %q, want finalized drop", r.Action, r.Reason)
	}
}

func TestSubmit_HardAfterHard(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 2, types.StageHard, "First final."), t0)

	r := p.Submit(patch("s1|en|1", 1, types.StageHard, "Old final."), t0.Add(time.Second))
	if r.Action != ActionDropped || r.Reason != DropStale {
		t.Errorf("older hard: action = %v reason = %q", r.Action, r.Reason)
	}

	r = p.Submit(patch("s1|en|1", 4, types.StageHard, "Corrected final."), t0.Add(2*time.Second))
	if r.Action != ActionBroadcast || r.Unit.Text != "Corrected final." {
		t.Errorf("newer hard: %+v", r)
	}
}

func TestSubmit_SoftThrottle(t *testing.T) {
	p := NewProcessor(Config{SoftThrottle: 700 * time.Millisecond, SoftMinDeltaChars: 12})

	p.Submit(patch("s1|en|1", 0, types.StageSoft, "Good morning"), t0)

	// Small growth inside the window is held.
	r := p.Submit(patch("s1|en|1", 1, types.StageSoft, "Good morning all"), t0.Add(200*time.Millisecond))
	if r.Action != ActionThrottled {
		t.Fatalf("action = %v, want throttled", r.Action)
	}

	// Large growth punches through the window.
	r = p.Submit(patch("s1|en|1", 2, types.StageSoft, "Good morning all and welcome to the session"), t0.Add(300*time.Millisecond))
	if r.Action != ActionBroadcast {
		t.Fatalf("action = %v, want broadcast", r.Action)
	}

	// Small growth again, then the window elapses and Flush releases it.
	r = p.Submit(patch("s1|en|1", 3, types.StageSoft, "Good morning all and welcome to the session now"), t0.Add(400*time.Millisecond))
	if r.Action != ActionThrottled {
		t.Fatalf("action = %v, want throttled", r.Action)
	}

	if got := p.Flush(t0.Add(500 * time.Millisecond)); len(got) != 0 {
		t.Fatalf("flush inside window returned %d units", len(got))
	}
	got := p.Flush(t0.Add(1100 * time.Millisecond))
	if len(got) != 1 {
		t.Fatalf("flush returned %d units, want 1", len(got))
	}
	if got[0].Version != 3 {
		t.Errorf("flushed version = %d, want 3", got[0].Version)
	}

	// Nothing pending afterwards.
	if got := p.Flush(t0.Add(3 * time.Second)); len(got) != 0 {
		t.Errorf("second flush returned %d units", len(got))
	}
}

func TestSubmit_HardBypassesThrottle(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 0, types.StageSoft, "Almost done"), t0)

	r := p.Submit(patch("s1|en|1", 1, types.StageHard, "Almost done."), t0.Add(50*time.Millisecond))
	if r.Action != ActionBroadcast {
		t.Errorf("hard inside throttle window: action = %v", r.Action)
	}
}

func TestSubmit_EmptySoftText(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 0, types.StageSoft, "something"), t0)

	r := p.Submit(patch("s1|en|1", 1, types.StageSoft, ""), t0.Add(time.Second))
	if r.Action != ActionBroadcast {
		t.Fatalf("empty soft: action = %v", r.Action)
	}
	if r.Unit.Text != "" {
		t.Errorf("text = %q, want empty", r.Unit.Text)
	}
}

func TestSubmit_NormalizationStabilizesVersions(t *testing.T) {
	p := NewProcessor(Config{})

	p.Submit(patch("s1|en|1", 0, types.StageSoft, "Hello   world"), t0)
	u, _ := p.Get("s1|en|1")
	if u.Text != "Hello world" {
		t.Errorf("text = %q", u.Text)
	}
}

func TestSubmit_ContinuationRepair(t *testing.T) {
	p := NewProcessor(Config{SoftMinDeltaChars: 1})

	p.Submit(patch("s1|en|1", 0, types.StageSoft, "good morning everyone"), t0)

	r := p.Submit(patch("s1|en|1", 1, types.StageSoft, "and thank you for joining"), t0.Add(time.Second))
	if r.Action != ActionBroadcast {
		t.Fatalf("action = %v", r.Action)
	}
	if !r.Repaired {
		t.Error("expected repair")
	}
	if r.Unit.Text != "good morning everyone and thank you for joining" {
		t.Errorf("text = %q", r.Unit.Text)
	}
}

func TestSetTranslations(t *testing.T) {
	p := NewProcessor(Config{})
	p.Submit(patch("s1|en|1", 2, types.StageHard, "Hello."), t0)

	t.Run("current version attaches", func(t *testing.T) {
		u, ok := p.SetTranslations("s1|en|1", 2, map[string]types.Translation{
			"de": {Lang: "de", Text: "Hallo."},
		})
		if !ok {
			t.Fatal("attach rejected")
		}
		if u.Translations["de"].Text != "Hallo." {
			t.Errorf("translations = %+v", u.Translations)
		}
	})

	t.Run("outdated version rejected", func(t *testing.T) {
		if _, ok := p.SetTranslations("s1|en|1", 1, nil); ok {
			t.Error("stale attach accepted")
		}
	})

	t.Run("unknown unit rejected", func(t *testing.T) {
		if _, ok := p.SetTranslations("nope", 0, nil); ok {
			t.Error("unknown unit accepted")
		}
	})

	t.Run("new patch clears translations", func(t *testing.T) {
		p.Submit(patch("s1|en|1", 5, types.StageHard, "Hello again."), t0.Add(time.Second))
		u, _ := p.Get("s1|en|1")
		if u.Translations != nil {
			t.Errorf("translations survived new content: %+v", u.Translations)
		}
	})
}

func TestSnapshotOrder(t *testing.T) {
	p := NewProcessor(Config{})

	for i := range 3 {
		id := fmt.Sprintf("s1|en|%d", i)
		p.Submit(patch(id, 0, types.StageHard, fmt.Sprintf("Sentence %d.", i)), t0)
	}
	// Re-patching an early unit must not move it.
	p.Submit(patch("s1|en|0", 1, types.StageHard, "Sentence zero revised."), t0.Add(time.Second))

	snap := p.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	for i, u := range snap {
		want := fmt.Sprintf("s1|en|%d", i)
		if u.UnitID != want {
			t.Errorf("snapshot[%d] = %q, want %q", i, u.UnitID, want)
		}
	}
	if snap[0].Text != "Sentence zero revised." {
		t.Errorf("revised text = %q", snap[0].Text)
	}
}

func TestLRUEviction(t *testing.T) {
	p := NewProcessor(Config{MaxUnits: 3})

	for i := range 4 {
		id := fmt.Sprintf("s1|en|%d", i)
		p.Submit(patch(id, 0, types.StageHard, "Text."), t0)
	}

	if p.Len() != 3 {
		t.Fatalf("len = %d, want 3", p.Len())
	}
	if _, ok := p.Get("s1|en|0"); ok {
		t.Error("oldest unit should have been evicted")
	}
	if _, ok := p.Get("s1|en|3"); !ok {
		t.Error("newest unit missing")
	}
}

func TestRestore(t *testing.T) {
	p := NewProcessor(Config{})
	p.Restore([]Unit{
		{UnitID: "s1|en|1", Version: 2, Stage: types.StageHard, Text: "Persisted."},
		{UnitID: "s1|en|2", Version: 0, Stage: types.StageSoft, Text: "in flight"},
	})

	snap := p.Snapshot()
	if len(snap) != 2 || snap[0].UnitID != "s1|en|1" {
		t.Fatalf("snapshot = %+v", snap)
	}

	// Versioning continues from restored state.
	r := p.Submit(patch("s1|en|2", 0, types.StageSoft, "in flight"), t0)
	if r.Action != ActionDropped || r.Reason != DropStale {
		t.Errorf("action = %v reason = %q, want stale", r.Action, r.Reason)
	}
}
