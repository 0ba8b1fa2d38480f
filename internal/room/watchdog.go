package room

import "time"

// Watchdog monitors the speaker's two upstream streams: recognizer events
// (patches) and capture liveness (PCM heartbeats). An advisory to restart the
// capture pipeline is raised only when BOTH streams have gone silent past
// their thresholds; a single silent stream is normal (pauses produce no
// events, a dead recognizer still heartbeats).
//
// After firing, the watchdog disarms until either stream resumes, so one
// outage produces exactly one advisory.
type Watchdog struct {
	eventIdle time.Duration
	pcmIdle   time.Duration

	lastEvent time.Time
	lastPCM   time.Time
	armed     bool
}

// NewWatchdog creates a Watchdog with both streams considered live at start.
func NewWatchdog(eventIdle, pcmIdle time.Duration, now time.Time) *Watchdog {
	if eventIdle <= 0 {
		eventIdle = 12 * time.Second
	}
	if pcmIdle <= 0 {
		pcmIdle = 7 * time.Second
	}
	return &Watchdog{
		eventIdle: eventIdle,
		pcmIdle:   pcmIdle,
		lastEvent: now,
		lastPCM:   now,
		armed:     true,
	}
}

// NoteEvent records recognizer activity and re-arms the watchdog.
func (w *Watchdog) NoteEvent(now time.Time) {
	w.lastEvent = now
	w.armed = true
}

// NotePCM records capture liveness and re-arms the watchdog.
func (w *Watchdog) NotePCM(now time.Time) {
	w.lastPCM = now
	w.armed = true
}

// Check reports whether a restart advisory should be raised at now. A true
// return disarms the watchdog until activity resumes on either stream.
func (w *Watchdog) Check(now time.Time) bool {
	if !w.armed {
		return false
	}
	if now.Sub(w.lastEvent) < w.eventIdle || now.Sub(w.lastPCM) < w.pcmIdle {
		return false
	}
	w.armed = false
	return true
}
