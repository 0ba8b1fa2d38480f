// Package server is the ingest and delivery surface: REST endpoints for
// patches and room metadata, the speaker/listener WebSocket, Prometheus
// metrics, and the health probes.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/interpres-live/interpres/internal/config"
	"github.com/interpres-live/interpres/internal/health"
	"github.com/interpres-live/interpres/internal/observe"
	"github.com/interpres-live/interpres/internal/room"
	"github.com/interpres-live/interpres/internal/state"
	"github.com/interpres-live/interpres/pkg/types"
)

// Server wires the HTTP surface over the room hub.
type Server struct {
	hub     *room.Hub
	cfg     *config.Config
	health  *health.Handler
	metrics *observe.Metrics
}

// New creates a Server. health may be nil when probes are registered
// elsewhere.
func New(hub *room.Hub, cfg *config.Config, h *health.Handler, m *observe.Metrics) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{hub: hub, cfg: cfg, health: h, metrics: m}
}

// Routes builds the full handler: API routes, WebSocket, metrics, and
// probes, all behind the tracing middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/segments", s.handleSegments)
	mux.HandleFunc("GET /v1/config", s.handleConfig)
	mux.HandleFunc("GET /v1/rooms/{slug}", s.handleRoom)
	mux.HandleFunc("GET /v1/rooms/{slug}/history", s.handleRoomHistory)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

// segmentRequest is the POST /v1/segments body. Targets optionally narrows
// the fan-out languages for this patch's unit.
type segmentRequest struct {
	Room    string      `json:"room"`
	Targets []string    `json:"targets"`
	Patch   types.Patch `json:"patch"`
}

// segmentResponse reports the processor's verdict on a submitted patch.
// Stale patches are a normal outcome, not an error; the capture client uses
// the flag to stop resending.
type segmentResponse struct {
	OK    bool `json:"ok"`
	Stale bool `json:"stale"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.metrics.RecordPatchDrop(r.Context(), "malformed")
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := ValidateRoomSlug(req.Room); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ValidatePatch(req.Patch); err != nil {
		s.metrics.RecordPatchDrop(r.Context(), "malformed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, lang := range req.Targets {
		if !srcLangPattern.MatchString(lang) {
			writeError(w, http.StatusBadRequest, "target "+lang+" is not a BCP-47 tag")
			return
		}
	}

	stale, err := s.hub.GetOrCreate(req.Room).Submit(r.Context(), req.Patch, req.Targets)
	if err != nil {
		if errors.Is(err, room.ErrMailboxFull) {
			writeError(w, http.StatusServiceUnavailable, "room is overloaded, retry")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "room unavailable")
		return
	}
	writeJSON(w, http.StatusOK, segmentResponse{OK: true, Stale: stale})
}

// configResponse advertises the capture-side tunables so clients throttle at
// the source instead of being throttled here.
type configResponse struct {
	SoftThrottleMs    int `json:"softThrottleMs"`
	SoftMinDeltaChars int `json:"softMinDeltaChars"`
	FinalDebounceMs   int `json:"finalDebounceMs"`
	MaxTextBytes      int `json:"maxTextBytes"`
	HeartbeatMs       int `json:"heartbeatMs"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	core := s.cfg.Core
	writeJSON(w, http.StatusOK, configResponse{
		SoftThrottleMs:    core.SoftThrottleMs,
		SoftMinDeltaChars: core.SoftMinDeltaChars,
		FinalDebounceMs:   core.FinalDebounceMs,
		MaxTextBytes:      maxTextBytes,
		HeartbeatMs:       core.WatchdogPCMIdleMs / 2,
	})
}

// roomResponse is the room metadata body.
type roomResponse struct {
	Slug            string   `json:"slug"`
	SourceLang      string   `json:"sourceLang,omitempty"`
	AutoDetectLangs []string `json:"autoDetectLangs,omitempty"`
	TargetLangs     []string `json:"targetLangs"`
	Live            bool     `json:"live"`
	Segments        int      `json:"segments"`
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := ValidateRoomSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	defaults := s.cfg.Rooms.Defaults
	resp := roomResponse{
		Slug:            slug,
		SourceLang:      defaults.SourceLang,
		AutoDetectLangs: defaults.AutoDetectLangs,
		TargetLangs:     defaults.DefaultTargetLangs,
	}
	if rm, ok := s.hub.Get(slug); ok {
		resp.Live = true
		resp.Segments = len(rm.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

// historyResponse is the persisted transcript of a room: finalized segments
// in broadcast order.
type historyResponse struct {
	Slug    string               `json:"slug"`
	Entries []state.HistoryEntry `json:"entries"`
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := ValidateRoomSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.hub.History(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "transcript unavailable")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Slug: slug, Entries: entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
