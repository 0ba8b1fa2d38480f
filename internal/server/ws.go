package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/interpres-live/interpres/internal/room"
	"github.com/interpres-live/interpres/pkg/types"
)

// wsReadLimit bounds inbound WebSocket frames; patches are capped well below
// this by validation.
const wsReadLimit = 32 << 10

// inboundEnvelope frames client-to-server messages.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound message types.
const (
	inPatch     = "patch"
	inHeartbeat = "heartbeat"
	inLang      = "lang"
)

// langChange is the payload of an inbound "lang" message: a listener picks a
// new target language and whether it wants synthesized audio for it.
type langChange struct {
	TargetLang string `json:"targetLang"`
	WantsAudio bool   `json:"wantsAudio"`
}

// handleWS upgrades the connection and attaches the peer to its room. The
// write side runs through the room's listener queue; this goroutine becomes
// the read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slug := q.Get("room")
	if err := ValidateRoomSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := types.Role(q.Get("role"))
	if role == "" {
		role = types.RoleListener
	}
	if !role.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	lang := q.Get("lang")
	if lang != "" && !srcLangPattern.MatchString(lang) {
		writeError(w, http.StatusBadRequest, "lang is not a BCP-47 tag")
		return
	}
	wantsAudio := q.Get("tts") == "1"

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "room", slug, "error", err)
		return
	}
	c.SetReadLimit(wsReadLimit)

	rm := s.hub.GetOrCreate(slug)
	core := s.cfg.Core
	l := room.NewListener(&wsConn{c: c}, role, lang, wantsAudio,
		core.ListenerQueueMsgs, core.ListenerQueueBytes)
	rm.Attach(l)
	defer rm.Detach(l.ID)

	s.readLoop(r.Context(), c, rm, l)
}

// readLoop consumes inbound messages until the peer disconnects.
func (s *Server) readLoop(ctx context.Context, c *websocket.Conn, rm *room.Room, l *room.Listener) {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read ended", "room", rm.Slug(), "listener", l.ID, "error", err)
			}
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(l, "malformed envelope")
			continue
		}

		switch env.Type {
		case inPatch:
			if l.Role != types.RoleSpeaker {
				s.sendError(l, "only speakers send patches")
				continue
			}
			var p types.Patch
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				s.metrics.RecordPatchDrop(ctx, "malformed")
				s.sendError(l, "malformed patch")
				continue
			}
			if err := ValidatePatch(p); err != nil {
				s.metrics.RecordPatchDrop(ctx, "malformed")
				s.sendError(l, err.Error())
				continue
			}
			if err := rm.Ingest(p); err != nil {
				s.sendError(l, "room is overloaded")
			}

		case inHeartbeat:
			if l.Role == types.RoleSpeaker {
				rm.Heartbeat()
			}

		case inLang:
			if l.Role == types.RoleSpeaker {
				s.sendError(l, "speakers have no target language")
				continue
			}
			var lc langChange
			if err := json.Unmarshal(env.Payload, &lc); err != nil || !srcLangPattern.MatchString(lc.TargetLang) {
				s.sendError(l, "malformed lang change")
				continue
			}
			rm.SetLang(l.ID, lc.TargetLang, lc.WantsAudio)

		default:
			s.sendError(l, "unknown message type "+env.Type)
		}
	}
}

func (s *Server) sendError(l *room.Listener, msg string) {
	l.Enqueue(room.Envelope{Type: room.TypeError, Payload: errorResponse{Error: msg}})
}

// wsConn adapts a coder/websocket connection to the room's Conn interface.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Write(ctx context.Context, p []byte) error {
	return w.c.Write(ctx, websocket.MessageText, p)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
