package room

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/interpres-live/interpres/pkg/types"
)

// Conn is the transport a listener writes to. Satisfied by the server's
// WebSocket wrapper and by test fakes.
type Conn interface {
	// Write sends one complete message.
	Write(ctx context.Context, data []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Listener is one connected peer of a room. Outbound messages pass through a
// bounded queue drained by a single writer goroutine; a peer that cannot keep
// up overflows the queue and is disconnected rather than stalling the room.
type Listener struct {
	ID         string
	Role       types.Role
	Lang       string
	WantsAudio bool

	conn     Conn
	maxBytes int

	mu     sync.Mutex
	queued int
	closed bool
	ch     chan []byte

	wg sync.WaitGroup
}

// NewListener wraps a connection. maxMsgs and maxBytes bound the outbound
// queue; zero values get the server defaults (64 messages, 4 MiB).
func NewListener(conn Conn, role types.Role, lang string, wantsAudio bool, maxMsgs, maxBytes int) *Listener {
	if maxMsgs <= 0 {
		maxMsgs = 64
	}
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &Listener{
		ID:         uuid.NewString(),
		Role:       role,
		Lang:       lang,
		WantsAudio: wantsAudio,
		conn:       conn,
		maxBytes:   maxBytes,
		ch:         make(chan []byte, maxMsgs),
	}
}

// Start launches the writer goroutine. ctx cancellation stops writes; the
// queue is still drained so Close does not block.
func (l *Listener) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		dead := false
		for data := range l.ch {
			if !dead && ctx.Err() == nil {
				if err := l.conn.Write(ctx, data); err != nil {
					// The peer is gone; keep draining so enqueuers never
					// block, but stop writing.
					dead = true
				}
			}
			l.mu.Lock()
			l.queued -= len(data)
			l.mu.Unlock()
		}
	}()
}

// Enqueue marshals env and queues it for delivery. Returns false when the
// queue is full (message count or byte budget); the caller should then detach
// and close the listener.
func (l *Listener) Enqueue(env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if len(l.ch) == cap(l.ch) || l.queued+len(data) > l.maxBytes {
		return false
	}
	l.queued += len(data)
	l.ch <- data
	return true
}

// Close stops accepting messages, waits for the writer to drain, and closes
// the connection. Idempotent.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	l.wg.Wait()
	_ = l.conn.Close()
}
