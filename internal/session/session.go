package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

const outboundQueueSize = 256

// Session is one websocket connection of an owner. It is the edit.Owner
// handed to the owner's Editor while connected.
type Session struct {
	id     string
	owner  string
	out    chan []byte
	logger *slog.Logger
	cancel context.CancelFunc

	dropped atomic.Uint64
}

func newSession(id, owner string, logger *slog.Logger) *Session {
	return &Session{
		id:     id,
		owner:  owner,
		out:    make(chan []byte, outboundQueueSize),
		logger: logger.With("session", id, "owner", owner),
	}
}

// ID is the owner ID; edits and history belong to the owner, not to the
// connection.
func (s *Session) ID() string { return s.owner }

// SessionID identifies this connection.
func (s *Session) SessionID() string { return s.id }

// SendMessage implements edit.Owner.
func (s *Session) SendMessage(format string, args ...any) {
	s.send(ServerMessage{Type: TypeMessage, Text: fmt.Sprintf(format, args...)})
}

func (s *Session) send(msg ServerMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal server message", "type", msg.Type, "error", err)
		return
	}
	s.sendRaw(b)
}

// sendRaw never blocks; a slow client loses messages instead of stalling
// the scheduler.
func (s *Session) sendRaw(b []byte) {
	select {
	case s.out <- b:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("session outbound queue full, dropping messages")
		}
	}
}

// Close ends the connection.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Dropped counts messages lost to a full outbound queue.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}
