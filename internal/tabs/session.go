package tabs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/control"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Session is one attached tab. The first frame on the socket must be a Hello
// declaring the tab's page URL and whether its notify listener is armed.
type Session struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	send chan control.Envelope

	mu        sync.RWMutex
	url       string
	listening bool
	closed    bool
}

// HandleConn runs a freshly upgraded connection as a tab session. Blocks
// until the session ends; call from the HTTP handler goroutine.
func (h *Hub) HandleConn(conn *websocket.Conn) {
	s := &Session{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		log:  h.logger,
		send: make(chan control.Envelope, sendBufferSize),
	}

	hello, err := s.readHello()
	if err != nil {
		h.logger.Warn("tab handshake failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	s.url = hello.URL
	s.listening = hello.Listening

	h.register(s)
	defer func() {
		s.shutdown()
		h.unregister(s)
	}()

	go s.writePump()
	s.readPump()
}

// URL returns the tab's page URL.
func (s *Session) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// Listening reports whether the notify listener is armed.
func (s *Session) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listening
}

func (s *Session) enqueue(msg control.Message) error {
	env, err := control.Encode(msg)
	if err != nil {
		return err
	}

	// The read lock is held across the send: shutdown flips closed and
	// closes the channel under the write lock, so a session dropping
	// mid-fanout surfaces as ErrTabClosed, never a send on a closed
	// channel.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrTabClosed
	}

	select {
	case s.send <- env:
		return nil
	default:
		// A session that cannot drain its buffer is as good as gone.
		return fmt.Errorf("%w: send buffer full", ErrTabClosed)
	}
}

func (s *Session) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Session) readHello() (*control.Hello, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(writeWait))

	var env control.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		return nil, fmt.Errorf("read hello frame: %w", err)
	}

	msg, err := control.Decode(env)
	if err != nil {
		return nil, err
	}

	hello, ok := msg.(*control.Hello)
	if !ok {
		return nil, fmt.Errorf("expected hello frame, got %s", env.Kind)
	}
	return hello, nil
}

// readPump consumes inbound frames until the connection drops. Tabs may send
// further Hello frames to flip their listener state (the content listener can
// load after attach).
func (s *Session) readPump() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env control.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("tab connection error",
					zap.Error(err),
					zap.String("session_id", s.id.String()),
				)
			}
			return
		}

		msg, err := control.Decode(env)
		if err != nil {
			s.log.Warn("dropping undecodable tab frame",
				zap.Error(err),
				zap.String("session_id", s.id.String()),
			)
			continue
		}

		if hello, ok := msg.(*control.Hello); ok {
			s.mu.Lock()
			s.url = hello.URL
			s.listening = hello.Listening
			s.mu.Unlock()
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				s.log.Warn("tab write failed",
					zap.Error(err),
					zap.String("session_id", s.id.String()),
				)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
