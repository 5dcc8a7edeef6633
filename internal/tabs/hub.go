// Package tabs tracks the consumer sessions attached to the daemon, one per
// open tab, and carries push frames to them over WebSocket.
package tabs

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/control"
	"github.com/poltergeistlabs/poltergeist/internal/metrics"
)

var (
	// ErrNoReceiver means the tab is attached but its notify listener is
	// not armed; the caller should fall back to an injected Present frame.
	ErrNoReceiver = errors.New("tab has no notify listener")

	// ErrTabClosed means the tab went away between target resolution and
	// send.
	ErrTabClosed = errors.New("tab session closed")
)

// TabInfo describes one attached session for target resolution.
type TabInfo struct {
	ID        uuid.UUID
	URL       string
	Listening bool
}

// Hub is the session registry. Sessions register on attach and unregister
// when their connection drops.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Tabs returns every deliverable session. Privileged surfaces (anything not
// plain http/https, e.g. internal settings pages or devtools) are excluded
// from delivery targets.
func (h *Hub) Tabs() []TabInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]TabInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		if privileged(s.URL()) {
			continue
		}
		infos = append(infos, TabInfo{ID: s.id, URL: s.URL(), Listening: s.Listening()})
	}
	return infos
}

// Notify sends a notify frame to one tab. Fails with ErrNoReceiver when the
// tab's listener is not armed and ErrTabClosed when the session is gone.
func (h *Hub) Notify(id uuid.UUID, n control.Notify) error {
	s := h.session(id)
	if s == nil {
		return ErrTabClosed
	}
	if !s.Listening() {
		return ErrNoReceiver
	}
	return s.enqueue(n)
}

// Inject sends a self-contained Present frame to one tab. Every attached
// session's effect runtime understands Present regardless of listener state,
// so this is the delivery path of last resort.
func (h *Hub) Inject(id uuid.UUID, p control.Present) error {
	s := h.session(id)
	if s == nil {
		return ErrTabClosed
	}
	return s.enqueue(p)
}

func (h *Hub) session(id uuid.UUID) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	metrics.SetTabsAttached(len(h.sessions))
	h.mu.Unlock()

	h.logger.Info("tab attached",
		zap.String("session_id", s.id.String()),
		zap.String("url", s.URL()),
		zap.Bool("listening", s.Listening()),
	)
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	metrics.SetTabsAttached(len(h.sessions))
	h.mu.Unlock()

	h.logger.Info("tab detached", zap.String("session_id", s.id.String()))
}

func privileged(url string) bool {
	return !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://")
}
