package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/tabs"
)

// upgrader accepts any origin: the daemon binds to loopback and the attach
// endpoint carries no credentials.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TabSocket upgrades GET /v1/tabs and runs the connection as a tab session
// until it drops.
func TabSocket(hub *tabs.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("tab upgrade failed", zap.Error(err))
			return
		}
		hub.HandleConn(conn)
	}
}
