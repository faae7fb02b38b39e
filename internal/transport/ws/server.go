// Package ws exposes the bridge channel over a websocket for webview and
// desktop application layers.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
)

// CommandHandler services a single call from a channel.
type CommandHandler interface {
	Handle(ctx context.Context, ch bridge.Channel, call bridge.Call)
}

// Attacher installs a channel as the event target and returns its detach.
type Attacher interface {
	Attach(ch bridge.Channel) (detach func())
}

type Server struct {
	handler  CommandHandler
	attacher Attacher
	upgrader websocket.Upgrader
	conns    *xsync.Map[string, *conn]
	logger   *slog.Logger
}

// NewServer creates the handler. An empty origin list, or one containing
// "*", accepts every origin.
func NewServer(handler CommandHandler, attacher Attacher, allowedOrigins []string, logger *slog.Logger) *Server {
	s := &Server{
		handler:  handler,
		attacher: attacher,
		conns:    xsync.NewMap[string, *conn](),
		logger:   logger.With("component", "ws_transport"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it
// closes. The newest connection receives events.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("channel") != bridge.ChannelName {
		http.Error(w, "unknown channel", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newConn(uuid.NewString(), wsConn, s.logger)
	detach := s.attacher.Attach(c)
	s.conns.Store(c.id, c)
	c.logger.Info("Application channel attached", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		detach()
		s.conns.Delete(c.id)
		c.close()
		c.logger.Info("Application channel detached")
	}()

	go c.writePump()
	c.readPump(func(call bridge.Call) {
		s.handler.Handle(ctx, c, call)
	})
}

// Connections reports the number of open connections.
func (s *Server) Connections() int {
	return s.conns.Size()
}

// CloseAll closes every open connection.
func (s *Server) CloseAll() {
	s.conns.Range(func(_ string, c *conn) bool {
		c.close()
		return true
	})
}
