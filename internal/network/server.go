package network

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP requests to websocket clients attached to its Hub.
type Server struct {
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(handler EventHandler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("network")
	return &Server{
		hub: NewHub(handler, log),
		log: log,
		upgrader: websocket.Upgrader{
			// Origin checks belong to the fronting proxy.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Run drives the hub until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// ServeHTTP upgrades the request and starts the client's loops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	client := newClient(conn, s.hub, s.log)
	if !s.hub.enqueue(s.hub.register, client) {
		conn.Close()
		return
	}

	go client.writeLoop()
	go client.readLoop()
}
