package sync

import (
	"context"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weftwork/weft/opstore"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer (op snapshots can be large)
	maxMessageSize = 16 * 1024 * 1024
)

// Server hosts a space over websocket. Every accepted connection becomes a
// sync peer; op frames ingested from one peer are relayed to all others, so
// clients converge through the hub without seeing each other's files.
type Server struct {
	space  *opstore.Connection
	router *Router
	logger *zap.SugaredLogger

	upgrader websocket.Upgrader

	mu    stdsync.Mutex
	peers map[*Peer]struct{}

	httpSrv *http.Server
}

// NewServer builds a hub for the given open space.
func NewServer(spaceConn *opstore.Connection, router *Router, logger *zap.SugaredLogger) *Server {
	return &Server{
		space:  spaceConn,
		router: router,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*Peer]struct{}),
	}
}

// Handler returns the HTTP handler exposing the sync endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe blocks serving the hub on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Infow("Sync server listening",
		"addr", addr,
		"space", s.space.Space().ID(),
	)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed",
			"remote", r.RemoteAddr,
			"error", err.Error(),
		)
		return
	}

	conn := newWSConn(raw)
	peer := NewPeer(conn, s.space, s.router, s.logger.Named("sync.peer"))
	peer.Relay = func(msg Msg) { s.relay(peer, msg) }

	s.mu.Lock()
	s.peers[peer] = struct{}{}
	s.mu.Unlock()

	s.logger.Infow("Sync peer connected",
		"remote", r.RemoteAddr,
	)

	if err := peer.Run(r.Context()); err != nil {
		s.logger.Infow("Sync peer disconnected",
			"remote", r.RemoteAddr,
			"error", err.Error(),
		)
	}

	s.mu.Lock()
	delete(s.peers, peer)
	s.mu.Unlock()
	conn.Close()
}

// relay fans an ingested frame out to every other connected peer.
func (s *Server) relay(from *Peer, msg Msg) {
	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		if p != from {
			peers = append(peers, p)
		}
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.Send(msg)
	}
}
