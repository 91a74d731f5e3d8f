// Package observer is an optional, read-only websocket feed that
// broadcasts decide events for dashboards and test harnesses to watch
// consensus converge live. A send to a slow or absent subscriber is
// abandoned after a short write deadline and that subscriber dropped.
package observer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sandeepkv93/council/internal/clog"
)

// Event is the JSON payload pushed to every connected subscriber.
type Event struct {
	Member    string    `json:"member"`
	Value     string    `json:"value"`
	DecidedAt time.Time `json:"decided_at"`
}

// Server accepts websocket subscribers on /events and fans out decide
// Events to all of them.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	log      *clog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New builds an observer Server bound to addr (e.g. ":9900").
func New(addr string, log *clog.Logger) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Handler returns the observer's HTTP handler, exposed so tests can
// drive it with httptest without binding a real socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleSubscribe)
	return mux
}

// Start begins serving in the background. It never blocks the caller
// and its failure is logged, never fatal: the observer is strictly
// additive to the consensus engine.
func (s *Server) Start() {
	go func() {
		s.log.Printf("observer listening on %s (/events)", s.addr)
		if err := http.ListenAndServe(s.addr, s.Handler()); err != nil {
			s.log.Printf("observer stopped: %v", err)
		}
	}()
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("observer upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Subscribers only receive; block here until they disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish pushes a decide event to every connected subscriber. Each
// send is best-effort: a write error drops that subscriber without
// affecting the others or the caller.
func (s *Server) Publish(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
}
