package trace

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// backlogCap bounds how many events a late subscriber can replay.
const backlogCap = 256

// Server fans compile events out to websocket clients.
type Server struct {
	session  string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	backlog []Event
	seq     int64
	closed  bool

	ln  net.Listener
	srv *http.Server
}

type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	_ = c.conn.Close()
}

// NewServer creates a trace server with a fresh session id. Call
// Start to make it listen.
func NewServer() *Server {
	return &Server{
		session: uuid.New().String(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Session returns the id stamped on every event from this server.
func (s *Server) Session() string { return s.session }

// Start listens on addr and serves /events in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "trace listen %s", addr)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	s.ln = ln
	s.srv = &http.Server{Handler: mux}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("trace server: %v", err)
		}
	}()
	log.Printf("trace server listening on ws://%s/events", ln.Addr())
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("trace upgrade: %v", err)
		return
	}
	id := uuid.New().String()
	cl := &client{conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cl.close()
		return
	}
	s.clients[id] = cl
	replay := make([]Event, len(s.backlog))
	copy(replay, s.backlog)
	s.mu.Unlock()

	for _, ev := range replay {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := cl.send(data); err != nil {
			s.drop(id)
			return
		}
	}

	// Reader loop surfaces disconnects. Inbound payloads are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(id)
				return
			}
		}
	}()
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	cl, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if ok {
		cl.close()
	}
}

// Publish stamps the event and fans it out. Dead clients are dropped.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	ev.Session = s.session
	ev.Seq = s.seq
	ev.Time = time.Now().UTC().Format(time.RFC3339Nano)
	s.backlog = append(s.backlog, ev)
	if len(s.backlog) > backlogCap {
		s.backlog = s.backlog[len(s.backlog)-backlogCap:]
	}
	targets := make(map[string]*client, len(s.clients))
	for id, cl := range s.clients {
		targets[id] = cl
	}
	s.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for id, cl := range targets {
		if err := cl.send(data); err != nil {
			s.drop(id)
		}
	}
}

// Close notifies clients and stops the listener. Safe to call twice.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, cl := range clients {
		cl.close()
	}
	if s.srv != nil {
		return s.srv.Close()
	}
	return nil
}
