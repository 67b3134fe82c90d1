package wordcloud

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"embedding-gateway/internal/embeddings"
)

const (
	sendBuffer     = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

type inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type addWordData struct {
	Word      string            `json:"word"`
	Embedding embeddings.Vector `json:"embedding"`
}

type changeColorData struct {
	Word  string  `json:"word"`
	Color *string `json:"color"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Sockets serves word cloud clients over websockets and relays hub events
// to them. Clients that fall behind are disconnected.
type Sockets struct {
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewSockets attaches a websocket fan-out to hub.
func NewSockets(hub *Hub, log *slog.Logger) *Sockets {
	s := &Sockets{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	hub.Attach(s)
	return s
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (s *Sockets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	s.add(c)
	s.log.Info("word cloud client connected", "client", c.id)

	if body, err := json.Marshal(Event{Name: EventInitialize, Data: s.hub.Snapshot()}); err == nil {
		s.deliver(c, body)
	}

	go s.writeLoop(c)
	s.readLoop(c)
}

// Len is the number of connected clients.
func (s *Sockets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast implements Broadcaster.
func (s *Sockets) Broadcast(ev Event, except string) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("failed to encode event", "event", ev.Name, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		if id == except {
			continue
		}
		s.enqueueLocked(c, body)
	}
}

// Close disconnects every client.
func (s *Sockets) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		s.dropLocked(c)
	}
}

func (s *Sockets) add(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *Sockets) deliver(c *client, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		s.enqueueLocked(c, body)
	}
}

func (s *Sockets) enqueueLocked(c *client, body []byte) {
	select {
	case c.send <- body:
	default:
		s.log.Warn("word cloud client too slow, disconnecting", "client", c.id)
		s.dropLocked(c)
	}
}

// dropLocked removes c once; closing send stops its write loop.
func (s *Sockets) dropLocked(c *client) {
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	close(c.send)
}

func (s *Sockets) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(c)
}

func (s *Sockets) readLoop(c *client) {
	defer func() {
		s.remove(c)
		c.conn.Close()
		s.log.Info("word cloud client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, body, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("word cloud read failed", "client", c.id, "err", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(body, &msg); err != nil {
			s.log.Warn("invalid word cloud message", "client", c.id, "err", err)
			continue
		}
		s.dispatch(c.id, msg)
	}
}

func (s *Sockets) dispatch(from string, msg inbound) {
	var err error
	switch msg.Name {
	case EventAddWord:
		var in addWordData
		if err = json.Unmarshal(msg.Data, &in); err == nil {
			s.hub.AddWord(in.Word, in.Embedding)
		}
	case EventChangeColor:
		var in changeColorData
		if err = json.Unmarshal(msg.Data, &in); err == nil {
			s.hub.ChangeColor(in.Word, in.Color)
		}
	case EventUpdateConnections:
		var conns []json.RawMessage
		if err = json.Unmarshal(msg.Data, &conns); err == nil {
			s.hub.UpdateConnections(conns, from)
		}
	case EventReset:
		s.hub.Reset()
	default:
		s.log.Warn("unknown word cloud event", "client", from, "event", msg.Name)
	}
	if err != nil {
		s.log.Warn("invalid word cloud payload", "client", from, "event", msg.Name, "err", err)
	}
}

func (s *Sockets) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
