package wordcloud

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"embedding-gateway/internal/embeddings"
	"embedding-gateway/internal/gateway"
)

// Events sent to clients.
const (
	EventInitialize         = "initialize"
	EventWordAdded          = "wordAdded"
	EventConnectionsUpdated = "connectionsUpdated"
	EventColorChanged       = "colorChanged"
)

// Events received from clients.
const (
	EventAddWord           = "addWord"
	EventUpdateConnections = "updateConnections"
	EventChangeColor       = "changeColor"
	EventReset             = "reset"
)

// Event is one message on the wire: {"event": name, "data": payload}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Broadcaster delivers hub events. Broadcast must not block; except names a
// client that should not receive the event, empty for none.
type Broadcaster interface {
	Broadcast(ev Event, except string)
}

// Word is one submitted word with its submission count.
type Word struct {
	Text      string            `json:"text"`
	Count     int               `json:"count"`
	Embedding embeddings.Vector `json:"embedding"`
	Color     *string           `json:"color"`
}

// State is the full cloud, sent on connect and after a reset.
type State struct {
	Words       []Word            `json:"words"`
	Connections []json.RawMessage `json:"connections"`
}

type WordAdded struct {
	Word             string            `json:"word"`
	Count            int               `json:"count"`
	Embedding        embeddings.Vector `json:"embedding"`
	Color            *string           `json:"color"`
	TotalSubmissions int               `json:"totalSubmissions"`
}

type ColorChanged struct {
	Word  string  `json:"word"`
	Color *string `json:"color"`
}

// Hub owns the shared word cloud. Every change is broadcast while the lock
// is held, so all clients observe changes in one order.
type Hub struct {
	mu          sync.Mutex
	words       map[string]*Word
	order       []string
	connections []json.RawMessage
	total       int
	outs        []Broadcaster
	log         *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{words: make(map[string]*Word), log: log}
}

// Attach adds a destination for future events.
func (h *Hub) Attach(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outs = append(h.outs, b)
}

// Snapshot returns a copy of the current cloud in submission order.
func (h *Hub) Snapshot() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

func (h *Hub) snapshot() State {
	st := State{
		Words:       make([]Word, 0, len(h.order)),
		Connections: append([]json.RawMessage{}, h.connections...),
	}
	for _, text := range h.order {
		st.Words = append(st.Words, *h.words[text])
	}
	return st
}

// AddWord counts a submission. The first embedding seen for a word is kept;
// the broadcast carries the one just submitted. Blank words are ignored.
func (h *Hub) AddWord(word string, embedding embeddings.Vector) (WordAdded, bool) {
	text := gateway.Normalize(word)
	if text == "" {
		return WordAdded{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.total++
	w, ok := h.words[text]
	if ok {
		w.Count++
	} else {
		w = &Word{Text: text, Count: 1, Embedding: embedding}
		h.words[text] = w
		h.order = append(h.order, text)
	}
	added := WordAdded{
		Word:             text,
		Count:            w.Count,
		Embedding:        embedding,
		Color:            w.Color,
		TotalSubmissions: h.total,
	}
	h.broadcast(Event{Name: EventWordAdded, Data: added}, "")
	h.log.Info("word added", "word", text, "count", w.Count)
	return added, true
}

// ChangeColor recolors a known word. Unknown words are ignored.
func (h *Hub) ChangeColor(word string, color *string) (ColorChanged, bool) {
	text := gateway.Normalize(word)

	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.words[text]
	if !ok {
		return ColorChanged{}, false
	}
	w.Color = color
	changed := ColorChanged{Word: text, Color: color}
	h.broadcast(Event{Name: EventColorChanged, Data: changed}, "")
	h.log.Info("color changed", "word", text)
	return changed, true
}

// UpdateConnections replaces the connection list and sends it to every
// client except the one that sent it.
func (h *Hub) UpdateConnections(connections []json.RawMessage, from string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections = append([]json.RawMessage{}, connections...)
	h.broadcast(Event{Name: EventConnectionsUpdated, Data: h.connections}, from)
}

// Reset empties the cloud and re-initializes every client.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.words = make(map[string]*Word)
	h.order = nil
	h.connections = nil
	h.total = 0
	h.broadcast(Event{Name: EventInitialize, Data: h.snapshot()}, "")
	h.log.Info("word cloud reset")
}

func (h *Hub) broadcast(ev Event, except string) {
	for _, out := range h.outs {
		out.Broadcast(ev, except)
	}
}
