package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"scribe/api/internal/editor"
	"scribe/api/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscriberSize = 64
)

// Hub fans editor events out to websocket subscribers of the same draft.
// Publish never blocks; a subscriber whose queue is full misses the event.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
}

type subscriber struct {
	send chan []byte
}

func NewHub(corsOrigin string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return corsOrigin == "*" || origin == "" || origin == corsOrigin
			},
		},
		log:         log.Component("events"),
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

func (h *Hub) Publish(ev editor.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers[ev.DraftID] {
		select {
		case sub.send <- data:
		default:
			h.log.Debug().Str("draft_id", ev.DraftID).Str("type", string(ev.Type)).Msg("subscriber queue full, event dropped")
		}
	}
}

// Subscribers counts open subscriptions for a draft.
func (h *Hub) Subscribers(draftID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[draftID])
}

func (h *Hub) subscribe(draftID string) *subscriber {
	sub := &subscriber{send: make(chan []byte, subscriberSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[draftID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subscribers[draftID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(draftID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[draftID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subscribers, draftID)
	}
}

// ServeWS upgrades the request and streams events for draftID, starting with
// the given state snapshot. It returns once the connection is set up.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, draftID string, initial editor.State) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := h.subscribe(draftID)

	first, err := json.Marshal(editor.Event{Type: editor.EventState, DraftID: draftID, At: time.Now(), State: &initial})
	if err == nil {
		sub.send <- first
	}

	go h.writePump(conn, draftID, sub)
	go h.readPump(conn, draftID, sub)
	return nil
}

// readPump discards client messages; it exists to notice disconnects and
// answer pongs.
func (h *Hub) readPump(conn *websocket.Conn, draftID string, sub *subscriber) {
	defer func() {
		h.unsubscribe(draftID, sub)
		_ = conn.Close()
	}()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, draftID string, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case data, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug().Err(err).Str("draft_id", draftID).Msg("write event")
				h.unsubscribe(draftID, sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unsubscribe(draftID, sub)
				return
			}
		}
	}
}
