package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Realtime subscribes to live document change feeds over the store's
// websocket protocol. The gift flow uses it to wait for a host session to
// fulfill an invoice request.
type Realtime struct {
	mu        sync.RWMutex
	url       string
	apiKey    string
	conn      *websocket.Conn
	handlers  map[string]map[uint64]ChangeHandler
	topicRefs map[string]int
	nextID    uint64
	done      chan struct{}
	ref       int
}

// ChangeHandler handles a document change event.
type ChangeHandler func(event *ChangeEvent)

// ChangeEvent is one document change on a subscribed collection.
type ChangeEvent struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"` // INSERT, UPDATE, DELETE
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// NewRealtime creates a realtime client. The store's HTTP URL is converted
// to its websocket form.
func NewRealtime(storeURL, apiKey string) *Realtime {
	wsURL := storeURL
	if len(wsURL) > 5 && wsURL[:5] == "https" {
		wsURL = "wss" + wsURL[5:]
	} else if len(wsURL) > 4 && wsURL[:4] == "http" {
		wsURL = "ws" + wsURL[4:]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey

	return &Realtime{
		url:       wsURL,
		apiKey:    apiKey,
		handlers:  make(map[string]map[uint64]ChangeHandler),
		topicRefs: make(map[string]int),
		done:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and
// heartbeat loops.
func (r *Realtime) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.readLoop()
	go r.heartbeat()

	return nil
}

// Disconnect closes the websocket connection.
func (r *Realtime) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)

	err := r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.conn.Close()
	r.conn = nil
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// Subscribe registers a handler for changes on a collection, optionally
// filtered (e.g. "id=eq.<docID>"). Event is INSERT, UPDATE, DELETE or "*".
// The returned cancel removes the handler and leaves the topic once no
// handler remains on it.
func (r *Realtime) Subscribe(ctx context.Context, collection, filter, event string, handler ChangeHandler) (func(), error) {
	topic := "changes:" + collection
	if filter != "" {
		topic += ":" + filter
	}
	if event == "" {
		event = "*"
	}
	key := topic + ":" + event

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.topicRefs[topic] == 0 {
		if r.conn == nil {
			return nil, fmt.Errorf("realtime not connected")
		}
		r.ref++
		msg := map[string]any{
			"topic":   topic,
			"event":   "join",
			"payload": map[string]any{},
			"ref":     fmt.Sprintf("%d", r.ref),
		}
		if err := r.conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("send join: %w", err)
		}
	}
	r.topicRefs[topic]++

	r.nextID++
	id := r.nextID
	if r.handlers[key] == nil {
		r.handlers[key] = make(map[uint64]ChangeHandler)
	}
	r.handlers[key][id] = handler

	return func() { r.unsubscribe(topic, key, id) }, nil
}

// unsubscribe removes one handler registration. The last handler on a topic
// leaves it so the server stops sending its changes.
func (r *Realtime) unsubscribe(topic, key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs, ok := r.handlers[key]
	if !ok {
		return
	}
	if _, ok := hs[id]; !ok {
		return
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(r.handlers, key)
	}

	r.topicRefs[topic]--
	if r.topicRefs[topic] > 0 {
		return
	}
	delete(r.topicRefs, topic)

	if r.conn != nil {
		r.ref++
		r.conn.WriteJSON(map[string]any{
			"topic":   topic,
			"event":   "leave",
			"payload": map[string]any{},
			"ref":     fmt.Sprintf("%d", r.ref),
		})
	}
}

// WaitForUpdate blocks until a change on the filtered collection arrives or
// the context expires. It returns the raw change payload. The subscription
// is removed before returning.
func (r *Realtime) WaitForUpdate(ctx context.Context, collection, filter string) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	cancel, err := r.Subscribe(ctx, collection, filter, "UPDATE", func(event *ChangeEvent) {
		select {
		case ch <- event.Payload:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-ch:
		return payload, nil
	}
}

func (r *Realtime) readLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event ChangeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		r.dispatch(&event)
	}
}

func (r *Realtime) dispatch(event *ChangeEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range []string{
		event.Topic + ":" + event.Event,
		event.Topic + ":*",
	} {
		for _, handler := range r.handlers[key] {
			go handler(event)
		}
	}
}

func (r *Realtime) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				r.conn.WriteJSON(map[string]any{
					"topic":   "heartbeat",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     fmt.Sprintf("%d", r.ref),
				})
			}
			r.mu.Unlock()
		}
	}
}
