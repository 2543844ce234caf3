package hub

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	TopicDisplay = "display"
	TopicConsole = "console"
)

type Client struct {
	ID     string
	Send   chan []byte
	Topics map[string]bool
	// Staff clients may subscribe to the console topic.
	Staff bool
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	last    map[string][]byte
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Event is the frame sent to realtime clients.
type Event struct {
	Topic    string          `json:"topic"`
	Revision uint64          `json:"revision"`
	Payload  json.RawMessage `json:"payload"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client), last: make(map[string][]byte)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.Topics == nil {
		client.Topics = make(map[string]bool)
	}
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Subscribe adds topic to the client and replays the latest event of that
// topic so a new screen does not wait for the next change.
func (h *Hub) Subscribe(client *Client, topic string) bool {
	if !Allowed(client, topic) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Topics[topic] = true
	if payload, ok := h.last[topic]; ok {
		h.deliver(client, payload)
	}
	return true
}

func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.Topics, topic)
}

func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[topic] = payload
	for _, client := range h.clients {
		if !client.Topics[topic] {
			continue
		}
		h.deliver(client, payload)
	}
}

// Publish wraps value in an Event and broadcasts it.
func (h *Hub) Publish(topic string, revision uint64, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Event{Topic: topic, Revision: revision, Payload: body})
	if err != nil {
		return err
	}
	h.Broadcast(topic, payload)
	return nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		logrus.WithField("client_id", client.ID).Warn("hub: drop message, client buffer full")
	}
}

func Allowed(client *Client, topic string) bool {
	switch topic {
	case TopicDisplay:
		return true
	case TopicConsole:
		return client.Staff
	default:
		return false
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
