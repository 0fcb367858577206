package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

const (
	EventQueueUpdate = "queue_update"
	EventTokenCalled = "token_called"
	EventTokenServed = "token_served"
)

// Client is one realtime connection. Send is drained by the transport
// goroutine; the hub never blocks on it.
type Client struct {
	ID       string
	Send     chan []byte
	branches map[string]struct{}
}

// Hub fans queue events out to connected clients. Branch-scoped publishes
// reach only clients that joined the branch group; global publishes reach
// everyone. Delivery is best-effort: a client whose buffer is full misses
// the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ControlMessage is what a realtime client sends to manage its branch
// group membership.
type ControlMessage struct {
	Action   string `json:"action"`
	BranchID string `json:"branch_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func NewClient(id string, buffer int) *Client {
	return &Client{
		ID:       id,
		Send:     make(chan []byte, buffer),
		branches: make(map[string]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
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

// JoinBranch adds the client to a branch group. A client may be in any
// number of groups at once.
func (h *Hub) JoinBranch(client *Client, branchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.branches[branchID] = struct{}{}
}

func (h *Hub) LeaveBranch(client *Client, branchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.branches, branchID)
}

// PublishToBranch delivers an event to every client subscribed to branchID.
func (h *Hub) PublishToBranch(branchID, eventType string, payload interface{}) {
	data, ok := encode(eventType, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if _, joined := client.branches[branchID]; !joined {
			continue
		}
		deliver(client, data)
	}
}

// PublishGlobal delivers an event to every connected client regardless of
// branch membership.
func (h *Hub) PublishGlobal(eventType string, payload interface{}) {
	data, ok := encode(eventType, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		deliver(client, data)
	}
}

func encode(eventType string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(envelope{
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("hub encode %s: %v", eventType, err)
		return nil, false
	}
	return data, true
}

func deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		log.Printf("drop message for client %s", client.ID)
	}
}

// ParseControl decodes a join_branch/leave_branch message from a realtime
// client. Anything else is ignored by the caller.
func ParseControl(data []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	if msg.Action != "join_branch" && msg.Action != "leave_branch" {
		return ControlMessage{}, false
	}
	if msg.BranchID == "" {
		return ControlMessage{}, false
	}
	return msg, true
}
