package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/famhabit/internal/auth"
)

// Message is a real-time notification about a committed change.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`

	// DependentID scopes the message to one dependent. Zero means every
	// member of the family may see it.
	DependentID int64 `json:"dependent_id,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients per family and fans messages out to them.
type Hub struct {
	mu       sync.RWMutex
	families map[int64]map[*Client]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		families: make(map[int64]map[*Client]struct{}),
		logger:   logger.With("component", "websocket"),
	}
}

// Register adds a client to its family's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.families[c.id.FamilyID]
	if !ok {
		set = make(map[*Client]struct{})
		h.families[c.id.FamilyID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.families[c.id.FamilyID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.families, c.id.FamilyID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends msg to the clients of one family. Guardians see every
// message; a dependent only sees unscoped messages and its own.
func (h *Hub) Broadcast(familyID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.families[familyID] {
		if !c.canSee(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full, message dropped", "family_id", familyID, "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients across all families.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.families {
		n += len(set)
	}
	return n
}

func (c *Client) canSee(msg Message) bool {
	if c.id.Role == auth.RoleGuardian || msg.DependentID == 0 {
		return true
	}
	return msg.DependentID == c.id.SubjectID
}
