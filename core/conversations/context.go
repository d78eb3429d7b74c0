package conversations

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded user or assistant utterance.
type Turn struct {
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Interrupted bool      `json:"interrupted"`
}

// Context is the bounded per-conversation history window. It is mutated only
// by the Manager while holding its lock.
type Context struct {
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
	TurnCount      int       `json:"turn_count"`
	Turns          []Turn    `json:"turns"`
}

// appendTurn adds a turn, silently evicting the oldest once the window is
// full. Eviction is FIFO and never shrinks the window below capacity.
func (c *Context) appendTurn(turn Turn, capacity int) {
	c.Turns = append(c.Turns, turn)
	if capacity > 0 && len(c.Turns) > capacity {
		evicted := len(c.Turns) - capacity
		c.Turns = append(c.Turns[:0], c.Turns[evicted:]...)
		logger.Debug("context window full, evicted oldest turns",
			"conversation", c.ConversationID, "evicted", evicted)
	}
}
