package events

import "time"

// KindUserInput identifies an inbound user utterance.
const KindUserInput Kind = "user_input"

// UserInput carries one user utterance delivered by a transport.
type UserInput struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

func (UserInput) Kind() Kind { return KindUserInput }

// KindConversationUpdate identifies a turn append or amendment.
const KindConversationUpdate Kind = "conversation_update"

// ConversationUpdate mirrors one recorded turn for display surfaces.
type ConversationUpdate struct {
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Complete       bool      `json:"complete"`
	Interrupted    bool      `json:"interrupted"`
	Timestamp      time.Time `json:"timestamp"`
}

func (ConversationUpdate) Kind() Kind { return KindConversationUpdate }

// KindAssistantState identifies a conversation state transition.
const KindAssistantState Kind = "assistant_state"

// AssistantState reports the state machine's current state.
type AssistantState struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
}

func (AssistantState) Kind() Kind { return KindAssistantState }

// KindInterruption identifies an applied barge-in.
const KindInterruption Kind = "interruption"

// Interruption records that the in-flight assistant response was cut off.
type Interruption struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason,omitempty"`
}

func (Interruption) Kind() Kind { return KindInterruption }
