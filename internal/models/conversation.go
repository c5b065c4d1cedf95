package models

import "time"

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one append-only entry of a conversation.
type ConversationMessage struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Role           Role      `json:"role" db:"role"`
	Content        string    `json:"content" db:"content"`
	Persona        PersonaID `json:"persona" db:"persona"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
	// RetryOf references the original user message this one retries.
	RetryOf string `json:"retry_of,omitempty" db:"retry_of"`
}
