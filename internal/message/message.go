// Package message defines the conversation's data shape.
package message

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleFunction:
		return true
	}
	return false
}

// FunctionCall is the model's request to invoke a registered entry point.
// Arguments is a serialized name→value mapping, opaque until parsed.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn in a conversation. Content only grows while the message
// is the active streaming target.
type Message struct {
	ID           string        `json:"id"`
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

func NewID() string {
	return uuid.NewString()
}

// New returns a message with a fresh id and timestamp.
func New(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.FunctionCall != nil {
		fc := *m.FunctionCall
		m.FunctionCall = &fc
	}
	return m
}

// CloneAll copies a message sequence.
func CloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Wire is the request-body form of a message: ids and timestamps stripped.
type Wire struct {
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// ToWire converts messages to their request-body form.
func ToWire(msgs []Message) []Wire {
	out := make([]Wire, len(msgs))
	for i, m := range msgs {
		w := Wire{Role: m.Role, Content: m.Content, Name: m.Name}
		if m.FunctionCall != nil {
			// Call ids are transport bookkeeping, not part of the legacy wire shape.
			w.FunctionCall = &FunctionCall{Name: m.FunctionCall.Name, Arguments: m.FunctionCall.Arguments}
		}
		out[i] = w
	}
	return out
}
