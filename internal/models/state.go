// Package models defines state management structures for OrderPipe conversations.
package models

import "time"

// Conversation represents the current position of a customer in the order flow
// together with the answers collected so far.
type Conversation struct {
	UserID    string             `json:"user_id"`
	Step      StepType           `json:"step"`
	Data      map[DataKey]string `json:"data"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewConversation returns a fresh conversation at StepStart.
func NewConversation(userID string, now time.Time) *Conversation {
	return &Conversation{
		UserID:    userID,
		Step:      StepStart,
		Data:      make(map[DataKey]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Reset moves the conversation to step and drops every collected answer.
func (c *Conversation) Reset(step StepType) {
	c.Step = step
	c.Data = make(map[DataKey]string)
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Data = make(map[DataKey]string, len(c.Data))
	for k, v := range c.Data {
		cp.Data[k] = v
	}
	return &cp
}
