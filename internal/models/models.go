// Package models defines the core data structures for OrderPipe.
//
// It includes the inbound message shape, conversation state, order records and
// transport receipts, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for inbound messages
const (
	// MaxMessageTextLength defines the maximum accepted length for inbound message text
	MaxMessageTextLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID     = errors.New("user_id cannot be empty")
	ErrEmptyMessage    = errors.New("message must carry text or media")
	ErrMessageTooLong  = errors.New("message text exceeds maximum length")
	ErrInvalidMediaURL = errors.New("media must carry a url or inline data")
)

// Media describes an uploaded attachment. Transports that download the content
// themselves (whatsmeow) fill Data; webhook transports (Twilio) only fill URL.
// Over JSON, Data travels base64-encoded.
type Media struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// InboundMessage is the normalized message consumed by the conversation engine.
type InboundMessage struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Media  *Media `json:"media,omitempty"`
}

// Validate checks that the message can be routed to a conversation.
func (m *InboundMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(m.Text) > MaxMessageTextLength {
		return ErrMessageTooLong
	}
	if m.Media != nil && m.Media.URL == "" && len(m.Media.Data) == 0 {
		return ErrInvalidMediaURL
	}
	if strings.TrimSpace(m.Text) == "" && m.Media == nil {
		return ErrEmptyMessage
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a customer as delivered by a transport.
type Response struct {
	// MessageID is the transport's id for the message; empty when unknown.
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Media     *Media `json:"media,omitempty"`
	Time      int64  `json:"time"`
}

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
