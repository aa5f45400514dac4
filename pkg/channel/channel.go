// Package channel defines the interface for chat transports.
// The bot reads commands from a channel and answers through it.
package channel

import (
	"context"
	"time"
)

// Message represents an incoming command from any channel.
type Message struct {
	// Source identifies the channel (e.g., "matrix")
	Source string

	// SenderID is the channel-specific sender identifier
	SenderID string

	// RoomID is the channel-specific room/conversation identifier
	RoomID string

	// EventID identifies the message itself, used for reactions and logging
	EventID string

	// Content is the command text with the bot's invocation prefix removed
	Content string

	// Timestamp is the message timestamp in milliseconds
	Timestamp int64
}

// Response represents an outgoing message to a channel.
type Response struct {
	// Content is the text to send
	Content string

	// RoomID is the target room/conversation
	RoomID string

	// Markdown renders Content as markdown when the channel supports it
	Markdown bool
}

// Channel is the interface for a communication channel.
type Channel interface {
	// Name returns the channel identifier (e.g., "matrix").
	Name() string

	// Start begins listening for messages. Blocks until ctx is cancelled.
	// Received messages are sent to the handler function.
	Start(ctx context.Context, handler MessageHandler) error

	// Send sends a response to a specific room and returns the event id of
	// the (last) message it created.
	Send(ctx context.Context, resp Response) (string, error)

	// SetTyping shows or clears the typing indicator. timeout is a hint to
	// the server for how long the indicator stays up.
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error

	// React annotates an event with a reaction key.
	React(ctx context.Context, roomID, eventID, key string) error

	// Stop gracefully shuts down the channel.
	Stop() error
}

// MessageHandler is called when a message is received from any channel.
type MessageHandler func(ctx context.Context, msg Message) error
