// Package typing shows a typing indicator in a room for the duration of a
// slow operation.
package typing

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTimeout is how long the chat server keeps the indicator alive
// without a refresh.
const DefaultTimeout = 60 * time.Second

// Setter toggles the typing state of the bot in a room.
type Setter interface {
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

// Indicator wraps a Setter. Failures to toggle are logged and never surface
// to the caller.
type Indicator struct {
	setter  Setter
	timeout time.Duration
}

// New returns an Indicator. A non-positive timeout selects DefaultTimeout.
func New(setter Setter, timeout time.Duration) *Indicator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Indicator{setter: setter, timeout: timeout}
}

// Around turns typing on, runs fn, and turns typing off again. The off call
// happens even if fn panics.
func (i *Indicator) Around(ctx context.Context, roomID string, fn func()) {
	i.set(ctx, roomID, true)
	defer i.set(context.WithoutCancel(ctx), roomID, false)
	fn()
}

func (i *Indicator) set(ctx context.Context, roomID string, on bool) {
	if err := i.setter.SetTyping(ctx, roomID, on, i.timeout); err != nil {
		slog.Warn("set typing failed", "room", roomID, "typing", on, "error", err)
	}
}
