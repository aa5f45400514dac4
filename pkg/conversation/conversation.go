// Package conversation provides the append-only log of messages exchanged
// between chat users and the inference backend.
//
// Entries are immutable once written. Backends only insert and query; there
// is no update or delete path, so concurrent appends need no coordination
// beyond what the storage engine already provides.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultLimit is the number of entries Recent returns when no limit is set.
const DefaultLimit = 5

// Role identifies who authored an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSystem, RoleAssistant:
		return true
	}
	return false
}

// Kind is the message kind an entry was produced under.
type Kind string

const (
	KindDefault Kind = "default"
	KindCustom  Kind = "custom"
	KindCode    Kind = "code"
	KindLink    Kind = "link"
)

// Valid reports whether k is one of the enumerated kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDefault, KindCustom, KindCode, KindLink:
		return true
	}
	return false
}

// ParseKind converts a stored or user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", s)}
	}
	return k, nil
}

// Entry is a single persisted message.
type Entry struct {
	ID      int64
	Role    Role
	Content string
	Sender  string
	Kind    Kind

	// Model is nil for user turns that did not pin a model.
	Model *string
	// Prompt is the text actually sent to the model, when known.
	Prompt *string
	// EventID is the chat event the entry originated from.
	EventID *string

	// CreatedAt is assigned by the store.
	CreatedAt time.Time
}

// Validate checks the enumerated fields of an entry.
func (e Entry) Validate() error {
	if !e.Role.Valid() {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", e.Role)}
	}
	if !e.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", e.Kind)}
	}
	return nil
}

// Query selects entries for Recent. At least one of Sender or Kind must be set.
type Query struct {
	Sender string
	Kind   Kind
	Limit  int
}

// normalize validates q and fills in the default limit.
func (q Query) normalize() (Query, error) {
	if q.Sender == "" && q.Kind == "" {
		return q, &ValidationError{Field: "query", Message: "provide a sender or a kind"}
	}
	if q.Kind != "" && !q.Kind.Valid() {
		return q, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", q.Kind)}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	return q, nil
}

// Log is the append/query contract for the conversation history.
type Log interface {
	// Append inserts e. It fails with *ValidationError when the role or kind
	// is not enumerated.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to q.Limit matching entries, oldest first.
	Recent(ctx context.Context, q Query) ([]Entry, error)

	Close() error
}

// ValidationError reports a malformed Append or Recent call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "conversation: invalid " + e.Field + ": " + e.Message
}

// Open opens a log from a database URL. Supported forms are
// "sqlite://<path>" and "postgres://...".
func Open(ctx context.Context, database string) (Log, error) {
	const sqliteScheme = "sqlite://"
	switch {
	case strings.HasPrefix(database, sqliteScheme):
		return OpenSQLite(strings.TrimPrefix(database, sqliteScheme))
	case strings.HasPrefix(database, "postgres://"), strings.HasPrefix(database, "postgresql://"):
		return OpenPostgres(ctx, database)
	default:
		return nil, fmt.Errorf("unsupported database %q", database)
	}
}

// Ptr returns a pointer to s, or nil when s is empty.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// reverse flips newest-first rows into chronological order.
func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
