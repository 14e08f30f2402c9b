// Package memory defines the working-memory contract used by the narrator to
// keep continuity across turns.
//
// A working memory is addressed by a session id (the game id) and a namespace
// (the consumer, e.g. "narrator"). It holds a free-text summary of older
// exchanges plus the recent message history. Implementations replace the whole
// memory on write; there is no partial update.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// Message roles stored in working memory.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversational exchange entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Memory is the full working memory of one session/namespace pair.
type Memory struct {
	// Context is a summary of exchanges that no longer fit into Messages.
	Context string `json:"context"`

	// Messages is the recent history, oldest first.
	Messages []Message `json:"messages"`
}

// IsEmpty reports whether the memory carries neither context nor messages.
func (m Memory) IsEmpty() bool {
	return m.Context == "" && len(m.Messages) == 0
}

// Append returns a copy of m with msgs added to the end of its history.
// The receiver's backing array is never shared with the result.
func (m Memory) Append(msgs ...Message) Memory {
	out := Memory{
		Context:  m.Context,
		Messages: make([]Message, 0, len(m.Messages)+len(msgs)),
	}
	out.Messages = append(out.Messages, m.Messages...)
	out.Messages = append(out.Messages, msgs...)
	return out
}

// WithContext returns a copy of m whose summary is replaced by summary.
func (m Memory) WithContext(summary string) Memory {
	m.Context = summary
	return m
}

// WorkingMemory reads and replaces per-session working memory.
type WorkingMemory interface {
	// Read returns the memory stored for sessionID under namespace. A session
	// that does not exist yet yields an empty Memory and a nil error.
	Read(ctx context.Context, sessionID, namespace string) (Memory, error)

	// Replace overwrites the memory stored for sessionID under namespace.
	Replace(ctx context.Context, sessionID, namespace string, m Memory) error

	// Delete removes the memory stored for sessionID under namespace. Deleting
	// a session that does not exist is not an error.
	Delete(ctx context.Context, sessionID, namespace string) error
}

// Nop is a WorkingMemory that stores nothing. Reads always return an empty
// memory.
type Nop struct{}

var _ WorkingMemory = Nop{}

// Read implements [WorkingMemory].
func (Nop) Read(context.Context, string, string) (Memory, error) { return Memory{}, nil }

// Replace implements [WorkingMemory].
func (Nop) Replace(context.Context, string, string, Memory) error { return nil }

// Delete implements [WorkingMemory].
func (Nop) Delete(context.Context, string, string) error { return nil }
