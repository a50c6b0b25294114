// Package memory holds the bounded per-session conversation log.
package memory

import (
	"sync"
	"time"
)

// Sender identifies who produced a turn.
type Sender string

const (
	User   Sender = "user"
	System Sender = "system"
)

// Turn is one message in a conversation.
type Turn struct {
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultWindow is the number of turns offered to a model as history.
const DefaultWindow = 8

// Memory keeps at most 2*window turns, dropping the oldest first.
// Recent returns the last window of them. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	window int
	turns  []Turn
	now    func() time.Time
}

// New creates a Memory; window <= 0 falls back to DefaultWindow.
func New(window int) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{window: window, now: time.Now}
}

// Window returns the history window size.
func (m *Memory) Window() int { return m.window }

// Append records a turn stamped with the current time and returns it.
func (m *Memory) Append(sender Sender, message string) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := Turn{Sender: sender, Message: message, Timestamp: m.now()}
	m.turns = append(m.turns, t)
	if limit := 2 * m.window; len(m.turns) > limit {
		// Copy so the dropped prefix can be collected.
		m.turns = append([]Turn(nil), m.turns[len(m.turns)-limit:]...)
	}
	return t
}

// Recent returns up to window most recent turns in original order.
func (m *Memory) Recent() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if len(m.turns) > m.window {
		start = len(m.turns) - m.window
	}
	return append([]Turn(nil), m.turns[start:]...)
}

// All returns every retained turn in original order.
func (m *Memory) All() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns...)
}

// Len returns the number of retained turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}
