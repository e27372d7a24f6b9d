package runtime

import (
	"sync"
	"time"

	"github.com/normanking/alpha/internal/prompt"
)

const bufferCapacity = 20

// DialogueEntry is one buffered turn half.
type DialogueEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	TS        time.Time `json:"ts"`
	Role      string    `json:"role"` // user or assistant
	Truncated bool      `json:"truncated,omitempty"`
}

// DialogueBuffer is a bounded ring of recent turns. User and assistant
// entries are appended in order within one turn.
type DialogueBuffer struct {
	mu      sync.Mutex
	entries []DialogueEntry
}

func newDialogueBuffer() *DialogueBuffer {
	return &DialogueBuffer{}
}

// Append adds one entry, dropping the oldest past capacity.
func (b *DialogueBuffer) Append(e DialogueEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.TS = time.Now()
	b.entries = append(b.entries, e)
	if len(b.entries) > bufferCapacity {
		b.entries = b.entries[len(b.entries)-bufferCapacity:]
	}
}

// Entries returns a copy of the buffered entries.
func (b *DialogueBuffer) Entries() []DialogueEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DialogueEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the current entry count.
func (b *DialogueBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// turns converts the buffer into composer turns.
func (b *DialogueBuffer) turns() []prompt.Turn {
	entries := b.Entries()
	out := make([]prompt.Turn, 0, len(entries))
	for _, e := range entries {
		out = append(out, prompt.Turn{Speaker: e.Speaker, Text: e.Text, Role: e.Role})
	}
	return out
}
