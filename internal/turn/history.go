package turn

import "sync"

// defaultHistoryCap is the maximum number of reply texts carried as context.
const defaultHistoryCap = 10

// History holds the texts of the agent's previous replies, oldest first,
// capped with FIFO eviction. Only reply texts are kept; transcripts are not
// part of the conversational context sent to the completion stage.
//
// Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []string
	cap     int
}

// NewHistory creates an empty history with the default cap of 10 entries.
func NewHistory() *History {
	return &History{cap: defaultHistoryCap}
}

// Append adds a reply text, evicting the oldest entry when the cap is reached.
func (h *History) Append(reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, reply)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// Snapshot returns a copy of the entries, oldest first.
func (h *History) Snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recent reply text, or "" when empty.
func (h *History) Last() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops all entries. Called when the conversation's system prompt
// changes, since old replies were produced under a different persona.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
