// Package errsink collects non-fatal pipeline errors for operators to review.
package errsink

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultLimit is how many entries a Collector keeps when none is given.
const DefaultLimit = 100

// Entry is one reported problem.
type Entry struct {
	Kind    string    `json:"kind"`
	Details []string  `json:"details"`
	At      time.Time `json:"at"`
}

// Collector keeps the most recent entries in memory and logs each one as it
// arrives. It is safe for concurrent use and never fails.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	now     func() time.Time
}

func New(limit int) *Collector {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Collector{
		limit: limit,
		now:   time.Now,
	}
}

// Add records an entry, evicting the oldest once the limit is reached.
func (c *Collector) Add(kind string, details ...string) {
	slog.Warn("pipeline error", "kind", kind, "details", details)

	entry := Entry{
		Kind:    kind,
		Details: slices.Clone(details),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry.At = c.now()
	c.entries = append(c.entries, entry)
	if over := len(c.entries) - c.limit; over > 0 {
		c.entries = slices.Delete(c.entries, 0, over)
	}
}

// Entries returns a copy of the stored entries, oldest first.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.entries)
}

// Kinds counts the stored entries per kind.
func (c *Collector) Kinds() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int)
	for _, e := range c.entries {
		counts[e.Kind]++
	}

	return counts
}

// Clear drops every entry, e.g. once an operator has acknowledged them.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
}
