package detect

import (
	"sort"
	"strings"
	"sync"
)

// ReasonSet is the set of reason tags collected for one session.
type ReasonSet map[string]struct{}

// Has reports whether the exact tag is present.
func (r ReasonSet) Has(tag string) bool {
	_, ok := r[tag]
	return ok
}

// HasPrefix reports whether any tag starts with the given prefix.
func (r ReasonSet) HasPrefix(prefix string) bool {
	for tag := range r {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}

// HasAny reports whether any of the given tags is present.
func (r ReasonSet) HasAny(tags ...string) bool {
	for _, tag := range tags {
		if r.Has(tag) {
			return true
		}
	}
	return false
}

// Sorted returns the tags in lexical order.
func (r ReasonSet) Sorted() []string {
	tags := make([]string, 0, len(r))
	for tag := range r {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Entry is the accumulated state for one session within a run.
type Entry struct {
	Score   int
	Reasons ReasonSet
}

// Accumulator collects signals for the duration of one run. It is rebuilt
// from scratch each invocation; stored scores never feed back into it.
// Updates are mutex-guarded so detectors may be sharded across goroutines.
type Accumulator struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewAccumulator returns an empty run-scoped accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[string]*Entry)}
}

// Add sums points into the session's running total and records the reason
// tag. Reasons have set semantics; points always add.
func (a *Accumulator) Add(sessionID string, points int, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok {
		e = &Entry{Reasons: make(ReasonSet)}
		a.entries[sessionID] = e
	}
	e.Score += points
	e.Reasons[reason] = struct{}{}
}

// Score returns the current running total for a session (0 if unseen).
func (a *Accumulator) Score(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.entries[sessionID]; ok {
		return e.Score
	}
	return 0
}

// Len returns the number of sessions with at least one signal.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Entries returns the accumulated state keyed by session id. The map is the
// accumulator's own; callers must be done adding signals before reading it.
func (a *Accumulator) Entries() map[string]*Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries
}
