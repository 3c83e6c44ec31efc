package detector

import (
	"sort"
	"time"

	"github.com/c360/resourcebus/message"
)

// Tracker turns periodic scans into ResourceAdded and ResourceDeleted
// events. Only ids not seen in the previous scan are announced, and ids
// missing from the current scan are withdrawn.
type Tracker struct {
	base  *Base
	known map[string]struct{}
}

// NewTracker creates a tracker announcing through b.
func NewTracker(b *Base) *Tracker {
	return &Tracker{base: b, known: make(map[string]struct{})}
}

// Sync reconciles the current scan and returns the number of events sent.
func (t *Tracker) Sync(current map[string]message.Dict) int {
	n := 0
	for _, id := range sortedKeys(t.known) {
		if _, ok := current[id]; !ok {
			delete(t.known, id)
			t.base.Withdraw(id)
			n++
		}
	}
	for _, id := range sortedKeys(current) {
		if _, ok := t.known[id]; ok {
			continue
		}
		t.known[id] = struct{}{}
		t.base.Announce(id, current[id])
		n++
	}
	return n
}

// Reset withdraws everything announced so far.
func (t *Tracker) Reset() int {
	return t.Sync(nil)
}

// Len returns the number of announced ids.
func (t *Tracker) Len() int {
	return len(t.known)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interval rate-limits polling detectors. The zero value is always due.
type Interval struct {
	Every time.Duration
	next  time.Time
}

// Due reports whether a scan should run at now, and if so schedules the next one.
func (i *Interval) Due(now time.Time) bool {
	if now.Before(i.next) {
		return false
	}
	i.next = now.Add(i.Every)
	return true
}
