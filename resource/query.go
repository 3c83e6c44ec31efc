package resource

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/c360/resourcebus/errors"
)

func (m *Manager) snapshot(a Array) []record {
	if a == Local {
		return *m.local.Load()
	}
	return *m.remote.Load()
}

// GetByID returns the entry with id from array a.
func (m *Manager) GetByID(a Array, id string) (Entry, error) {
	for _, r := range m.snapshot(a) {
		if r.entry.ID() == id {
			return r.entry, nil
		}
	}
	return Entry{}, errors.Wrap(errors.ErrNotFound, "Manager", "GetByID", a.String()+" lookup of "+id)
}

// GetByIndex returns entry idx of array a in insertion order.
func (m *Manager) GetByIndex(a Array, idx int) (Entry, error) {
	recs := m.snapshot(a)
	if idx < 0 || idx >= len(recs) {
		return Entry{}, errors.Wrap(errors.ErrNotFound, "Manager", "GetByIndex", a.String()+" index lookup")
	}
	return recs[idx].entry, nil
}

// Len returns the number of entries in array a.
func (m *Manager) Len(a Array) int {
	return len(m.snapshot(a))
}

// Entries returns a copy of array a in insertion order.
func (m *Manager) Entries(a Array) []Entry {
	recs := m.snapshot(a)
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = r.entry
	}
	return out
}

// GetByClass waits for wait, giving slow detectors time to report, then
// returns the broadcast remote entries whose class matches. With exact the
// class must equal prefix, otherwise start with it. Results are sorted by
// label, then URI.
func (m *Manager) GetByClass(ctx context.Context, prefix string, exact bool, wait time.Duration) ([]Entry, error) {
	return m.query(ctx, wait, func(e Entry) bool { return matches(e.Class(), prefix, exact) })
}

// GetByProtocol is GetByClass matching the URI scheme instead of the class.
func (m *Manager) GetByProtocol(ctx context.Context, prefix string, exact bool, wait time.Duration) ([]Entry, error) {
	return m.query(ctx, wait, func(e Entry) bool { return matches(e.Protocol(), prefix, exact) })
}

func matches(val, prefix string, exact bool) bool {
	if exact {
		return val == prefix
	}
	return strings.HasPrefix(val, prefix)
}

func (m *Manager) query(ctx context.Context, wait time.Duration, match func(Entry) bool) ([]Entry, error) {
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), "Manager", "query", "wait for detectors")
		case <-timer.C:
		}
	}

	var out []Entry
	for _, r := range m.snapshot(Remote) {
		if r.published && match(r.entry) {
			out = append(out, r.entry)
		}
	}

	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Label(), b.Label()); c != 0 {
			return c
		}
		return cmp.Compare(a.URI(), b.URI())
	})
	return out, nil
}
