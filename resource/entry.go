// Package resource implements the resource manager: it collects resources
// reported by detectors, arbitrates between duplicate reports, expires
// stale entries and broadcasts the canonical set to subscribers.
package resource

import (
	"strings"
	"time"

	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/pkg/timestamp"
)

// Dictionary keys of a resource entry.
const (
	KeyID         = "id"
	KeyClass      = "class"
	KeyURI        = "uri"
	KeyLabel      = "label"
	KeyHash       = "hash"
	KeyPriority   = "priority"
	KeyExpireTime = "expireTime"
)

// Priorities used when several detectors report the same backend.
const (
	PriorityMin     = 1
	PriorityDefault = 50
	PriorityMax     = 100
)

// Entry is an immutable view of a resource dictionary.
type Entry struct {
	dict message.Dict
}

// NewEntry copies d and stores id in it.
func NewEntry(id string, d message.Dict) Entry {
	c := d.Clone()
	if c == nil {
		c = message.Dict{}
	}
	c.SetString(KeyID, id)
	return Entry{dict: c}
}

func (e Entry) str(key string) string {
	s, _ := e.dict.GetString(key)
	return s
}

func (e Entry) ID() string    { return e.str(KeyID) }
func (e Entry) Class() string { return e.str(KeyClass) }
func (e Entry) URI() string   { return e.str(KeyURI) }
func (e Entry) Hash() string  { return e.str(KeyHash) }

// Label returns the human readable name, falling back to the id.
func (e Entry) Label() string {
	if l := e.str(KeyLabel); l != "" {
		return l
	}
	return e.ID()
}

// Priority returns the arbitration priority, 0 when unset. Values outside
// 0..PriorityMax are clamped.
func (e Entry) Priority() int {
	p, _ := e.dict.GetLong(KeyPriority)
	return int(min(max(p, 0), PriorityMax))
}

// ExpireTime returns the expiry in unix microseconds, 0 for never.
func (e Entry) ExpireTime() int64 {
	t, _ := e.dict.GetLong(KeyExpireTime)
	return t
}

// ExpiresAt returns the expire time, the zero time for never.
func (e Entry) ExpiresAt() time.Time {
	return timestamp.FromUnixUs(e.ExpireTime())
}

// Expired reports whether the entry's expire time is at or before now (unix µs).
func (e Entry) Expired(now int64) bool {
	t := e.ExpireTime()
	return t > 0 && t <= now
}

// Protocol returns the URI scheme, e.g. "mpd" for "mpd://host:6600".
func (e Entry) Protocol() string {
	return Protocol(e.URI())
}

// Dict returns a copy of the entry's dictionary.
func (e Entry) Dict() message.Dict {
	return e.dict.Clone()
}

// Protocol extracts the scheme of uri. It returns "" when uri has none.
func Protocol(uri string) string {
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" {
		return ""
	}
	for i, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(scheme)
}

// Info describes a resource for detectors building announcements.
type Info struct {
	Class    string
	URI      string
	Label    string
	Hash     string
	Priority int

	// ExpireTime is in unix microseconds; 0 means the entry never expires.
	ExpireTime int64

	// Extra holds additional keys copied into the dictionary.
	Extra message.Dict
}

// Dict renders the info as a resource dictionary.
func (i Info) Dict() message.Dict {
	d := i.Extra.Clone()
	if d == nil {
		d = message.Dict{}
	}
	d.SetString(KeyClass, i.Class)
	d.SetString(KeyURI, i.URI)
	if i.Label != "" {
		d.SetString(KeyLabel, i.Label)
	}
	if i.Hash != "" {
		d.SetString(KeyHash, i.Hash)
	}
	if i.Priority != 0 {
		d.SetInt(KeyPriority, int32(min(max(i.Priority, 0), PriorityMax)))
	}
	if i.ExpireTime != 0 {
		d.SetLong(KeyExpireTime, i.ExpireTime)
	}
	return d
}
