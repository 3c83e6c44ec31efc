// Package timestamp handles resource expire times.
//
// Expire times are int64 microseconds since the Unix epoch (UTC), the unit
// resource dictionaries carry under "expireTime". A value of 0 means "not
// set" and every function treats it that way.
package timestamp

import (
	"fmt"
	"time"
)

// maxValid is 3000-01-01T00:00:00Z.
const maxValid = int64(32503680000) * 1_000_000

// Now returns the current time as Unix microseconds.
func Now() int64 {
	return time.Now().UnixMicro()
}

// ToUnixUs converts t to Unix microseconds. The zero time maps to 0.
func ToUnixUs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// FromUnixUs converts Unix microseconds to a time. 0 maps to the zero time.
func FromUnixUs(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

// Format renders us as RFC3339 with milliseconds, or "" when unset.
func Format(us int64) string {
	if us == 0 {
		return ""
	}
	return time.UnixMicro(us).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Expiry returns now+ttl in microseconds, or 0 when ttl is not positive.
func Expiry(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return ToUnixUs(now.Add(ttl))
}

// Until returns the time left from now until us. It is 0 for unset
// timestamps and negative once us has passed.
func Until(us int64, now time.Time) time.Duration {
	if us == 0 {
		return 0
	}
	return time.UnixMicro(us).Sub(now)
}

// Min returns the earlier of two timestamps.
// Zero values are treated as "later than any other time".
func Min(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// Validate checks that us is non-negative and before the year 3000.
func Validate(us int64) error {
	if us < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", us)
	}
	if us > maxValid {
		return fmt.Errorf("timestamp too far in future: %d", us)
	}
	return nil
}
