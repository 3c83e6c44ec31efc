package timestamp

import (
	"testing"
	"time"
)

var (
	testTime   = time.Date(2023, 1, 15, 12, 30, 45, 123456000, time.UTC)
	testTimeUs = int64(1673785845123456)
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMicro()
	ts := Now()
	after := time.Now().UnixMicro()

	if ts < before || ts > after {
		t.Errorf("Now() = %d, expected between %d and %d", ts, before, after)
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name  string
		input time.Time
		want  int64
	}{
		{"normal time", testTime, testTimeUs},
		{"zero time", time.Time{}, 0},
		{"unix epoch", time.Unix(0, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToUnixUs(tt.input); got != tt.want {
				t.Errorf("ToUnixUs(%v) = %d, expected %d", tt.input, got, tt.want)
			}
		})
	}

	if got := FromUnixUs(testTimeUs); !got.Equal(testTime) {
		t.Errorf("FromUnixUs(%d) = %v, expected %v", testTimeUs, got, testTime)
	}
	if got := FromUnixUs(0); !got.IsZero() {
		t.Errorf("FromUnixUs(0) = %v, expected zero time", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(testTimeUs); got != "2023-01-15T12:30:45.123Z" {
		t.Errorf("Format() = %q", got)
	}
	if got := Format(0); got != "" {
		t.Errorf("Format(0) = %q, expected empty", got)
	}
}

func TestExpiryAndUntil(t *testing.T) {
	exp := Expiry(testTime, 10*time.Second)
	if exp != testTimeUs+10_000_000 {
		t.Errorf("Expiry() = %d", exp)
	}
	if got := Expiry(testTime, 0); got != 0 {
		t.Errorf("Expiry with zero ttl = %d, expected 0", got)
	}

	if got := Until(exp, testTime); got != 10*time.Second {
		t.Errorf("Until() = %v, expected 10s", got)
	}
	if got := Until(exp, testTime.Add(time.Minute)); got >= 0 {
		t.Errorf("Until() after expiry = %v, expected negative", got)
	}
	if got := Until(0, testTime); got != 0 {
		t.Errorf("Until(0) = %v, expected 0", got)
	}
}

func TestMin(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{1, 2, 1},
		{2, 1, 1},
		{0, 5, 5},
		{5, 0, 5},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Min(tt.a, tt.b); got != tt.want {
			t.Errorf("Min(%d, %d) = %d, expected %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(testTimeUs); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if err := Validate(0); err != nil {
		t.Errorf("Validate(0) = %v", err)
	}
	if err := Validate(-1); err == nil {
		t.Error("Validate(-1) should fail")
	}
	if err := Validate(maxValid + 1); err == nil {
		t.Error("Validate() far in the future should fail")
	}
}
