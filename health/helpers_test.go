package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("manager", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromErrorSanitizes(t *testing.T) {
	s := FromError("natsbridge", errors.New("dial nats://user:pw@10.0.0.5:4222 failed token=abc"))
	assert.True(t, s.IsDegraded())
	assert.NotContains(t, s.Message, "10.0.0.5")
	assert.NotContains(t, s.Message, "abc")
	assert.Contains(t, s.Message, "[URL]")

	assert.True(t, FromError("x", nil).IsHealthy())
}

func TestWithSubStatusCopies(t *testing.T) {
	base := NewHealthy("root", "")
	a := base.WithSubStatus(NewHealthy("a", ""))
	b := base.WithSubStatus(NewHealthy("b", ""))
	assert.Len(t, base.SubStatuses, 0)
	assert.Equal(t, "a", a.SubStatuses[0].Component)
	assert.Equal(t, "b", b.SubStatuses[0].Component)
}
