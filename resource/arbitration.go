package resource

import (
	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/pkg/timestamp"
)

func indexOf(recs []record, match func(Entry) bool) int {
	for i, r := range recs {
		if match(r.entry) {
			return i
		}
	}
	return -1
}

func without(recs []record, idx int) []record {
	out := make([]record, 0, len(recs)-1)
	out = append(out, recs[:idx]...)
	return append(out, recs[idx+1:]...)
}

func with(recs []record, r record) []record {
	out := make([]record, len(recs), len(recs)+1)
	copy(out, recs)
	return append(out, r)
}

// handleCommand processes commands from the manager's controllable: local
// publish and unpublish. It runs on the worker with mu held.
func (m *Manager) handleCommand(msg *message.Message) bool {
	switch ev := message.Decode(msg).(type) {
	case message.ResourceAdded:
		m.addLocal(ev.ID, ev.Dict)
	case message.ResourceDeleted:
		m.delLocal(ev.ID)
	default:
		m.logger.Debug("Ignoring command", "message", msg.String())
	}
	return true
}

// handlePlugin processes events from detectors. It runs on the worker with mu held.
func (m *Manager) handlePlugin(msg *message.Message) bool {
	switch ev := message.Decode(msg).(type) {
	case message.ResourceAdded:
		m.addRemote(ev.ID, ev.Dict)
	case message.ResourceDeleted:
		m.delRemote(ev.ID)
	}
	return true
}

func (m *Manager) addLocal(id string, dict message.Dict) {
	if id == "" {
		m.logger.Warn("Ignoring local resource without id")
		return
	}

	recs := *m.local.Load()
	if indexOf(recs, func(e Entry) bool { return e.ID() == id }) >= 0 {
		return
	}

	e := NewEntry(id, dict)
	recs = with(recs, record{entry: e, published: true})
	m.local.Store(&recs)
	m.updateGauge(Local, len(recs))

	m.logger.Info("Local resource published", "id", id, "uri", e.URI())
	ev := message.ResourceAdded{ID: id, Dict: e.Dict()}
	m.broadcast(ev)
	m.forwardToDetectors(ev)
}

func (m *Manager) delLocal(id string) {
	recs := *m.local.Load()
	idx := indexOf(recs, func(e Entry) bool { return e.ID() == id })
	if idx < 0 {
		return
	}

	recs = without(recs, idx)
	m.local.Store(&recs)
	m.updateGauge(Local, len(recs))

	m.logger.Info("Local resource unpublished", "id", id)
	ev := message.ResourceDeleted{ID: id}
	m.broadcast(ev)
	m.forwardToDetectors(ev)
}

// addRemote applies the arbitration rules to a detector report:
//  1. an entry with the same id wins
//  2. an entry with the same URI wins
//  3. for a shared hash the strictly higher priority wins; on a tie the
//     entry registered first stays
//  4. otherwise the entry is stored, and broadcast if supported
func (m *Manager) addRemote(id string, dict message.Dict) {
	if id == "" {
		m.logger.Warn("Ignoring remote resource without id")
		return
	}

	e := NewEntry(id, dict)
	recs := *m.remote.Load()

	if indexOf(recs, func(o Entry) bool { return o.ID() == id }) >= 0 {
		return
	}

	if uri := e.URI(); uri != "" {
		if indexOf(recs, func(o Entry) bool { return o.URI() == uri }) >= 0 {
			m.logger.Debug("Duplicate URI", "id", id, "uri", uri)
			return
		}
	}

	if hash := e.Hash(); hash != "" {
		if idx := indexOf(recs, func(o Entry) bool { return o.Hash() == hash }); idx >= 0 {
			old := recs[idx]
			if e.Priority() <= old.entry.Priority() {
				m.logger.Debug("Dropping lower priority duplicate",
					"id", id, "kept", old.entry.ID(), "hash", hash)
				return
			}

			recs = without(recs, idx)
			m.remote.Store(&recs)
			if old.published {
				m.broadcast(message.ResourceDeleted{ID: old.entry.ID()})
			}
			if m.metrics != nil {
				m.metrics.Superseded.Inc()
			}
			m.logger.Info("Resource superseded",
				"old", old.entry.ID(), "new", id, "hash", hash, "priority", e.Priority())
		}
	}

	r := record{entry: e, published: m.supported(e)}
	recs = with(recs, r)
	m.remote.Store(&recs)
	m.updateGauge(Remote, len(recs))

	if !r.published {
		m.logger.Debug("Stored unsupported resource", "id", id, "class", e.Class(), "protocol", e.Protocol())
		return
	}
	m.logger.Info("Resource added", "id", id, "class", e.Class(), "uri", e.URI(),
		"expires", timestamp.Format(e.ExpireTime()))
	m.broadcast(message.ResourceAdded{ID: id, Dict: e.Dict()})
}

func (m *Manager) delRemote(id string) {
	recs := *m.remote.Load()
	idx := indexOf(recs, func(e Entry) bool { return e.ID() == id })
	if idx < 0 {
		return
	}

	old := recs[idx]
	recs = without(recs, idx)
	m.remote.Store(&recs)
	m.updateGauge(Remote, len(recs))

	m.logger.Info("Resource deleted", "id", id)
	if old.published {
		m.broadcast(message.ResourceDeleted{ID: id})
	}
}

// sweep removes expired remote entries and returns how many it removed.
func (m *Manager) sweep() int {
	now := timestamp.ToUnixUs(m.clock())
	recs := *m.remote.Load()

	var kept []record
	var expired []record
	for _, r := range recs {
		if r.entry.Expired(now) {
			expired = append(expired, r)
		} else {
			kept = append(kept, r)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	if kept == nil {
		kept = []record{}
	}
	m.remote.Store(&kept)
	m.updateGauge(Remote, len(kept))

	for _, r := range expired {
		m.logger.Info("Resource expired", "id", r.entry.ID())
		if r.published {
			m.broadcast(message.ResourceDeleted{ID: r.entry.ID()})
		}
		if m.metrics != nil {
			m.metrics.Expired.Inc()
		}
	}
	return len(expired)
}

func (m *Manager) broadcast(ev message.Event) {
	m.ctrl.EvtHub().SendEvent(ev)
	if m.metrics == nil {
		return
	}
	switch ev.(type) {
	case message.ResourceAdded:
		m.metrics.Events.WithLabelValues("added").Inc()
	case message.ResourceDeleted:
		m.metrics.Events.WithLabelValues("deleted").Inc()
	}
}

// forwardToDetectors hands local resource changes to active detectors so
// they can advertise them.
func (m *Manager) forwardToDetectors(ev message.Event) {
	for _, p := range m.plugins {
		if p.active && p.source != nil {
			p.source.CmdSink().PutEvent(ev)
		}
	}
}

func (m *Manager) updateGauge(a Array, n int) {
	if m.metrics != nil {
		m.metrics.Resources.WithLabelValues(a.String()).Set(float64(n))
	}
}

// replay sends the current state to a newly connected subscriber. A
// subscriber connecting while the worker changes state may see that change
// twice but never misses it.
func (m *Manager) replay(s *bus.Sink) {
	for _, r := range *m.local.Load() {
		s.PutEvent(message.ResourceAdded{ID: r.entry.ID(), Dict: r.entry.Dict()})
	}
	for _, r := range *m.remote.Load() {
		if r.published {
			s.PutEvent(message.ResourceAdded{ID: r.entry.ID(), Dict: r.entry.Dict()})
		}
	}
}
