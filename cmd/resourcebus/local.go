package main

import (
	"log/slog"

	"github.com/c360/resourcebus/config"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/resource"
)

// localPublisher is the part of the manager that owns local resources.
type localPublisher interface {
	Publish(id string, dict message.Dict)
	Unpublish(id string)
}

// publishLocal publishes the configured local resources.
func publishLocal(mgr localPublisher, locals []config.LocalResource) {
	for _, r := range locals {
		var extra message.Dict
		if len(r.Extra) > 0 {
			extra = make(message.Dict, len(r.Extra))
			for k, v := range r.Extra {
				extra.SetString(k, v)
			}
		}
		mgr.Publish(r.ID, resource.Info{
			Class: r.Class,
			URI:   r.URI,
			Label: r.Label,
			Hash:  r.Hash,
			Extra: extra,
		}.Dict())
		slog.Debug("Publishing local resource", "id", r.ID, "uri", r.URI)
	}
}

// unpublishLocal withdraws them again, in reverse order.
func unpublishLocal(mgr localPublisher, locals []config.LocalResource) {
	for i := len(locals) - 1; i >= 0; i-- {
		mgr.Unpublish(locals[i].ID)
	}
}
