// Package resourcebus discovers resources such as media players, renderers,
// capture devices and storage, and keeps one canonical list of them.
//
// # Architecture
//
// Detector plugins find resources and report them as ResourceAdded and
// ResourceDeleted events. The resource manager collects those reports,
// picks one entry when several detectors see the same backend, expires
// stale entries and broadcasts the result to any number of subscribers.
//
//	┌──────────────────────────────────────┐
//	│  Detectors                           │  static, devnode, mounts,
//	│  (event hub, optional Update)        │  adb, sharedlib, natsbridge
//	└──────────────────────────────────────┘
//	           ↓ plugin fan-in sink
//	┌──────────────────────────────────────┐
//	│  Resource manager                    │  id/URI dedup, hash priority,
//	│  (local + remote arrays, 50ms tick)  │  expiry, queries
//	└──────────────────────────────────────┘
//	           ↓ event hub
//	┌──────────────────────────────────────┐
//	│  Controls                            │  CLI, event log,
//	│  (one per subscriber)                │  NATS event mirror
//	└──────────────────────────────────────┘
//
// # Messaging
//
// Package bus provides the substrate every part talks through. A Sink is a
// single-reader queue, synchronous (the handler runs on the caller) or
// asynchronous (messages wait until the owner drains them). A Hub fans a
// message out to many sinks. A Controllable pairs a command sink with an
// event hub; a Control is a client handle on it with its own id. Function
// calls are correlated by a tag carried in the message header and expire
// after a timeout.
//
// # Arbitration
//
// For remote resources the manager applies, in order:
//  1. a report with a known id is ignored
//  2. a report with a known URI is ignored
//  3. for a shared hash the strictly higher priority replaces the old
//     entry; on equal priority the first entry stays
//
// Entries whose class or protocol is not supported are kept but never
// broadcast or returned by queries.
//
// # Sharing between instances
//
// The natsbridge detector stores the manager's local resources in a NATS
// key-value bucket and announces the entries of other instances as remote
// resources with the highest priority.
//
// # Commands
//
// cmd/resourcebus runs the manager as a daemon or lists resources once:
//
//	resourcebus --config=config.json --list-class=item.renderer --wait=3s
package resourcebus
