package message

// Event is the typed view of a message. Its variants are ResourceAdded,
// ResourceDeleted, Quit and Generic.
type Event interface {
	isEvent()
}

// ResourceAdded announces a resource and its full dictionary.
type ResourceAdded struct {
	ID   string
	Dict Dict
}

// ResourceDeleted announces the removal of a resource.
type ResourceDeleted struct {
	ID string
}

// Quit asks the receiver to stop processing.
type Quit struct{}

// Generic carries any other message unchanged.
type Generic struct {
	Msg *Message
}

func (ResourceAdded) isEvent()   {}
func (ResourceDeleted) isEvent() {}
func (Quit) isEvent()            {}
func (Generic) isEvent()         {}

// Decode returns the typed event for m. Messages that are not resource
// or system events, or resource events without a dictionary, decode to Generic.
func Decode(m *Message) Event {
	switch {
	case m.Is(NSSystem, IDQuit):
		return Quit{}
	case m.Is(NSResource, IDResourceAdded):
		d, ok := m.Arg(0).AsDict()
		if !ok {
			return Generic{Msg: m}
		}
		return ResourceAdded{ID: m.Header.ContextID, Dict: d}
	case m.Is(NSResource, IDResourceDeleted):
		return ResourceDeleted{ID: m.Header.ContextID}
	default:
		return Generic{Msg: m}
	}
}

// Encode writes ev into m, replacing its kind, context and arguments.
// Header routing fields other than ContextID are kept.
func Encode(ev Event, m *Message) {
	hdr := m.Header
	switch e := ev.(type) {
	case ResourceAdded:
		m.Reset()
		m.Namespace, m.ID = NSResource, IDResourceAdded
		hdr.ContextID = e.ID
		m.AddArg(DictValue(e.Dict))
	case ResourceDeleted:
		m.Reset()
		m.Namespace, m.ID = NSResource, IDResourceDeleted
		hdr.ContextID = e.ID
	case Quit:
		m.Reset()
		m.Namespace, m.ID = NSSystem, IDQuit
		hdr.ContextID = ""
	case Generic:
		if e.Msg != m {
			m.CopyFrom(e.Msg)
		}
		return
	}
	m.Header = hdr
}

// FromEvent builds a new message for ev.
func FromEvent(ev Event) *Message {
	m := &Message{}
	Encode(ev, m)
	return m
}

// IsQuit reports whether m is a QUIT message.
func IsQuit(m *Message) bool {
	return m.Is(NSSystem, IDQuit)
}
