// Package message defines the unit of communication on the resource bus.
//
// A Message carries a namespace and id that identify its kind, a header
// with routing fields, and an ordered list of typed arguments. Code that
// routes resource traffic works with the typed Event variants returned by
// Decode; the raw Message form is kept for the transport boundary.
package message

import (
	"encoding/json"
	"fmt"
)

// Namespaces
const (
	NSSystem   uint32 = 1
	NSResource uint32 = 2
	// NSFunction is free for application-defined function calls.
	NSFunction uint32 = 3
)

// Message ids in NSSystem
const (
	IDQuit uint32 = 1
)

// Message ids in NSResource
const (
	IDResourceAdded   uint32 = 1
	IDResourceDeleted uint32 = 2
)

// Header holds the routing fields of a message.
type Header struct {
	// ContextID carries the subject of the message, e.g. a resource id.
	ContextID string `json:"context_id,omitempty"`

	// ClientID names the control a command came from. Replies carrying it
	// are delivered to that control only.
	ClientID string `json:"client_id,omitempty"`

	// FunctionTag correlates a reply with a pending function call.
	FunctionTag string `json:"function_tag,omitempty"`

	// Last marks the final reply of a function call.
	Last bool `json:"last,omitempty"`
}

// Message is a namespaced, typed message.
type Message struct {
	Namespace uint32  `json:"ns"`
	ID        uint32  `json:"id"`
	Header    Header  `json:"header"`
	Args      []Value `json:"args,omitempty"`
}

// New creates a message of the given kind.
func New(ns, id uint32) *Message {
	return &Message{Namespace: ns, ID: id}
}

// Is reports whether m has the given namespace and id.
func (m *Message) Is(ns, id uint32) bool {
	return m.Namespace == ns && m.ID == id
}

// Reset clears m for reuse, keeping the argument slice capacity.
func (m *Message) Reset() {
	args := m.Args[:0]
	for i := range m.Args {
		m.Args[i] = Value{}
	}
	*m = Message{Args: args}
}

// CopyFrom makes m a deep copy of src.
func (m *Message) CopyFrom(src *Message) {
	m.Reset()
	m.Namespace = src.Namespace
	m.ID = src.ID
	m.Header = src.Header
	for _, a := range src.Args {
		m.Args = append(m.Args, a.Clone())
	}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	out := &Message{}
	out.CopyFrom(m)
	return out
}

// AddArg appends an argument.
func (m *Message) AddArg(v Value) {
	m.Args = append(m.Args, v)
}

// Arg returns argument i or the zero Value when out of range.
func (m *Message) Arg(i int) Value {
	if i < 0 || i >= len(m.Args) {
		return Value{}
	}
	return m.Args[i]
}

// Equal reports deep equality.
func (m *Message) Equal(o *Message) bool {
	if m.Namespace != o.Namespace || m.ID != o.ID || m.Header != o.Header || len(m.Args) != len(o.Args) {
		return false
	}
	for i := range m.Args {
		if !m.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

func (m *Message) String() string {
	return fmt.Sprintf("msg(ns=%d id=%d ctx=%q args=%d)", m.Namespace, m.ID, m.Header.ContextID, len(m.Args))
}

// Marshal encodes m for transport.
func Marshal(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a message produced by Marshal.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
