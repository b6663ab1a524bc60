package splitjoin

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	// MetadataSplitPosition is set on every sub-unit before dispatch to its 1-based position.
	MetadataSplitPosition = "currentSplitCount"
	// MetadataSplitTotal is set on the original message after a successful join to the number of sub-units.
	MetadataSplitTotal = "messageSplitCount"
	// MetadataParentID is set on derived messages to the ID of the message they were derived from.
	MetadataParentID = "parentMessageId"
)

// Metadata holds string key/values attached to a message.
type Metadata map[string]string

// Get returns the value for key, or an empty string.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Set stores value under key.
func (m Metadata) Set(key, value string) {
	m[key] = value
}

// SetInt stores an integer value under key.
func (m Metadata) SetInt(key string, value int) {
	m[key] = strconv.Itoa(value)
}

// Int returns the integer value stored under key. ok is false if the key is missing or not an integer.
func (m Metadata) Int(key string) (value int, ok bool) {
	raw, found := m[key]
	if !found {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	return value, err == nil
}

// Clone returns an independent copy of the metadata. Cloning nil yields an empty map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return lo.Assign(m)
}

// Message is the unit flowing through the engine: an opaque payload plus metadata.
// A message is not safe for concurrent use; the engine guarantees a single owner at a time.
type Message struct {
	ID       string
	Payload  []byte
	Metadata Metadata
}

// NewMessage creates a message with a fresh unique ID. The metadata map is used as is, nil is replaced by an empty map.
func NewMessage(payload []byte, metadata Metadata) *Message {
	if metadata == nil {
		metadata = Metadata{}
	}
	return &Message{
		ID:       uuid.NewString(),
		Payload:  payload,
		Metadata: metadata,
	}
}

// Derive creates a new message with its own ID, the given payload and a copy of m's metadata.
// This is what splitters use to build sub-units.
func (m *Message) Derive(payload []byte) *Message {
	child := NewMessage(payload, m.Metadata.Clone())
	child.Metadata.Set(MetadataParentID, m.ID)
	return child
}

// Clone returns a deep copy of m keeping the same ID.
func (m *Message) Clone() *Message {
	var payload []byte
	if m.Payload != nil {
		payload = append(make([]byte, 0, len(m.Payload)), m.Payload...)
	}
	return &Message{
		ID:       m.ID,
		Payload:  payload,
		Metadata: m.Metadata.Clone(),
	}
}

// replaceWith overwrites m with the content of other, keeping m's identity for the caller.
func (m *Message) replaceWith(other *Message) {
	m.ID = other.ID
	m.Payload = other.Payload
	m.Metadata = other.Metadata
}

// SubUnit is a message produced by a split, tagged with its 1-based position.
// Once its task is over it carries either a success marker or the task failure.
type SubUnit struct {
	*Message
	Position int

	done bool
	err  error
}

// NewSubUnit wraps msg at the given position and tags its metadata accordingly.
func NewSubUnit(msg *Message, position int) *SubUnit {
	if msg.Metadata == nil {
		msg.Metadata = Metadata{}
	}
	msg.Metadata.SetInt(MetadataSplitPosition, position)
	return &SubUnit{Message: msg, Position: position}
}

// Err returns the failure attached to the sub-unit, if any.
func (s *SubUnit) Err() error {
	return s.err
}

// Succeeded reports whether the sub-unit was processed without error.
func (s *SubUnit) Succeeded() bool {
	return s.done && s.err == nil
}

func (s *SubUnit) complete(err error) {
	s.done = true
	s.err = err
}
