// Package cloudevent converts split-join messages from and to CloudEvents, so that engines can be fed by any
// CloudEvents transport.
package cloudevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/fogfactory/splitjoin"
)

const (
	// MetadataExtension is the CloudEvents extension holding the message metadata as a JSON object.
	MetadataExtension = "splitjoinmetadata"

	// MetadataSource and MetadataType receive the event source and type when converting from an event.
	MetadataSource = "cloudEventSource"
	MetadataType   = "cloudEventType"

	// ContentType is used for the event data.
	ContentType = "application/octet-stream"
)

// ErrInvalidEvent is returned when an event can't be converted.
var ErrInvalidEvent = errors.New("invalid cloud event")

// ToEvent builds an event carrying msg. The message ID becomes the event ID and the metadata travels in the
// MetadataExtension extension.
func ToEvent(msg *splitjoin.Message, source, eventType string) (event.Event, error) {
	e := event.New()
	e.SetID(msg.ID)
	e.SetSource(source)
	e.SetType(eventType)
	if err := e.SetData(ContentType, msg.Payload); err != nil {
		return event.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if len(msg.Metadata) > 0 {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return event.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		e.SetExtension(MetadataExtension, string(metadata))
	}
	if err := e.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return e, nil
}

// FromEvent builds a message from e. The event source and type are kept in the metadata.
func FromEvent(e event.Event) (*splitjoin.Message, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	metadata := splitjoin.Metadata{}
	if raw, ok := e.Extensions()[MetadataExtension]; ok {
		encoded, err := types.ToString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: extension %s: %w", ErrInvalidEvent, MetadataExtension, err)
		}
		if err := json.Unmarshal([]byte(encoded), &metadata); err != nil {
			return nil, fmt.Errorf("%w: extension %s: %w", ErrInvalidEvent, MetadataExtension, err)
		}
	}
	metadata.Set(MetadataSource, e.Source())
	metadata.Set(MetadataType, e.Type())

	return &splitjoin.Message{
		ID:       e.ID(),
		Payload:  bytes.Clone(e.Data()),
		Metadata: metadata,
	}, nil
}
