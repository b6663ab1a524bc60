// Package splitter provides common ways to split a message payload.
package splitter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fogfactory/splitjoin"
	"github.com/tidwall/gjson"
)

// ErrInvalidPayload is returned when a payload can't be split by the chosen strategy.
var ErrInvalidPayload = errors.New("invalid payload")

// Lines splits a payload every n lines. Line terminators are kept, so appending the parts gives back the payload.
// The last part holds the remaining lines.
func Lines(n int) splitjoin.Splitter {
	return splitjoin.SplitterFunc(func(_ context.Context, msg *splitjoin.Message) (splitjoin.Sequence, error) {
		if n <= 0 {
			return nil, fmt.Errorf("%w: lines per part must be positive, got %d", splitjoin.ErrInvalidConfig, n)
		}
		return &lineSequence{
			parent: msg,
			reader: bufio.NewReader(bytes.NewReader(msg.Payload)),
			lines:  n,
		}, nil
	})
}

type lineSequence struct {
	parent *splitjoin.Message
	reader *bufio.Reader
	lines  int
}

func (s *lineSequence) Next(ctx context.Context) (*splitjoin.Message, error) {
	if s.reader == nil {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var part bytes.Buffer
	for range s.lines {
		line, err := s.reader.ReadBytes('\n')
		part.Write(line)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if part.Len() == 0 {
		return nil, io.EOF
	}
	return s.parent.Derive(part.Bytes()), nil
}

func (s *lineSequence) Close() error {
	s.reader = nil
	return nil
}

// Bytes splits a payload in chunks of size bytes. The last chunk may be shorter.
func Bytes(size int) splitjoin.Splitter {
	return splitjoin.SplitterFunc(func(_ context.Context, msg *splitjoin.Message) (splitjoin.Sequence, error) {
		if size <= 0 {
			return nil, fmt.Errorf("%w: chunk size must be positive, got %d", splitjoin.ErrInvalidConfig, size)
		}
		return &chunkSequence{parent: msg, rest: msg.Payload, size: size}, nil
	})
}

type chunkSequence struct {
	parent *splitjoin.Message
	rest   []byte
	size   int
}

func (s *chunkSequence) Next(ctx context.Context) (*splitjoin.Message, error) {
	if len(s.rest) == 0 {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := min(s.size, len(s.rest))
	chunk := bytes.Clone(s.rest[:n])
	s.rest = s.rest[n:]
	return s.parent.Derive(chunk), nil
}

func (s *chunkSequence) Close() error {
	s.rest = nil
	return nil
}

// JSONArray splits a JSON payload on the elements of the array found at path, in gjson path syntax. An empty path
// designates the payload itself. Each part holds the raw JSON of one element.
func JSONArray(path string) splitjoin.Splitter {
	return splitjoin.SplitterFunc(func(_ context.Context, msg *splitjoin.Message) (splitjoin.Sequence, error) {
		if !gjson.ValidBytes(msg.Payload) {
			return nil, fmt.Errorf("%w: not a JSON document", ErrInvalidPayload)
		}
		array := gjson.ParseBytes(msg.Payload)
		if path != "" {
			array = gjson.GetBytes(msg.Payload, path)
		}
		if !array.IsArray() {
			return nil, fmt.Errorf("%w: %q is not a JSON array", ErrInvalidPayload, path)
		}
		return &jsonSequence{parent: msg, elements: array.Array()}, nil
	})
}

type jsonSequence struct {
	parent   *splitjoin.Message
	elements []gjson.Result
}

func (s *jsonSequence) Next(context.Context) (*splitjoin.Message, error) {
	if len(s.elements) == 0 {
		return nil, io.EOF
	}
	element := s.elements[0]
	s.elements = s.elements[1:]
	return s.parent.Derive([]byte(element.Raw)), nil
}

func (s *jsonSequence) Close() error {
	s.elements = nil
	return nil
}
