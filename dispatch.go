package splitjoin

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Sequence is a lazy, single pass list of messages produced by a Splitter.
// Next returns io.EOF once exhausted. Close releases whatever the sequence holds and must be safe to call at any
// point, including before the end.
type Sequence interface {
	Next(ctx context.Context) (*Message, error)
	Close() error
}

// Splitter splits a message into sub-messages.
type Splitter interface {
	Split(ctx context.Context, msg *Message) (Sequence, error)
}

// SplitterFunc adapts a function to a Splitter.
type SplitterFunc func(ctx context.Context, msg *Message) (Sequence, error)

// Split implements Splitter.
func (f SplitterFunc) Split(ctx context.Context, msg *Message) (Sequence, error) { return f(ctx, msg) }

// Aggregator merges processed sub-units back into the original message.
// Sub-units are given in split order, not completion order.
type Aggregator interface {
	Join(ctx context.Context, original *Message, subUnits []*SubUnit) error
}

// AggregatorFunc adapts a function to an Aggregator.
type AggregatorFunc func(ctx context.Context, original *Message, subUnits []*SubUnit) error

// Join implements Aggregator.
func (f AggregatorFunc) Join(ctx context.Context, original *Message, subUnits []*SubUnit) error {
	return f(ctx, original, subUnits)
}

// Dispatch combines a Splitter and an Aggregator since they are linked: message -(Split)-> [sub-units...] -(Join)->
// message.
type Dispatch struct {
	Splitter   Splitter
	Aggregator Aggregator
}

// NewDispatch creates a Dispatch from a splitter and an aggregator.
func NewDispatch(splitter Splitter, aggregator Aggregator) (Dispatch, error) {
	result := Dispatch{Splitter: splitter, Aggregator: aggregator}
	return result, result.Validate()
}

// Validate checks that both the splitter and the aggregator are set.
func (d Dispatch) Validate() error {
	if d.Splitter == nil || d.Aggregator == nil {
		return fmt.Errorf("%w: dispatch needs a splitter and an aggregator (splitter: %T, aggregator: %T)",
			ErrInvalidConfig, d.Splitter, d.Aggregator)
	}
	return nil
}

// sliceSequence iterates over an in-memory list.
type sliceSequence struct {
	msgs []*Message
}

// SliceSequence returns a Sequence over already materialised messages.
func SliceSequence(msgs ...*Message) Sequence {
	return &sliceSequence{msgs: msgs}
}

func (s *sliceSequence) Next(context.Context) (*Message, error) {
	if len(s.msgs) == 0 {
		return nil, io.EOF
	}
	next := s.msgs[0]
	s.msgs = s.msgs[1:]
	return next, nil
}

func (s *sliceSequence) Close() error {
	s.msgs = nil
	return nil
}

// Produce defines a streaming split: it pushes every sub-message of parent into out, stopping early if ctx is done.
type Produce func(ctx context.Context, parent *Message, out chan<- *Message) error

// ChannelSplitter turns a producer into a Splitter. The producer runs in its own goroutine; closing the sequence
// cancels it and waits for it to return.
func ChannelSplitter(produce Produce) Splitter {
	return SplitterFunc(func(ctx context.Context, msg *Message) (Sequence, error) {
		ctx, cancel := context.WithCancel(ctx)
		seq := &channelSequence{
			out:    make(chan *Message),
			cancel: cancel,
		}
		seq.wg.Add(1)
		go func() {
			defer seq.wg.Done()
			defer close(seq.out)
			seq.err = produce(ctx, msg, seq.out)
		}()
		return seq, nil
	})
}

type channelSequence struct {
	out    chan *Message
	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    error
	once   sync.Once
}

func (s *channelSequence) Next(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-s.out:
		if ok {
			return msg, nil
		}
		// the producer is done, err is set before out is closed
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *channelSequence) Close() error {
	s.once.Do(func() {
		s.cancel()
		for range s.out {
			// drain, so that a producer blocked on send can see the cancellation
		}
		s.wg.Wait()
	})
	return nil
}
