package chains

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/lspecian/intellirouter-go/src/transports"
)

// EventStream is the lazy, single-consumer sequence of events of one streamed
// run. Next returns io.EOF when the server ends the stream. The first error
// ends the sequence: the connection is closed and every later call to Next
// returns that error again.
type EventStream struct {
	sr  transports.StreamResult
	err error
}

func newEventStream(sr transports.StreamResult) *EventStream {
	return &EventStream{sr: sr}
}

// Next blocks until the next event arrives.
func (s *EventStream) Next() (ChainExecutionEvent, error) {
	if s.err != nil {
		return ChainExecutionEvent{}, s.err
	}
	frame, err := s.sr.Next()
	if err != nil {
		return ChainExecutionEvent{}, s.fail(err)
	}
	ev, err := ParseChainExecutionEvent(frame)
	if err != nil {
		return ChainExecutionEvent{}, s.fail(err)
	}
	return ev, nil
}

func (s *EventStream) fail(err error) error {
	s.err = err
	_ = s.sr.Close()
	return err
}

// Close abandons the stream and closes the connection. Later calls to Next
// return transports.ErrStreamClosed.
func (s *EventStream) Close() error {
	if s.err == nil {
		s.err = transports.ErrStreamClosed
	}
	return s.sr.Close()
}

// All iterates the remaining events. A failure is yielded once as the final
// pair; a clean end of stream yields nothing more. Breaking out of the loop
// closes the stream.
func (s *EventStream) All() iter.Seq2[ChainExecutionEvent, error] {
	return func(yield func(ChainExecutionEvent, error) bool) {
		defer s.Close()
		for {
			ev, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(ChainExecutionEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Collect drains the stream. On failure it returns the events received
// before the failing point together with the error.
func (s *EventStream) Collect() ([]ChainExecutionEvent, error) {
	var events []ChainExecutionEvent
	for ev, err := range s.All() {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// AsyncEventStream is the non-blocking counterpart of EventStream. Frames are
// produced by the transport; decoding happens in Next on the caller's
// goroutine. Close, or cancelling the context given to StreamAsync, closes the
// connection.
type AsyncEventStream struct {
	ctx    context.Context
	frames <-chan transports.Frame
	cancel context.CancelFunc
	err    error
}

// newAsyncEventStream wraps frames produced under ctx; cancel must cancel ctx.
func newAsyncEventStream(ctx context.Context, frames <-chan transports.Frame, cancel context.CancelFunc) *AsyncEventStream {
	return &AsyncEventStream{ctx: ctx, frames: frames, cancel: cancel}
}

func failedAsyncEventStream(err error) *AsyncEventStream {
	return &AsyncEventStream{cancel: func() {}, err: err}
}

// Next waits for the next event or for ctx to be done. A ctx error does not
// end the stream; the caller may call Next again. Once the context given to
// StreamAsync is done the stream fails with that context's error, so a run
// cut short is never reported as io.EOF.
func (s *AsyncEventStream) Next(ctx context.Context) (ChainExecutionEvent, error) {
	if s.err != nil {
		return ChainExecutionEvent{}, s.err
	}
	if err := s.ctx.Err(); err != nil {
		return ChainExecutionEvent{}, s.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return ChainExecutionEvent{}, err
	}
	select {
	case <-ctx.Done():
		return ChainExecutionEvent{}, ctx.Err()
	case <-s.ctx.Done():
		return ChainExecutionEvent{}, s.fail(s.ctx.Err())
	case f, ok := <-s.frames:
		if !ok {
			if err := s.ctx.Err(); err != nil {
				return ChainExecutionEvent{}, s.fail(err)
			}
			return ChainExecutionEvent{}, s.fail(io.EOF)
		}
		if f.Err != nil {
			return ChainExecutionEvent{}, s.fail(f.Err)
		}
		ev, err := ParseChainExecutionEvent(f.Data)
		if err != nil {
			return ChainExecutionEvent{}, s.fail(err)
		}
		return ev, nil
	}
}

func (s *AsyncEventStream) fail(err error) error {
	s.err = err
	s.cancel()
	return err
}

// Close abandons the stream and closes the connection. Later calls to Next
// return transports.ErrStreamClosed.
func (s *AsyncEventStream) Close() error {
	if s.err == nil {
		s.err = transports.ErrStreamClosed
	}
	s.cancel()
	return nil
}

// All iterates the remaining events, waiting on ctx between them. Breaking
// out of the loop closes the stream.
func (s *AsyncEventStream) All(ctx context.Context) iter.Seq2[ChainExecutionEvent, error] {
	return func(yield func(ChainExecutionEvent, error) bool) {
		defer s.Close()
		for {
			ev, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(ChainExecutionEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
