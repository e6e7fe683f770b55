package transports

import (
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("transports: stream closed")

// StreamResult is a lazy sequence of decoded JSON frames. Next returns io.EOF
// once the stream is exhausted. Close releases the underlying connection and
// is safe to call more than once, including concurrently with Next.
type StreamResult interface {
	Next() (map[string]any, error)
	Close() error
}

// SliceStreamResult serves frames from memory. An optional trailing error is
// returned after the last frame instead of io.EOF.
type SliceStreamResult struct {
	mu      sync.Mutex
	items   []map[string]any
	index   int
	err     error
	closed  bool
	closeFn func() error
}

func NewSliceStreamResult(items []map[string]any, closeFn func() error) *SliceStreamResult {
	return &SliceStreamResult{items: items, closeFn: closeFn}
}

// WithError makes the stream fail with err once its frames are consumed.
func (sr *SliceStreamResult) WithError(err error) *SliceStreamResult {
	sr.err = err
	return sr
}

func (sr *SliceStreamResult) Next() (map[string]any, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.closed {
		return nil, ErrStreamClosed
	}
	if sr.index >= len(sr.items) {
		if sr.err != nil {
			return nil, sr.err
		}
		return nil, io.EOF
	}
	item := sr.items[sr.index]
	sr.index++
	return item, nil
}

func (sr *SliceStreamResult) Close() error {
	sr.mu.Lock()
	if sr.closed {
		sr.mu.Unlock()
		return nil
	}
	sr.closed = true
	sr.mu.Unlock()
	if sr.closeFn != nil {
		return sr.closeFn()
	}
	return nil
}

// Closed reports whether Close has been called.
func (sr *SliceStreamResult) Closed() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.closed
}
