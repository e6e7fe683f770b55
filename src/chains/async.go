package chains

import (
	"context"
	"sync"

	"github.com/lspecian/intellirouter-go/src/transports"
)

// Future is the pending result of an asynchronous call. The request is
// already in flight when the Future is returned; Await only waits for it.
type Future[T any] struct {
	resp   <-chan transports.Response
	decode func(map[string]any) (T, error)

	mu    sync.Mutex
	ready chan struct{}
	val   T
	err   error
}

func newFuture[T any](resp <-chan transports.Response, decode func(map[string]any) (T, error)) *Future[T] {
	return &Future[T]{resp: resp, decode: decode, ready: make(chan struct{})}
}

// failedFuture is settled before any request is made.
func failedFuture[T any](err error) *Future[T] {
	f := &Future[T]{ready: make(chan struct{}), err: err}
	close(f.ready)
	return f
}

// Await returns the result once the response has arrived. If ctx is done
// first it returns ctx.Err() and the Future can be awaited again; cancel the
// context passed to the *Async method to abort the request itself.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.ready:
		return f.val, f.err
	default:
	}
	select {
	case <-f.ready:
	case r, ok := <-f.resp:
		if ok {
			f.settle(r)
		} else {
			// Another Await received the response and is settling it.
			select {
			case <-f.ready:
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	return f.val, f.err
}

func (f *Future[T]) settle(r transports.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Err != nil {
		f.err = r.Err
	} else {
		f.val, f.err = f.decode(r.Data)
	}
	close(f.ready)
}
