package transports

import (
	"context"
	"errors"
	"io"
)

type asyncTransport struct {
	t Transport
}

// NewAsync returns the non-blocking form of t. If t already implements
// AsyncTransport it is returned unchanged.
func NewAsync(t Transport) AsyncTransport {
	if a, ok := t.(AsyncTransport); ok {
		return a
	}
	return &asyncTransport{t: t}
}

func (a *asyncTransport) RequestAsync(ctx context.Context, method, path string, params map[string]any, body any) <-chan Response {
	ch := make(chan Response, 1)
	go func() {
		defer close(ch)
		data, err := a.t.Request(ctx, method, path, params, body)
		ch <- Response{Data: data, Err: err}
	}()
	return ch
}

// StreamAsync pumps frames from a blocking stream into an unbuffered channel.
// The stream is closed as soon as ctx is done, even if the pump is blocked
// inside Next.
func (a *asyncTransport) StreamAsync(ctx context.Context, method, path string, params map[string]any, body any) <-chan Frame {
	ch := make(chan Frame)
	go func() {
		defer close(ch)
		send := func(f Frame) bool {
			select {
			case ch <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sr, err := a.t.Stream(ctx, method, path, params, body)
		if err != nil {
			send(Frame{Err: err})
			return
		}
		stop := context.AfterFunc(ctx, func() { _ = sr.Close() })
		defer stop()
		defer sr.Close()

		for {
			data, err := sr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(Frame{Err: err})
				return
			}
			if !send(Frame{Data: data}) {
				return
			}
		}
	}()
	return ch
}
