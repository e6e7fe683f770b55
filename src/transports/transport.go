// Package transports defines the contract the IntelliRouter clients use to
// reach the service. Implementations own connection handling, authentication,
// status classification and any retry policy; clients treat them as opaque.
package transports

import "context"

// Transport performs blocking round trips and opens event streams.
//
// Request returns the decoded JSON object of the response body, or nil for an
// empty body. Non-2xx responses and network failures are returned as errors
// from the src/errors taxonomy.
//
// Stream opens a server-sent-events response and returns a lazy, forward-only
// StreamResult. A non-2xx initial response is returned as an error before any
// frame is read.
type Transport interface {
	Request(ctx context.Context, method, path string, params map[string]any, body any) (map[string]any, error)
	Stream(ctx context.Context, method, path string, params map[string]any, body any) (StreamResult, error)
}

// Response is the outcome of an asynchronous request.
type Response struct {
	Data map[string]any
	Err  error
}

// Frame is one element of an asynchronous stream. A frame carrying Err is
// always the last one sent on its channel.
type Frame struct {
	Data map[string]any
	Err  error
}

// AsyncTransport is the non-blocking form of Transport. RequestAsync delivers
// exactly one Response and closes the channel. StreamAsync delivers frames in
// server order and closes the channel at end of stream; cancelling ctx closes
// the underlying connection and stops delivery.
type AsyncTransport interface {
	RequestAsync(ctx context.Context, method, path string, params map[string]any, body any) <-chan Response
	StreamAsync(ctx context.Context, method, path string, params map[string]any, body any) <-chan Frame
}
