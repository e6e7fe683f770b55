// Package sse decodes text/event-stream bodies into JSON frames.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"

	ierrors "github.com/lspecian/intellirouter-go/src/errors"
	"github.com/lspecian/intellirouter-go/src/json"
	"github.com/lspecian/intellirouter-go/src/transports"
)

// DoneSentinel is the data payload the service sends to end a stream.
const DoneSentinel = "[DONE]"

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Type string
	Data []byte
}

// Decoder splits an event stream into events. Multiple data lines of one
// event are joined with a newline; comment lines are skipped.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event carrying data, or io.EOF.
func (d *Decoder) Next() (Event, error) {
	var (
		ev       Event
		data     [][]byte
		haveData bool
	)
	flush := func() Event {
		ev.Data = bytes.Join(data, []byte("\n"))
		return ev
	}
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			if haveData {
				return flush(), nil
			}
			return Event{}, err
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if haveData {
				return flush(), nil
			}
			ev = Event{}
			if err != nil {
				return Event{}, err
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch string(field) {
		case "data":
			data = append(data, append([]byte(nil), value...))
			haveData = true
		case "id":
			ev.ID = string(value)
		case "event":
			ev.Type = string(value)
		}

		if err != nil {
			if haveData {
				return flush(), nil
			}
			return Event{}, err
		}
	}
}

func splitField(line []byte) (field, value []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return line, nil
	}
	field, value = line[:i], line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}

// Stream adapts an event-stream body into a transports.StreamResult. Each
// event's data must be a JSON object; the DoneSentinel ends the stream.
type Stream struct {
	body   io.ReadCloser
	dec    *Decoder
	logger func(format string, args ...interface{})

	once     sync.Once
	closeErr error

	mu     sync.Mutex
	closed bool
	done   bool
}

var _ transports.StreamResult = (*Stream)(nil)

func NewStream(body io.ReadCloser, logger func(format string, args ...interface{})) *Stream {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	return &Stream{body: body, dec: NewDecoder(body), logger: logger}
}

func (s *Stream) Next() (map[string]any, error) {
	s.mu.Lock()
	closed, done := s.closed, s.done
	s.mu.Unlock()
	if done {
		return nil, io.EOF
	}
	if closed {
		return nil, transports.ErrStreamClosed
	}

	ev, err := s.dec.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finish("connection closed")
			return nil, io.EOF
		}
		if s.isClosed() {
			return nil, transports.ErrStreamClosed
		}
		return nil, ierrors.NetworkError(err)
	}

	payload := bytes.TrimSpace(ev.Data)
	if string(payload) == DoneSentinel {
		s.finish("done sentinel")
		return nil, io.EOF
	}
	frame, err := json.DecodeObject(payload)
	if err != nil {
		return nil, ierrors.Validationf(err, "invalid JSON in stream: %s", payload)
	}
	return frame, nil
}

func (s *Stream) finish(reason string) {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.logger("stream ended: %s", reason)
	_ = s.Close()
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
