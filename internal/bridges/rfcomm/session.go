package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// readBufferSize is the maximum number of bytes requested per read.
	readBufferSize = 1024

	// defaultWriteTimeout bounds a single command write.
	defaultWriteTimeout = 5 * time.Second
)

// writeDeadliner is implemented by connections that support write deadlines
// (net.Conn, pollable *os.File).
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Session is one live connection to the device.
//
// It owns exactly one connection and one FrameDecoder. Once any read or
// write fails the session is dead; a new Session is opened for the next
// connection and nothing carries over.
//
// Thread Safety:
//   - ReceiveLoop must be called from one goroutine.
//   - Send and Close are safe to call concurrently with ReceiveLoop.
//   - Concurrent Sends are serialised; commands never interleave on the wire.
type Session struct {
	id       string
	endpoint Endpoint
	conn     io.ReadWriteCloser
	decoder  *FrameDecoder
	stats    *counters
	logger   Logger
	openedAt time.Time

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// OpenSession dials ep and returns a ready session.
// Any failure is wrapped in ErrConnectionFailed; there is no retry here.
func OpenSession(ctx context.Context, dialer Dialer, ep Endpoint, logger Logger) (*Session, error) {
	conn, err := dialer.Dial(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, ep, err)
	}

	return newSession(conn, ep, logger), nil
}

func newSession(conn io.ReadWriteCloser, ep Endpoint, logger Logger) *Session {
	return &Session{
		id:           uuid.NewString(),
		endpoint:     ep,
		conn:         conn,
		decoder:      NewFrameDecoder(),
		stats:        &counters{},
		logger:       orNop(logger),
		openedAt:     time.Now(),
		writeTimeout: defaultWriteTimeout,
	}
}

// ID returns the session's unique identifier, used to correlate log lines.
func (s *Session) ID() string {
	return s.id
}

// Endpoint returns the device endpoint this session is connected to.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// OpenedAt returns when the connection was established.
func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

// Send writes cmd to the device, appending a newline if it has none.
// On failure the session is closed and ErrSendFailed is returned.
func (s *Session) Send(cmd string) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: session closed", ErrSendFailed)
	}

	payload := NormalizeCommand(cmd)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if wd, ok := s.conn.(writeDeadliner); ok {
		//nolint:errcheck // a connection that rejects deadlines still gets the write
		wd.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	if _, err := io.WriteString(s.conn, payload); err != nil {
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.stats.commandsSent.Add(1)
	s.stats.touch()
	return nil
}

// ReceiveLoop reads until the connection fails, passing each structured
// line to onStructured in arrival order and logging diagnostic lines.
//
// It always returns a non-nil error: ErrPeerClosed when the device closes
// the connection, ErrReadFailed (wrapping the cause) otherwise. Closing the
// session from another goroutine ends the loop.
func (s *Session) ReceiveLoop(onStructured func(line string)) error {
	buf := make([]byte, readBufferSize)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, line := range s.decoder.Feed(buf[:n]) {
				s.dispatch(line, onStructured)
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return ErrPeerClosed
		case err != nil:
			return fmt.Errorf("%w: %w", ErrReadFailed, err)
		case n == 0:
			return ErrPeerClosed
		}
	}
}

func (s *Session) dispatch(line string, onStructured func(line string)) {
	s.stats.linesReceived.Add(1)
	s.stats.touch()

	if Classify(line) == KindStructured {
		if onStructured != nil {
			onStructured(line)
		}
		return
	}

	s.stats.diagnostics.Add(1)
	s.logger.Info("device diagnostic", "session_id", s.id, "line", line)
}

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
