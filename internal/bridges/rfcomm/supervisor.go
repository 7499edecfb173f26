package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Supervisor defaults.
const (
	// DefaultReconnectDelay is the fixed wait between a disconnect and the
	// next connect attempt.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultCommandQueueSize bounds commands waiting for the forwarder.
	DefaultCommandQueueSize = 64
)

// State is the supervisor's connection state.
type State int32

const (
	// StateDisconnected: no session; waiting out the reconnect delay.
	StateDisconnected State = iota

	// StateConnecting: a connect attempt is in progress.
	StateConnecting

	// StateConnected: a session is live and its receive loop is running.
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SupervisorConfig holds configuration for a Supervisor.
type SupervisorConfig struct {
	// Endpoint is the device to connect to.
	Endpoint Endpoint

	// Dialer opens connections. Default: NewDialer().
	Dialer Dialer

	// ReconnectDelay is waited after every disconnect or failed connect.
	// Default: DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// QueueSize bounds pending commands. Default: DefaultCommandQueueSize.
	QueueSize int

	// Publish receives each structured line in arrival order. Its error
	// is logged and counted; the line is not retried.
	Publish func(line string) error

	// Logger is optional.
	Logger Logger
}

// queuedCommand remembers which session was live when a command was
// accepted, so a command never outlives the connection it was meant for.
type queuedCommand struct {
	line    string
	session *Session
}

// Supervisor keeps a session to the device alive forever.
//
// Run drives the DISCONNECTED → CONNECTING → CONNECTED cycle and RunForwarder
// writes queued commands to the live session. The only state shared with
// the broker side is the atomic session pointer and the bounded queue.
type Supervisor struct {
	cfg    SupervisorConfig
	logger Logger
	stats  *counters

	session  atomic.Pointer[Session]
	state    atomic.Int32
	commands chan queuedCommand

	onStateChange func(State)
	hookMu        sync.RWMutex
}

// NewSupervisor creates a supervisor in StateDisconnected.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Dialer == nil {
		cfg.Dialer = NewDialer()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultCommandQueueSize
	}

	return &Supervisor{
		cfg:      cfg,
		logger:   orNop(cfg.Logger),
		stats:    &counters{},
		commands: make(chan queuedCommand, cfg.QueueSize),
	}
}

// Run connects immediately and reconnects after every session loss,
// waiting ReconnectDelay each time. It only returns when ctx is cancelled,
// after closing the live session; the return value is then nil.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		"endpoint", s.cfg.Endpoint.String(),
		"reconnect_delay", s.cfg.ReconnectDelay)

	for {
		s.runSession(ctx)

		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}

		s.logger.Info("reconnecting after delay", "delay", s.cfg.ReconnectDelay)
		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("supervisor stopped")
			return nil
		case <-timer.C:
		}
	}
}

// runSession performs one connect attempt and, on success, runs the
// receive loop until the session dies. It leaves the state DISCONNECTED.
func (s *Supervisor) runSession(ctx context.Context) {
	defer s.setState(StateDisconnected)

	if ctx.Err() != nil {
		return
	}

	// The previous session is gone before a new one can appear.
	s.session.Store(nil)
	s.setState(StateConnecting)
	s.stats.connectAttempts.Add(1)

	sess, err := OpenSession(ctx, s.cfg.Dialer, s.cfg.Endpoint, s.logger)
	if err != nil {
		s.stats.connectFailures.Add(1)
		if ctx.Err() == nil {
			s.logger.Warn("device connect failed",
				"endpoint", s.cfg.Endpoint.String(),
				"error", err)
		}
		return
	}
	sess.stats = s.stats

	// Shutdown closes the session, which unblocks the read below.
	stop := context.AfterFunc(ctx, func() {
		sess.Close() //nolint:errcheck // shutdown path
	})
	defer stop()

	s.session.Store(sess)
	s.stats.sessionsOpened.Add(1)
	s.setState(StateConnected)
	s.logger.Info("device connected",
		"endpoint", s.cfg.Endpoint.String(),
		"session_id", sess.ID())

	err = sess.ReceiveLoop(s.publish)

	s.session.CompareAndSwap(sess, nil)
	sess.Close() //nolint:errcheck // connection already failed

	switch {
	case ctx.Err() != nil:
		s.logger.Info("device session closed for shutdown", "session_id", sess.ID())
	case errors.Is(err, ErrPeerClosed):
		s.logger.Warn("device closed connection", "session_id", sess.ID())
	default:
		s.logger.Warn("device session failed",
			"session_id", sess.ID(),
			"error", err)
	}
}

// publish hands one structured line to the broker.
func (s *Supervisor) publish(line string) {
	if s.cfg.Publish == nil {
		return
	}
	if err := s.cfg.Publish(line); err != nil {
		s.stats.publishErrors.Add(1)
		s.logger.Warn("publish failed", "error", err)
		return
	}
	s.stats.structuredForwarded.Add(1)
}

// Submit accepts a command payload from the broker. It never blocks.
//
// The command is dropped, and an error returned, when the payload is not
// valid UTF-8 (ErrInvalidCommand), when no session is live
// (ErrNotConnected) or when the queue is full (ErrCommandQueueFull).
func (s *Supervisor) Submit(payload []byte) error {
	if !utf8.Valid(payload) {
		s.stats.commandsDropped.Add(1)
		return ErrInvalidCommand
	}

	sess := s.session.Load()
	if sess == nil {
		s.stats.commandsDropped.Add(1)
		return ErrNotConnected
	}

	select {
	case s.commands <- queuedCommand{line: string(payload), session: sess}:
		return nil
	default:
		s.stats.commandsDropped.Add(1)
		return ErrCommandQueueFull
	}
}

// RunForwarder writes queued commands to the device in arrival order until
// ctx is cancelled. It always returns nil.
func (s *Supervisor) RunForwarder(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			s.forward(cmd)
		}
	}
}

func (s *Supervisor) forward(cmd queuedCommand) {
	sess := s.session.Load()
	if sess == nil || sess != cmd.session {
		s.stats.commandsDropped.Add(1)
		s.logger.Warn("command dropped", "reason", "session ended before send")
		return
	}

	if err := sess.Send(cmd.line); err != nil {
		s.stats.commandsDropped.Add(1)
		s.logger.Warn("command dropped",
			"session_id", sess.ID(),
			"error", err)
		return
	}

	s.logger.Debug("command sent", "session_id", sess.ID(), "bytes", len(cmd.line))
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Endpoint returns the device endpoint.
func (s *Supervisor) Endpoint() Endpoint {
	return s.cfg.Endpoint
}

// IsConnected reports whether a session is live.
func (s *Supervisor) IsConnected() bool {
	return s.session.Load() != nil
}

// Stats returns a snapshot of the counters.
func (s *Supervisor) Stats() Stats {
	st := s.stats.snapshot()
	st.Connected = s.IsConnected()
	return st
}

// OnStateChange registers fn to be called after each state transition.
// fn runs on the supervisor goroutine and must not block.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.hookMu.Lock()
	s.onStateChange = fn
	s.hookMu.Unlock()
}

func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}

	s.logger.Debug("state changed", "from", prev.String(), "to", next.String())

	s.hookMu.RLock()
	fn := s.onStateChange
	s.hookMu.RUnlock()
	if fn != nil {
		fn(next)
	}
}
