package rfcomm

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"
)

const testDelay = 50 * time.Millisecond

// startSupervisor runs Run and RunForwarder until the test ends.
func startSupervisor(t *testing.T, cfg SupervisorConfig) (*Supervisor, context.CancelFunc, <-chan error) {
	t.Helper()
	s := NewSupervisor(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- s.Run(ctx)
		close(stopped)
	}()
	go s.RunForwarder(ctx) //nolint:errcheck // always nil

	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return s, cancel, done
}

func TestSupervisor_ConnectsImmediately(t *testing.T) {
	dialer := newMockDialer(0)
	start := time.Now()

	s, _, _ := startSupervisor(t, SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: time.Second,
	})
	dialer.nextDevice(t)

	waitFor(t, time.Second, "connected", func() bool { return s.State() == StateConnected })
	if elapsed := dialer.attemptTimes()[0].Sub(start); elapsed > 500*time.Millisecond {
		t.Errorf("first attempt after %v, want immediate", elapsed)
	}
	if !s.IsConnected() {
		t.Error("IsConnected() = false while connected")
	}
}

func TestSupervisor_ReconnectsOnceAfterPeerClose(t *testing.T) {
	dialer := newMockDialer(0)

	s, _, _ := startSupervisor(t, SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: testDelay,
	})

	first := dialer.nextDevice(t)
	waitFor(t, time.Second, "connected", func() bool { return s.State() == StateConnected })

	closedAt := time.Now()
	first.Close()

	dialer.nextDevice(t)
	attempts := dialer.attemptTimes()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want exactly 2", len(attempts))
	}
	if gap := attempts[1].Sub(closedAt); gap < testDelay {
		t.Errorf("reconnect after %v, want at least %v", gap, testDelay)
	}

	waitFor(t, time.Second, "reconnected", func() bool { return s.State() == StateConnected })
	if got := s.Stats().SessionsOpened; got != 2 {
		t.Errorf("SessionsOpened = %d, want 2", got)
	}
}

func TestSupervisor_FixedDelayAfterConnectFailures(t *testing.T) {
	dialer := newMockDialer(2)

	s, _, _ := startSupervisor(t, SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: testDelay,
	})
	dialer.nextDevice(t)

	attempts := dialer.attemptTimes()
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i].Sub(attempts[i-1]); gap < testDelay {
			t.Errorf("gap before attempt %d = %v, want at least %v", i+1, gap, testDelay)
		}
	}

	stats := s.Stats()
	if stats.ConnectAttempts != 3 || stats.ConnectFailures != 2 {
		t.Errorf("ConnectAttempts/Failures = %d/%d, want 3/2", stats.ConnectAttempts, stats.ConnectFailures)
	}
}

func TestSupervisor_FreshDecoderPerSession(t *testing.T) {
	dialer := newMockDialer(0)
	rec := &lineRecorder{}

	startSupervisor(t, SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: testDelay,
		Publish:        rec.publish,
	})

	first := dialer.nextDevice(t)
	if _, err := first.Write([]byte(`{"partial`)); err != nil {
		t.Fatalf("device write: %v", err)
	}
	first.Close()

	second := dialer.nextDevice(t)
	if _, err := second.Write([]byte("\":1}\n{\"t\":2}\n")); err != nil {
		t.Fatalf("device write: %v", err)
	}

	waitFor(t, time.Second, "published line", func() bool { return len(rec.get()) > 0 })
	if got := rec.get(); !reflect.DeepEqual(got, []string{`{"t":2}`}) {
		t.Errorf("published = %q, want only {\"t\":2}", got)
	}
}

func TestSupervisor_PublishesInOrder(t *testing.T) {
	dialer := newMockDialer(0)
	rec := &lineRecorder{}

	s, _, _ := startSupervisor(t, SupervisorConfig{
		Endpoint: testEndpoint,
		Dialer:   dialer,
		Publish:  rec.publish,
	})

	device := dialer.nextDevice(t)
	for _, chunk := range []string{`{"t":`, "1}\nhel", "lo\n{\"n\":2}\n"} {
		if _, err := device.Write([]byte(chunk)); err != nil {
			t.Fatalf("device write: %v", err)
		}
	}

	waitFor(t, time.Second, "two lines", func() bool { return len(rec.get()) == 2 })
	if got := rec.get(); !reflect.DeepEqual(got, []string{`{"t":1}`, `{"n":2}`}) {
		t.Errorf("published = %q", got)
	}

	waitFor(t, time.Second, "stats", func() bool { return s.Stats().Diagnostics == 1 })
	if got := s.Stats().StructuredForwarded; got != 2 {
		t.Errorf("StructuredForwarded = %d, want 2", got)
	}
}

func TestSupervisor_PublishErrorCounted(t *testing.T) {
	dialer := newMockDialer(0)

	s, _, _ := startSupervisor(t, SupervisorConfig{
		Endpoint: testEndpoint,
		Dialer:   dialer,
		Publish:  func(string) error { return errors.New("broker gone") },
	})

	device := dialer.nextDevice(t)
	if _, err := device.Write([]byte("{\"t\":1}\n")); err != nil {
		t.Fatalf("device write: %v", err)
	}

	waitFor(t, time.Second, "publish error", func() bool { return s.Stats().PublishErrors == 1 })
	if s.State() != StateConnected {
		t.Errorf("State() = %v, publish errors must not drop the session", s.State())
	}
}

func TestSupervisor_ForwardsCommand(t *testing.T) {
	dialer := newMockDialer(0)

	s, _, _ := startSupervisor(t, SupervisorConfig{
		Endpoint: testEndpoint,
		Dialer:   dialer,
	})
	device := dialer.nextDevice(t)
	waitFor(t, time.Second, "connected", s.IsConnected)

	if err := s.Submit([]byte("PING")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := readLine(t, device); got != "PING\n" {
		t.Errorf("device received %q, want PING\\n", got)
	}

	if err := s.Submit([]byte("SET:2\n")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := readLine(t, device); got != "SET:2\n" {
		t.Errorf("device received %q, want SET:2\\n", got)
	}

	waitFor(t, time.Second, "sent count", func() bool { return s.Stats().CommandsSent == 2 })
}

func TestSupervisor_SubmitWithoutSession(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Endpoint: testEndpoint, Dialer: newMockDialer(100)})

	err := s.Submit([]byte("SET:1"))

	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Submit() error = %v, want ErrNotConnected", err)
	}
	if got := s.Stats().CommandsDropped; got != 1 {
		t.Errorf("CommandsDropped = %d, want 1", got)
	}
}

func TestSupervisor_SubmitInvalidUTF8(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Endpoint: testEndpoint})

	if err := s.Submit([]byte{'S', 0xff, 0xfe}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Submit() error = %v, want ErrInvalidCommand", err)
	}
}

func TestSupervisor_QueueFull(t *testing.T) {
	dialer := newMockDialer(0)
	s := NewSupervisor(SupervisorConfig{
		Endpoint:  testEndpoint,
		Dialer:    dialer,
		QueueSize: 1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run only the connection loop: nothing drains the queue.
	go s.Run(ctx) //nolint:errcheck // always nil
	dialer.nextDevice(t)
	waitFor(t, time.Second, "connected", s.IsConnected)

	if err := s.Submit([]byte("A")); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := s.Submit([]byte("B")); !errors.Is(err, ErrCommandQueueFull) {
		t.Errorf("second Submit() error = %v, want ErrCommandQueueFull", err)
	}
}

func TestSupervisor_CommandNotCarriedAcrossSessions(t *testing.T) {
	dialer := newMockDialer(0)
	s := NewSupervisor(SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: testDelay,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx) //nolint:errcheck // always nil
	first := dialer.nextDevice(t)
	waitFor(t, time.Second, "connected", s.IsConnected)

	// Queued for the first session, which then dies before the forwarder runs.
	if err := s.Submit([]byte("STALE")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	first.Close()
	dialer.nextDevice(t)
	waitFor(t, time.Second, "reconnected", func() bool { return s.Stats().SessionsOpened == 2 && s.IsConnected() })

	go s.RunForwarder(ctx) //nolint:errcheck // always nil

	waitFor(t, time.Second, "stale command dropped", func() bool { return s.Stats().CommandsDropped == 1 })
	if got := s.Stats().CommandsSent; got != 0 {
		t.Errorf("CommandsSent = %d, want 0", got)
	}
}

func TestSupervisor_RunReturnsOnCancel(t *testing.T) {
	dialer := newMockDialer(0)
	s, cancel, done := startSupervisor(t, SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: time.Hour,
	})
	device := dialer.nextDevice(t)
	waitFor(t, time.Second, "connected", s.IsConnected)

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The session was closed, so the device side sees the connection end.
	// net.Pipe refuses deadlines once either end is closed, so read in a
	// goroutine and bound the wait instead.
	readErr := make(chan error, 1)
	go func() {
		_, err := device.Read(make([]byte, 1))
		readErr <- err
	}()
	select {
	case err := <-readErr:
		if !errors.Is(err, io.EOF) {
			t.Errorf("device read error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("device read still blocked after shutdown")
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after shutdown")
	}
}

func TestSupervisor_RunReturnsDuringDelay(t *testing.T) {
	_, cancel, done := startSupervisor(t, SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         newMockDialer(100),
		ReconnectDelay: time.Hour,
	})

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return while waiting out the delay")
	}
}

func TestSupervisor_StateChangeHook(t *testing.T) {
	dialer := newMockDialer(0)
	s := NewSupervisor(SupervisorConfig{
		Endpoint:       testEndpoint,
		Dialer:         dialer,
		ReconnectDelay: time.Hour,
	})

	var mu sync.Mutex
	var states []State
	s.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	device := dialer.nextDevice(t)
	waitFor(t, time.Second, "connected", s.IsConnected)
	device.Close()
	waitFor(t, time.Second, "disconnected", func() bool { return s.State() == StateDisconnected })
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("state transitions = %v, want %v", states, want)
	}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Endpoint: testEndpoint})

	if s.cfg.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("ReconnectDelay = %v, want %v", s.cfg.ReconnectDelay, DefaultReconnectDelay)
	}
	if cap(s.commands) != DefaultCommandQueueSize {
		t.Errorf("queue capacity = %d, want %d", cap(s.commands), DefaultCommandQueueSize)
	}
	if s.cfg.Dialer == nil {
		t.Error("Dialer not defaulted")
	}
	if s.State() != StateDisconnected {
		t.Errorf("initial State() = %v, want disconnected", s.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{State(9), "state(9)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
