//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// connectPollInterval is how often a pending connect checks for cancellation.
const connectPollInterval = 100 * time.Millisecond

// dialRFCOMM opens an RFCOMM stream socket to ep.
//
// The socket is non-blocking from the start: connect completes via poll so
// ctx cancellation and the timeout are honoured, and the descriptor is then
// handed to os.NewFile, which registers it with the runtime poller. Close on
// the returned file unblocks a concurrent Read.
func dialRFCOMM(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error) {
	addr, err := parseBDAddr(ep.Address)
	if err != nil {
		return nil, err
	}
	if ep.Channel < 1 || ep.Channel > maxChannel {
		return nil, fmt.Errorf("%w: channel %d out of range", ErrInvalidAddress, ep.Channel)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	// #nosec G115 -- channel range checked above
	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: uint8(ep.Channel)}
	if err := connectNonblock(ctx, fd, sa, timeout); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "rfcomm:"+ep.String())
	if f == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: invalid descriptor %d", fd)
	}
	return f, nil
}

// connectNonblock starts a connect on a non-blocking socket and waits for it
// to complete, fail, time out or be cancelled.
func connectNonblock(ctx context.Context, fd int, sa unix.Sockaddr, timeout time.Duration) error {
	err := unix.Connect(fd, sa)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EAGAIN):
	default:
		return fmt.Errorf("rfcomm connect: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("rfcomm connect: timeout after %v", timeout)
		}

		wait := min(remaining, connectPollInterval)
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}} // #nosec G115 -- fd from socket(2)
		n, err := unix.Poll(fds, int(wait.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("rfcomm poll: %w", err)
		}
		if n == 0 {
			continue
		}

		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("rfcomm getsockopt: %w", err)
		}
		if soErr != 0 {
			return fmt.Errorf("rfcomm connect: %w", unix.Errno(soErr)) // #nosec G115 -- errno value
		}
		return nil
	}
}
