package rfcomm

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// defaultConnectTimeout bounds a single connect attempt.
const defaultConnectTimeout = 10 * time.Second

// Dialer opens the raw connection to the device.
// Implementations do not retry; the supervisor owns the reconnect policy.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (io.ReadWriteCloser, error)
}

// Ensure NetDialer implements Dialer.
var _ Dialer = (*NetDialer)(nil)

// NetDialer dials RFCOMM through the kernel Bluetooth stack and TCP
// through the net package.
type NetDialer struct {
	// Timeout bounds each connect attempt. Default: 10 seconds.
	Timeout time.Duration
}

// NewDialer returns a NetDialer with the default connect timeout.
func NewDialer() *NetDialer {
	return &NetDialer{Timeout: defaultConnectTimeout}
}

// Dial connects to ep. The returned connection is interrupted by Close
// from another goroutine, and supports write deadlines.
func (d *NetDialer) Dial(ctx context.Context, ep Endpoint) (io.ReadWriteCloser, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	switch ep.Network {
	case NetworkRFCOMM, "":
		return dialRFCOMM(ctx, ep, timeout)
	case NetworkTCP:
		nd := net.Dialer{Timeout: timeout}
		return nd.DialContext(ctx, "tcp", ep.Address)
	default:
		return nil, fmt.Errorf("unknown network %q", ep.Network)
	}
}
