//go:build !linux

package rfcomm

import (
	"context"
	"io"
	"time"
)

func dialRFCOMM(_ context.Context, _ Endpoint, _ time.Duration) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupportedPlatform
}
