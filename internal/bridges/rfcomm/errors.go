package rfcomm

import "errors"

// Domain errors for the RFCOMM bridge package.
//
// Every transport error is recoverable: the supervisor turns all of them
// into a DISCONNECTED transition followed by the reconnect delay.
var (
	// ErrConnectionFailed is returned when a session cannot be opened.
	ErrConnectionFailed = errors.New("rfcomm: connection failed")

	// ErrReadFailed is returned by ReceiveLoop when a read fails.
	ErrReadFailed = errors.New("rfcomm: read failed")

	// ErrPeerClosed is returned by ReceiveLoop when the device closes the
	// connection (EOF or a zero-byte read).
	ErrPeerClosed = errors.New("rfcomm: connection closed by peer")

	// ErrSendFailed is returned when writing a command to the device fails.
	// The session is closed afterwards.
	ErrSendFailed = errors.New("rfcomm: send failed")

	// ErrUnsupportedPlatform is returned when dialing RFCOMM on a platform
	// without AF_BLUETOOTH sockets.
	ErrUnsupportedPlatform = errors.New("rfcomm: bluetooth sockets not supported on this platform")

	// ErrInvalidAddress is returned for a malformed Bluetooth device address.
	ErrInvalidAddress = errors.New("rfcomm: invalid device address")

	// ErrNotConnected is returned when a command arrives with no live session.
	ErrNotConnected = errors.New("rfcomm: no active session")

	// ErrCommandQueueFull is returned when the command queue has no room.
	ErrCommandQueueFull = errors.New("rfcomm: command queue full")

	// ErrInvalidCommand is returned for a command payload that is not valid UTF-8.
	ErrInvalidCommand = errors.New("rfcomm: invalid command payload")
)
