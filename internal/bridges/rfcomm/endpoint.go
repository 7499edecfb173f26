package rfcomm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/btbridge/internal/infrastructure/config"
)

// Transport networks.
const (
	// NetworkRFCOMM dials a Bluetooth RFCOMM channel.
	NetworkRFCOMM = "rfcomm"

	// NetworkTCP dials a serial-over-TCP endpoint (simulators, development).
	NetworkTCP = "tcp"
)

const (
	// bdaddrLen is the number of octets in a Bluetooth device address.
	bdaddrLen = 6

	// maxChannel is the highest RFCOMM server channel.
	maxChannel = 30
)

// Endpoint identifies the device. It is fixed for the process lifetime.
type Endpoint struct {
	// Network is NetworkRFCOMM or NetworkTCP.
	Network string

	// Address is a Bluetooth MAC ("10:97:BD:31:E2:5A") for rfcomm,
	// or "host:port" for tcp.
	Address string

	// Channel is the RFCOMM channel. Unused for tcp.
	Channel int
}

// NewEndpoint builds an Endpoint from device configuration.
// An rfcomm address is checked here so a typo fails at startup instead of
// producing connect failures forever.
func NewEndpoint(cfg config.DeviceConfig) (Endpoint, error) {
	ep := Endpoint{
		Network: cfg.Transport,
		Address: cfg.Address,
		Channel: cfg.Channel,
	}
	if ep.Network == "" {
		ep.Network = NetworkRFCOMM
	}

	switch ep.Network {
	case NetworkRFCOMM:
		if _, err := parseBDAddr(ep.Address); err != nil {
			return Endpoint{}, err
		}
		if ep.Channel < 1 || ep.Channel > maxChannel {
			return Endpoint{}, fmt.Errorf("%w: channel %d out of range 1-%d", ErrInvalidAddress, ep.Channel, maxChannel)
		}
	case NetworkTCP:
		ep.Channel = 0
	default:
		return Endpoint{}, fmt.Errorf("%w: unknown transport %q", ErrInvalidAddress, ep.Network)
	}

	return ep, nil
}

// String formats the endpoint for logs ("10:97:BD:31:E2:5A/1" or "tcp://host:port").
func (e Endpoint) String() string {
	if e.Network == NetworkTCP {
		return "tcp://" + e.Address
	}
	return e.Address + "/" + strconv.Itoa(e.Channel)
}

// parseBDAddr parses "AA:BB:CC:DD:EE:FF" into the little-endian byte order
// the kernel's bdaddr_t uses (last octet first).
func parseBDAddr(s string) ([bdaddrLen]byte, error) {
	var addr [bdaddrLen]byte

	parts := strings.Split(s, ":")
	if len(parts) != bdaddrLen {
		return addr, fmt.Errorf("%w: %q: want 6 colon-separated octets", ErrInvalidAddress, s)
	}

	for i, part := range parts {
		if len(part) != 2 {
			return addr, fmt.Errorf("%w: %q: octet %q", ErrInvalidAddress, s, part)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("%w: %q: octet %q", ErrInvalidAddress, s, part)
		}
		addr[bdaddrLen-1-i] = byte(v)
	}

	return addr, nil
}
