package biosignal

import (
	"context"
	"errors"
	"strings"

	"github.com/yoockh/thinkprobe/internal/utils"
)

var (
	// ErrPairingCancelled is the explicit signal a transport returns when the
	// user dismissed the pairing prompt.
	ErrPairingCancelled = errors.New("biosignal: pairing cancelled by user")
	ErrDeviceNotFound   = errors.New("biosignal: device not found")
	ErrLinkDropped      = errors.New("biosignal: link dropped")
)

// Transport discovers and pairs with a headband over a short-range link.
type Transport interface {
	Pair(ctx context.Context) (Link, error)
}

// Link is a paired device. Packets is closed when the link ends; Err then
// reports why (nil after a local Close).
type Link interface {
	DeviceName() string
	Packets() <-chan []byte
	Err() error
	Close() error
}

// IsUserCancelled reports whether err stems from a deliberately dismissed
// pairing prompt rather than a missing device.
func IsUserCancelled(err error) bool {
	return errors.Is(err, ErrPairingCancelled)
}

// classifyPairError maps a transport failure onto the device error classes.
func classifyPairError(op string, err error) error {
	switch {
	case errors.Is(err, ErrPairingCancelled), errors.Is(err, context.Canceled):
		return utils.E(utils.CodeDeviceNotFound, op, "pairing cancelled", errors.Join(ErrPairingCancelled, err))
	case errors.Is(err, ErrLinkDropped):
		return utils.E(utils.CodeConnectionLost, op, "link dropped while pairing", err)
	case looksCancelled(err):
		// fallback for transports that only report a generic chooser error
		return utils.E(utils.CodeDeviceNotFound, op, "pairing cancelled", errors.Join(ErrPairingCancelled, err))
	default:
		return utils.E(utils.CodeDeviceNotFound, op, "no headband found", err)
	}
}

// looksCancelled matches the chooser-dismissed error shape of browser
// bluetooth bridges: a NotFoundError whose message mentions cancellation.
func looksCancelled(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "notfounderror") && strings.Contains(msg, "cancel")
}
