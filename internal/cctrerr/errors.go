// Package cctrerr defines the error taxonomy shared by every impersonation
// and provisioning component, so callers can branch on failure kind with
// errors.Is rather than parsing messages.
package cctrerr

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) to add context.
var (
	// ErrConfiguration means a component was started without required
	// configuration. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocolParse means a malformed DHCP/DNS/MQTT/ApCfg frame was
	// received. The offending packet is dropped and the component continues.
	ErrProtocolParse = errors.New("protocol parse error")

	// ErrDeviceNotFound means no device matched the given uuid/psk_id.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUnsupported means encryption type 0 or an unsupported PSK protocol
	// version was encountered.
	ErrUnsupported = errors.New("unsupported")

	// ErrNoAddressesAvailable means the DHCP pool is exhausted.
	ErrNoAddressesAvailable = errors.New("no addresses available")

	// ErrHandlerFailure means a registered handler returned an error or
	// panicked while servicing a request.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrTransportIO means a socket/TLS operation on a long-lived listener
	// failed.
	ErrTransportIO = errors.New("transport I/O error")

	// ErrTimeout means an operation (e.g. a DNS upstream lookup) exceeded
	// its deadline.
	ErrTimeout = errors.New("timeout")
)

// Is reports whether err (or any error it wraps) matches target.
// Provided for symmetry with the errors package; callers may just use
// errors.Is directly.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
