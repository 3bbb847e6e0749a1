package apnet

import (
	"context"
	"net"
	"time"
)

// WifiAdapter drives an interface's station and access-point state.
// Implementations are expected to be polled in a loop by the caller
// (e.g. cores/apcfg's connect/wait-for-association logic); methods
// report current state rather than blocking until a target state is
// reached.
type WifiAdapter interface {
	// ScanNetworks returns the networks currently visible to iface.
	ScanNetworks(ctx context.Context, iface Interface) ([]WifiNetwork, error)

	// StartStation begins associating iface with network. It does not
	// wait for association to complete.
	StartStation(ctx context.Context, iface Interface, network WifiNetwork) error

	// StopStation tears down any station association on iface.
	StopStation(ctx context.Context, iface Interface) error

	// StationState returns the network iface is currently associated
	// with, or nil if it is not associated with anything.
	StationState(ctx context.Context, iface Interface) (*WifiNetwork, error)

	// StartAccessPoint brings iface up as an access point broadcasting
	// network.
	StartAccessPoint(ctx context.Context, iface Interface, network WifiNetwork) error

	// StopAccessPoint tears down an access point started on iface.
	StopAccessPoint(ctx context.Context, iface Interface) error
}

// NetworkAdapter resolves IP configuration and reachability for an
// interface, independent of how it got associated.
type NetworkAdapter interface {
	// GetIP4Config returns iface's current IPv4 configuration, or nil
	// if it has none yet (e.g. still waiting on DHCP).
	GetIP4Config(ctx context.Context, iface Interface) (*Ip4Config, error)

	// Ping sends a single echo request to addr and reports the
	// round-trip time. ok is false if no reply was received within
	// the adapter's timeout.
	Ping(ctx context.Context, addr net.IP) (rtt time.Duration, ok bool, err error)
}
