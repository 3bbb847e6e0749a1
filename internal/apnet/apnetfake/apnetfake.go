// Package apnetfake provides deterministic in-memory implementations
// of apnet.WifiAdapter and apnet.NetworkAdapter for tests that drive
// the scan/associate/wait-for-ip state machine without a real radio.
package apnetfake

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"cloudcutter/internal/apnet"
)

// Wifi is a scriptable apnet.WifiAdapter.
type Wifi struct {
	mu sync.Mutex

	Networks []apnet.WifiNetwork
	station  *apnet.WifiNetwork

	// ConnectErr, if set, is returned by StartStation instead of
	// associating.
	ConnectErr error
}

func NewWifi(networks ...apnet.WifiNetwork) *Wifi {
	return &Wifi{Networks: networks}
}

func (w *Wifi) ScanNetworks(ctx context.Context, iface apnet.Interface) ([]apnet.WifiNetwork, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]apnet.WifiNetwork, len(w.Networks))
	copy(out, w.Networks)
	return out, nil
}

func (w *Wifi) StartStation(ctx context.Context, iface apnet.Interface, network apnet.WifiNetwork) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ConnectErr != nil {
		return w.ConnectErr
	}
	n := network
	w.station = &n
	return nil
}

func (w *Wifi) StopStation(ctx context.Context, iface apnet.Interface) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.station = nil
	return nil
}

func (w *Wifi) StationState(ctx context.Context, iface apnet.Interface) (*apnet.WifiNetwork, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.station == nil {
		return nil, nil
	}
	n := *w.station
	return &n, nil
}

func (w *Wifi) StartAccessPoint(ctx context.Context, iface apnet.Interface, network apnet.WifiNetwork) error {
	return fmt.Errorf("apnetfake: access point mode not supported")
}

func (w *Wifi) StopAccessPoint(ctx context.Context, iface apnet.Interface) error {
	return fmt.Errorf("apnetfake: access point mode not supported")
}

// Disconnect simulates the device dropping the link on its own, e.g.
// after a reboot triggered by a provisioning frame.
func (w *Wifi) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.station = nil
}

// Network is a scriptable apnet.NetworkAdapter.
type Network struct {
	mu sync.Mutex

	Config  *apnet.Ip4Config
	PingRTT time.Duration
	PingOK  bool
}

func NewNetwork() *Network { return &Network{} }

func (n *Network) GetIP4Config(ctx context.Context, iface apnet.Interface) (*apnet.Ip4Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Config, nil
}

// SetIP4Config installs the config a subsequent GetIP4Config call
// returns, simulating a DHCP lease arriving.
func (n *Network) SetIP4Config(cfg *apnet.Ip4Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Config = cfg
}

func (n *Network) Ping(ctx context.Context, addr net.IP) (time.Duration, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.PingRTT, n.PingOK, nil
}

// SetReachable toggles whether Ping reports success, and with what RTT.
func (n *Network) SetReachable(ok bool, rtt time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PingOK = ok
	n.PingRTT = rtt
}
