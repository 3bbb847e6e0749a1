//go:build linux

package apnet

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vishvananda/netlink"
	probing "github.com/prometheus-community/pro-bing"
)

// Netlinker abstracts the netlink calls LinuxNetworkAdapter needs, so
// tests can swap in a fake rather than touching the host's real
// network stack.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// RealNetlinker is the Netlinker backed by the actual netlink package.
type RealNetlinker struct{}

func (RealNetlinker) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }

func (RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

// DefaultNetlinker is the Netlinker LinuxNetworkAdapter uses unless
// overridden.
var DefaultNetlinker Netlinker = RealNetlinker{}

// PingFunc performs a single ICMP echo and reports its round-trip time.
// Overridable in tests so they don't need CAP_NET_RAW or a live target.
var PingFunc = func(addr string, timeout time.Duration) (time.Duration, bool, error) {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return 0, false, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		return 0, false, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, false, nil
	}
	return stats.AvgRtt, true, nil
}

// LinuxNetworkAdapter implements NetworkAdapter using netlink for
// address lookups and pro-bing for reachability.
type LinuxNetworkAdapter struct {
	nl      Netlinker
	Timeout time.Duration
}

// NewLinuxNetworkAdapter builds a LinuxNetworkAdapter backed by the
// real netlink interface.
func NewLinuxNetworkAdapter() *LinuxNetworkAdapter {
	return &LinuxNetworkAdapter{nl: DefaultNetlinker, Timeout: time.Second}
}

func (a *LinuxNetworkAdapter) GetIP4Config(ctx context.Context, iface Interface) (*Ip4Config, error) {
	link, err := a.nl.LinkByName(iface.Name)
	if err != nil {
		return nil, fmt.Errorf("look up interface %s: %w", iface.Name, err)
	}
	addrs, err := a.nl.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list addresses on %s: %w", iface.Name, err)
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	addr := addrs[0]
	cfg := &Ip4Config{
		Address: addr.IPNet.IP,
		Netmask: addr.IPNet.Mask,
	}
	return cfg, nil
}

func (a *LinuxNetworkAdapter) Ping(ctx context.Context, addr net.IP) (time.Duration, bool, error) {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	return PingFunc(addr.String(), timeout)
}
