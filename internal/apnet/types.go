// Package apnet abstracts the Wi-Fi station/access-point and IPv4
// configuration operations the provisioning client needs: scanning for
// a target AP, associating with it, and waiting for a usable address.
package apnet

import (
	"fmt"
	"net"
)

// Ip4Config is a resolved IPv4 configuration for an interface.
type Ip4Config struct {
	Address net.IP
	Netmask net.IPMask
	Gateway net.IP
}

// Network returns the IPv4 network the address belongs to.
func (c Ip4Config) Network() *net.IPNet {
	return &net.IPNet{IP: c.Address.Mask(c.Netmask), Mask: c.Netmask}
}

// FirstHost returns the first usable host address in the config's
// network, e.g. the gateway a freshly-provisioned device is expected
// to listen on.
func (c Ip4Config) FirstHost() (net.IP, error) {
	n := c.Network()
	first := make(net.IP, len(n.IP))
	copy(first, n.IP)
	first[len(first)-1]++
	if !n.Contains(first) {
		return nil, fmt.Errorf("network %s has no usable host address", n)
	}
	return first, nil
}

// WifiAuth mirrors the authentication algorithms a scanned network may
// advertise.
type WifiAuth int

const (
	AuthNone WifiAuth = iota
	AuthSharedKey
	AuthWPAPSK
	AuthWPAEnt
	AuthWPA2PSK
	AuthWPA2Ent
)

// WifiCipher mirrors the pairwise cipher a scanned network may advertise.
type WifiCipher int

const (
	CipherNone WifiCipher = iota
	CipherWEP
	CipherTKIP
	CipherAES
)

// WifiNetwork describes a network discovered by a scan, or one to
// associate with.
type WifiNetwork struct {
	SSID     string
	Password string
	Auth     WifiAuth
	Cipher   WifiCipher
	RSSI     int
	AdHoc    bool
}

// Protected reports whether the network requires any kind of
// authentication or encryption to join.
func (n WifiNetwork) Protected() bool {
	return n.Auth != AuthNone || n.Cipher != CipherNone
}

// InterfaceType is the capability set of a network interface.
type InterfaceType int

const (
	TypeWired InterfaceType = iota
	TypeWireless
	TypeWirelessSTA
	TypeWirelessAP
)

// Interface identifies a network interface and what it can be used for.
type Interface struct {
	Name  string
	Title string
	Type  InterfaceType
}

// EnsureWifiSTA returns an error if the interface cannot be driven in
// station mode.
func (i Interface) EnsureWifiSTA() error {
	switch i.Type {
	case TypeWireless, TypeWirelessSTA:
		return nil
	default:
		return fmt.Errorf("interface %s does not support Wi-Fi station mode", i.Name)
	}
}

// EnsureWifiAP returns an error if the interface cannot be driven in
// access-point mode.
func (i Interface) EnsureWifiAP() error {
	switch i.Type {
	case TypeWireless, TypeWirelessAP:
		return nil
	default:
		return fmt.Errorf("interface %s does not support Wi-Fi access-point mode", i.Name)
	}
}
