//go:build linux

package apnet

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// CommandExecutor abstracts running an external command, so
// LinuxWifiAdapter's tests don't need a real wireless interface or
// root.
type CommandExecutor interface {
	RunCommand(name string, arg ...string) (string, error)
}

// RealCommandExecutor runs commands with os/exec.
type RealCommandExecutor struct{}

func (RealCommandExecutor) RunCommand(name string, arg ...string) (string, error) {
	out, err := exec.Command(name, arg...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("command %s %v failed: %w, output: %s", name, arg, err, string(out))
	}
	return string(out), nil
}

// DefaultCommandExecutor is the CommandExecutor LinuxWifiAdapter uses
// unless overridden.
var DefaultCommandExecutor CommandExecutor = RealCommandExecutor{}

// LinuxWifiAdapter implements WifiAdapter by shelling out to iw(8).
// There's no wpa_supplicant dependency here: Tuya pairing APs are
// always open, so association only ever needs iw connect, not a
// supplicant config.
type LinuxWifiAdapter struct {
	exec CommandExecutor
}

// NewLinuxWifiAdapter builds a LinuxWifiAdapter backed by the real
// command executor.
func NewLinuxWifiAdapter() *LinuxWifiAdapter {
	return &LinuxWifiAdapter{exec: DefaultCommandExecutor}
}

var (
	scanSSIDRe       = regexp.MustCompile(`(?m)^\s*SSID:\s*(.*)$`)
	scanSignalRe     = regexp.MustCompile(`(?m)^\s*signal:\s*(-?\d+(?:\.\d+)?)\s*dBm`)
	scanBSSRe        = regexp.MustCompile(`(?m)^BSS `)
	scanPrivacyRe    = regexp.MustCompile(`(?m)^\s*capability:.*Privacy`)
	scanRSNOrWPARe   = regexp.MustCompile(`(?m)^\s*(RSN|WPA):`)
	linkSSIDRe       = regexp.MustCompile(`(?m)^\s*SSID:\s*(.*)$`)
)

// ScanNetworks parses the output of `iw dev <iface> scan`.
//
// iw groups each discovered BSS under its own "BSS <mac>" header; a
// network is treated as protected if either its capability line
// advertises Privacy or an RSN/WPA information element appears before
// the next BSS header.
func (a *LinuxWifiAdapter) ScanNetworks(ctx context.Context, iface Interface) ([]WifiNetwork, error) {
	out, err := a.exec.RunCommand("iw", "dev", iface.Name, "scan")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", iface.Name, err)
	}
	var networks []WifiNetwork
	for _, block := range splitBSSBlocks(out) {
		ssidMatch := scanSSIDRe.FindStringSubmatch(block)
		if ssidMatch == nil {
			continue
		}
		n := WifiNetwork{SSID: ssidMatch[1]}
		if scanPrivacyRe.MatchString(block) || scanRSNOrWPARe.MatchString(block) {
			n.Auth = AuthWPA2PSK
			n.Cipher = CipherAES
		}
		if sig := scanSignalRe.FindStringSubmatch(block); sig != nil {
			if f, err := strconv.ParseFloat(sig[1], 64); err == nil {
				n.RSSI = int(f)
			}
		}
		networks = append(networks, n)
	}
	return networks, nil
}

func splitBSSBlocks(scan string) []string {
	idx := scanBSSRe.FindAllStringIndex(scan, -1)
	if idx == nil {
		return nil
	}
	blocks := make([]string, 0, len(idx))
	for i, loc := range idx {
		end := len(scan)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		blocks = append(blocks, scan[loc[0]:end])
	}
	return blocks
}

// StartStation associates iface with network's open SSID. Tuya
// pairing APs carry no password, so this never needs to write out a
// wpa_supplicant config.
func (a *LinuxWifiAdapter) StartStation(ctx context.Context, iface Interface, network WifiNetwork) error {
	if err := iface.EnsureWifiSTA(); err != nil {
		return err
	}
	if network.Protected() {
		return fmt.Errorf("network %s requires authentication, which is not supported", network.SSID)
	}
	if _, err := a.exec.RunCommand("iw", "dev", iface.Name, "connect", network.SSID); err != nil {
		return fmt.Errorf("connect %s to %s: %w", iface.Name, network.SSID, err)
	}
	return nil
}

func (a *LinuxWifiAdapter) StopStation(ctx context.Context, iface Interface) error {
	if _, err := a.exec.RunCommand("iw", "dev", iface.Name, "disconnect"); err != nil {
		return fmt.Errorf("disconnect %s: %w", iface.Name, err)
	}
	return nil
}

// StationState reports the network iface is currently linked to, read
// from `iw dev <iface> link`. Returns nil, nil if not associated.
func (a *LinuxWifiAdapter) StationState(ctx context.Context, iface Interface) (*WifiNetwork, error) {
	out, err := a.exec.RunCommand("iw", "dev", iface.Name, "link")
	if err != nil {
		return nil, fmt.Errorf("link state %s: %w", iface.Name, err)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "Not connected") {
		return nil, nil
	}
	match := linkSSIDRe.FindStringSubmatch(out)
	if match == nil {
		return nil, nil
	}
	return &WifiNetwork{SSID: match[1]}, nil
}

func (a *LinuxWifiAdapter) StartAccessPoint(ctx context.Context, iface Interface, network WifiNetwork) error {
	if err := iface.EnsureWifiAP(); err != nil {
		return err
	}
	return fmt.Errorf("access point mode is not implemented for iw-backed interfaces")
}

func (a *LinuxWifiAdapter) StopAccessPoint(ctx context.Context, iface Interface) error {
	return fmt.Errorf("access point mode is not implemented for iw-backed interfaces")
}
