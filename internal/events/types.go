// Package events provides the typed publish/subscribe bus that every
// impersonation and provisioning component signals activity through.
package events

import (
	"net"
	"time"
)

// Event is the marker interface every broadcastable event implements.
// Concrete event types embed Base to satisfy it.
type Event interface {
	occurredAt() time.Time
	setOccurredAt(time.Time)
}

// Base is embedded by every concrete event type. Publish fills in At.
type Base struct {
	At time.Time
}

func (b *Base) occurredAt() time.Time     { return b.At }
func (b *Base) setOccurredAt(t time.Time) { b.At = t }

// DHCPLeaseEvent is broadcast on DHCP REQUEST/INFORM, never on DISCOVER.
type DHCPLeaseEvent struct {
	Base
	ClientMAC     net.HardwareAddr
	Address       net.IP
	HostName      string
	VendorClassID string
}

// DNSQueryEvent is broadcast for every resolved DNS question. Answers is
// empty when nothing in the record table matched.
type DNSQueryEvent struct {
	Base
	QName   string
	QType   string
	Answers []string
}

// UrlConfigEvent is broadcast when a device fetches /v{1,2}/url_config or
// the legacy /device/url_config route.
type UrlConfigEvent struct {
	Base
	PeerAddr string
	Legacy   bool
}

// DeviceActiveEvent is broadcast when a device completes activation.
type DeviceActiveEvent struct {
	Base
	UUID string
	Data map[string]any
}

// DeviceRequestEvent is broadcast for every generic schema-replay action
// not covered by a more specific event type.
type DeviceRequestEvent struct {
	Base
	UUID   string
	Action string
	Data   map[string]any
}

// DeviceLogEvent is broadcast for MQTT log/+/+ messages.
type DeviceLogEvent struct {
	Base
	UUID    string
	Message string
}

// DeviceDataEvent is broadcast for MQTT smart/device/out/+ messages.
type DeviceDataEvent struct {
	Base
	UUID string
	Data map[string]any
}

// UpgradeEvent is the ancestor interface every OTA-phase event implements,
// so a subscriber can register once for "anything upgrade related."
type UpgradeEvent interface {
	Event
	upgradeDeviceUUID() string
}

// UpgradeSkipReason explains why an upgrade trigger was suppressed.
type UpgradeSkipReason int

const (
	UpgradeSkipAlreadyUpgraded UpgradeSkipReason = iota
	UpgradeSkipNoFirmwareSet
)

// UpgradeSkipEvent is broadcast when an upgrade trigger is suppressed.
type UpgradeSkipEvent struct {
	Base
	UUID   string
	Reason UpgradeSkipReason
}

func (e UpgradeSkipEvent) upgradeDeviceUUID() string { return e.UUID }

// UpgradeTriggerEvent is broadcast when the OTA MQTT trigger is published.
type UpgradeTriggerEvent struct {
	Base
	UUID   string
	Action string
}

func (e UpgradeTriggerEvent) upgradeDeviceUUID() string { return e.UUID }

// UpgradeInfoEvent is broadcast when upgrade.get responds with firmware info.
type UpgradeInfoEvent struct {
	Base
	UUID        string
	Action      string
	FirmwareURL string
}

func (e UpgradeInfoEvent) upgradeDeviceUUID() string { return e.UUID }

// UpgradeStatusEvent is broadcast on upgrade.status.update.
type UpgradeStatusEvent struct {
	Base
	UUID   string
	Status int
}

func (e UpgradeStatusEvent) upgradeDeviceUUID() string { return e.UUID }

// UpgradeProgressEvent is broadcast on MQTT OTA progress reports.
type UpgradeProgressEvent struct {
	Base
	UUID     string
	Progress int
}

func (e UpgradeProgressEvent) upgradeDeviceUUID() string { return e.UUID }

// UpgradeDownloadEvent is broadcast when the firmware file is streamed to
// the device over HTTP.
type UpgradeDownloadEvent struct {
	Base
	UUID         string
	FirmwarePath string
}

func (e UpgradeDownloadEvent) upgradeDeviceUUID() string { return e.UUID }

// ApCfgEvent is the ancestor interface every provisioning-client phase
// event implements.
type ApCfgEvent interface {
	Event
	apCfgPhase() string
}

// ApCfgFoundEvent fires when a matching unconfigured AP is discovered
// during a scan.
type ApCfgFoundEvent struct {
	Base
	SSID string
}

func (e ApCfgFoundEvent) apCfgPhase() string { return "found" }

// ApCfgConnectedEvent fires once associated and IP-configured.
type ApCfgConnectedEvent struct {
	Base
	SSID    string
	Address net.IP
}

func (e ApCfgConnectedEvent) apCfgPhase() string { return "connected" }

// ApCfgReadyEvent fires once the target host responds to ping.
type ApCfgReadyEvent struct {
	Base
	SSID    string
	Address net.IP
	PingRTT time.Duration
}

func (e ApCfgReadyEvent) apCfgPhase() string { return "ready" }

// ApCfgSentEvent fires after each burst of frames is transmitted.
type ApCfgSentEvent struct {
	Base
	SSID    string
	Address net.IP
	Port    int
}

func (e ApCfgSentEvent) apCfgPhase() string { return "sent" }

// ApCfgFinishedEvent fires once the device reboots: ping stops responding,
// then the Wi-Fi link itself drops.
type ApCfgFinishedEvent struct {
	Base
	SSID    string
	Address net.IP
}

func (e ApCfgFinishedEvent) apCfgPhase() string { return "finished" }
