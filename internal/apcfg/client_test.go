package apcfg

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcutter/internal/apnet"
	"cloudcutter/internal/apnet/apnetfake"
	"cloudcutter/internal/events"
)

func TestRunHappyPath(t *testing.T) {
	orig := pollInterval
	pollInterval = time.Millisecond
	defer func() { pollInterval = orig }()

	wifi := apnetfake.NewWifi(apnet.WifiNetwork{SSID: "smartlife-A1B2"}, apnet.WifiNetwork{SSID: "home", Auth: apnet.AuthWPA2PSK})
	network := apnetfake.NewNetwork()
	bus := events.NewBus()
	iface := apnet.Interface{Name: "wlan0", Type: apnet.TypeWireless}

	found, cancelFound := events.Subscribe[*events.ApCfgFoundEvent](bus, 1)
	connected, cancelConnected := events.Subscribe[*events.ApCfgConnectedEvent](bus, 1)
	ready, cancelReady := events.Subscribe[*events.ApCfgReadyEvent](bus, 1)
	sent, cancelSent := events.Subscribe[*events.ApCfgSentEvent](bus, 4)
	finished, cancelFinished := events.Subscribe[*events.ApCfgFinishedEvent](bus, 1)
	defer cancelFound()
	defer cancelConnected()
	defer cancelReady()
	defer cancelSent()
	defer cancelFinished()

	client := NewClient(wifi, network, bus, iface)

	go func() {
		time.Sleep(5 * time.Millisecond)
		network.SetIP4Config(&apnet.Ip4Config{
			Address: net.ParseIP("192.168.4.100"),
			Netmask: net.CIDRMask(24, 32),
		})
		network.SetReachable(true, 20*time.Millisecond)

		// Let exactly one 5-packet burst (~1s) go out, then make the
		// device look rebooted: unreachable, and off the pairing AP.
		time.Sleep(300 * time.Millisecond)
		network.SetReachable(false, 0)
		wifi.Disconnect()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	payload, err := WifiNetworkPayload("newnet", "pw", nil)
	require.NoError(t, err)

	err = client.Run(ctx, payload, nil)
	require.NoError(t, err)

	select {
	case e := <-found:
		assert.Equal(t, "smartlife-A1B2", e.SSID)
	default:
		t.Fatal("expected ApCfgFoundEvent")
	}
	select {
	case e := <-connected:
		assert.Equal(t, "192.168.4.100", e.Address.String())
	default:
		t.Fatal("expected ApCfgConnectedEvent")
	}
	select {
	case <-ready:
	default:
		t.Fatal("expected ApCfgReadyEvent")
	}
	select {
	case <-sent:
	default:
		t.Fatal("expected at least one ApCfgSentEvent")
	}
	select {
	case <-finished:
	default:
		t.Fatal("expected ApCfgFinishedEvent")
	}
}

func TestFindTargetSkipsProtectedAndNonMatching(t *testing.T) {
	wifi := apnetfake.NewWifi(
		apnet.WifiNetwork{SSID: "home", Auth: apnet.AuthWPA2PSK},
		apnet.WifiNetwork{SSID: "randomname"},
		apnet.WifiNetwork{SSID: "smartlife-FEED"},
	)
	client := NewClient(wifi, apnetfake.NewNetwork(), events.NewBus(), apnet.Interface{Name: "wlan0"})

	target, err := client.findTarget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "smartlife-FEED", target.SSID)
}
