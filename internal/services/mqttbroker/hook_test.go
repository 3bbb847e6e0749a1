package mqttbroker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcutter/internal/crypto"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
)

func newTestHook(t *testing.T) (*deviceHook, *device.Registry, *events.Bus) {
	t.Helper()
	reg := device.NewRegistry()
	reg.Add(device.New("abcd1234abcd1234", "01234567890123456789012345678901", "", ""))
	bus := events.NewBus()
	return &deviceHook{devices: reg, bus: bus, log: logging.Default().WithComponent("test")}, reg, bus
}

func TestMatchesTopic(t *testing.T) {
	assert.True(t, matchesTopic("log/abcd/err", "log", "+", "+"))
	assert.True(t, matchesTopic("smart/device/out/abcd1234abcd1234", "smart", "device", "out", "+"))
	assert.False(t, matchesTopic("smart/device/in/abcd1234abcd1234", "smart", "device", "out", "+"))
	assert.False(t, matchesTopic("log/abcd", "log", "+", "+"))
}

func TestTopicUUID(t *testing.T) {
	assert.Equal(t, "abcd1234abcd1234", topicUUID("smart/device/out/abcd1234abcd1234"))
	assert.Equal(t, "abcd1234abcd1234", topicUUID("log/whatever/abcd1234abcd1234"))
}

func TestOnDeviceLogPublishesEvent(t *testing.T) {
	h, _, bus := newTestHook(t)
	ch, cancel := events.Subscribe[*events.DeviceLogEvent](bus, 1)
	defer cancel()

	h.onDeviceLog("log/x/abcd1234abcd1234", []byte("boot complete"))

	select {
	case e := <-ch:
		assert.Equal(t, "abcd1234abcd1234", e.UUID)
		assert.Equal(t, "boot complete", e.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DeviceLogEvent")
	}
}

func TestOnDeviceLogUnknownDeviceDoesNotPublish(t *testing.T) {
	h, _, bus := newTestHook(t)
	ch, cancel := events.Subscribe[*events.DeviceLogEvent](bus, 1)
	defer cancel()

	h.onDeviceLog("log/x/nosuchdevice0000", []byte("hi"))

	select {
	case <-ch:
		t.Fatal("unexpected event for unknown device")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOnDeviceDataDecryptsAndPublishes(t *testing.T) {
	h, reg, bus := newTestHook(t)
	d, err := reg.GetByUUID("abcd1234abcd1234")
	require.NoError(t, err)

	wire, err := crypto.EncryptMQTT(crypto.MQTTProtocol22, d.ActiveKey(), map[string]any{
		"protocol": 16,
		"data":     map[string]any{"progress": 50},
	}, time.Now())
	require.NoError(t, err)

	ch, cancel := events.Subscribe[*events.DeviceDataEvent](bus, 1)
	defer cancel()

	h.onDeviceData("smart/device/out/"+d.UUID, wire)

	select {
	case e := <-ch:
		assert.Equal(t, d.UUID, e.UUID)
		proto, _ := e.Data["protocol"].(float64)
		assert.Equal(t, float64(16), proto)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DeviceDataEvent")
	}
}

func TestOnDeviceDataBadCiphertextDoesNotPublish(t *testing.T) {
	h, _, bus := newTestHook(t)
	ch, cancel := events.Subscribe[*events.DeviceDataEvent](bus, 1)
	defer cancel()

	h.onDeviceData("smart/device/out/abcd1234abcd1234", []byte("2.2garbage-not-valid"))

	select {
	case <-ch:
		t.Fatal("unexpected event for undecryptable payload")
	case <-time.After(50 * time.Millisecond):
	}
}
