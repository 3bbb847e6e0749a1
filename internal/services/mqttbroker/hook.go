package mqttbroker

import (
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"cloudcutter/internal/crypto"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/metrics"
)

// deviceHook decrypts and republishes device traffic on the event bus:
// log/+/+ becomes a DeviceLogEvent, smart/device/out/+ becomes a
// DeviceDataEvent, mirroring mqtt.py's on_device_log/on_device_data.
type deviceHook struct {
	mqtt.HookBase
	devices *device.Registry
	bus     *events.Bus
	log     *logging.Logger
}

func (h *deviceHook) ID() string { return "cloudcutter-device-hook" }

func (h *deviceHook) Provides(b byte) bool {
	switch b {
	case mqtt.OnConnect, mqtt.OnDisconnect, mqtt.OnPublish:
		return true
	default:
		return false
	}
}

func (h *deviceHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	metrics.Get().RecordMQTTConnection("connect")
	h.log.Debug("client connected", "client_id", cl.ID)
	return nil
}

func (h *deviceHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	metrics.Get().RecordMQTTConnection("disconnect")
	h.log.Debug("client disconnected", "client_id", cl.ID, "err", err)
}

func (h *deviceHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	switch {
	case matchesTopic(pk.TopicName, "log", "+", "+"):
		h.onDeviceLog(pk.TopicName, pk.Payload)
	case matchesTopic(pk.TopicName, "smart", "device", "out", "+"):
		h.onDeviceData(pk.TopicName, pk.Payload)
	}
	return pk, nil
}

// matchesTopic checks topic against an MQTT filter expressed as
// already-split segments ("+" matching any single segment). Good enough
// for the two fixed-depth filters this hook cares about; it does not
// implement "#" wildcards.
func matchesTopic(topic string, filter ...string) bool {
	parts := strings.Split(topic, "/")
	if len(parts) != len(filter) {
		return false
	}
	for i, f := range filter {
		if f != "+" && f != parts[i] {
			return false
		}
	}
	return true
}

func topicUUID(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 {
		return topic
	}
	return topic[i+1:]
}

func (h *deviceHook) onDeviceLog(topic string, payload []byte) {
	uuid := topicUUID(topic)
	d, err := h.devices.GetByUUID(uuid)
	if err != nil {
		h.log.Warn("log from unknown device", "uuid", uuid)
		return
	}
	h.bus.Publish(&events.DeviceLogEvent{UUID: d.UUID, Message: string(payload)})
}

func (h *deviceHook) onDeviceData(topic string, payload []byte) {
	uuid := topicUUID(topic)
	d, err := h.devices.GetByUUID(uuid)
	if err != nil {
		h.log.Warn("data from unknown device", "uuid", uuid)
		return
	}
	data, err := crypto.DecryptMQTT(d.ActiveKey(), payload)
	if err != nil {
		metrics.Get().RecordEnvelopeFailure("mqtt", "decrypt")
		h.log.Warn("failed to decrypt device data", "uuid", uuid, "err", err)
		return
	}
	h.bus.Publish(&events.DeviceDataEvent{UUID: d.UUID, Data: data})
}
