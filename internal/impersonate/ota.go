package impersonate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"cloudcutter/internal/cctrerr"
	"cloudcutter/internal/crypto"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/metrics"
	"cloudcutter/internal/services/httpserver"
)

// isUpgraded reports whether uuid has already been pushed through the OTA
// flow once this run.
func (g *Gateway) isUpgraded(uuid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.upgraded[uuid]
}

func (g *Gateway) markUpgraded(uuid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upgraded[uuid] = true
}

// upgradeTrigger answers tuya.device.dynamic.config.ack and
// tuya.device.timer.count: the first time a device asks, it publishes the
// MQTT OTA trigger and otherwise declines so the request falls through to
// the generic schema handler.
func (g *Gateway) upgradeTrigger(r *httpserver.Request) (any, error) {
	d, _, err := g.decryptData(r)
	if err != nil {
		return nil, err
	}
	action := r.Query["a"]

	if g.isUpgraded(d.UUID) {
		return nil, nil
	}
	if d.FirmwarePath == "" {
		metrics.Get().RecordOTATrigger("skipped_no_firmware")
		g.bus.Publish(&events.UpgradeSkipEvent{UUID: d.UUID, Reason: events.UpgradeSkipNoFirmwareSet})
		return nil, nil
	}

	g.log.Info("triggering OTA upgrade", "uuid", d.UUID, "action", action)
	g.markUpgraded(d.UUID)

	payload := map[string]any{
		"protocol": 15,
		"data":     map[string]any{"firmwareType": 0},
	}
	// MQTT always keys on auth_key[:16], independent of the HTTP layer's
	// per-request encryption-type view.
	wire, err := crypto.EncryptMQTT(crypto.MQTTProtocol22, d.ActiveKey(), payload, time.Now())
	if err != nil {
		return nil, err
	}
	topic := "smart/device/in/" + d.UUID
	if err := g.mqtt.Publish(topic, wire); err != nil {
		metrics.Get().RecordOTATrigger("publish_error")
		return nil, fmt.Errorf("publish ota trigger: %w", err)
	}
	metrics.Get().RecordOTATrigger("triggered")
	g.bus.Publish(&events.UpgradeTriggerEvent{UUID: d.UUID, Action: action})

	// fall through to the generic schema handler for this same request
	return nil, nil
}

// upgradeSilentGet answers tuya.device.upgrade.silent.get: an empty result
// once already upgraded, otherwise the same response as upgrade.get.
func (g *Gateway) upgradeSilentGet(r *httpserver.Request) (any, error) {
	d, _, err := g.decryptData(r)
	if err != nil {
		return nil, err
	}
	if g.isUpgraded(d.UUID) {
		g.log.Info("already upgraded, skipping silent upgrade", "uuid", d.UUID)
		return g.encryptResult(d, nil)
	}
	if d.FirmwarePath == "" {
		metrics.Get().RecordOTATrigger("skipped_no_firmware")
		g.bus.Publish(&events.UpgradeSkipEvent{UUID: d.UUID, Reason: events.UpgradeSkipNoFirmwareSet})
		return g.encryptResult(d, nil)
	}
	g.markUpgraded(d.UUID)
	return g.upgradeInfo(r, d)
}

// upgradeGet answers tuya.device.upgrade.get with firmware download info.
func (g *Gateway) upgradeGet(r *httpserver.Request) (any, error) {
	d, _, err := g.decryptData(r)
	if err != nil {
		return nil, err
	}
	g.markUpgraded(d.UUID)
	return g.upgradeInfo(r, d)
}

func (g *Gateway) upgradeInfo(r *httpserver.Request, d *device.Device) (any, error) {
	action := r.Query["a"]
	g.log.Info("sending upgrade information", "uuid", d.UUID, "action", action)

	fwData, err := os.ReadFile(d.FirmwarePath)
	if err != nil {
		return nil, fmt.Errorf("read firmware %s: %w", d.FirmwarePath, cctrerr.ErrConfiguration)
	}
	sum := sha256.Sum256(fwData)
	fwSHA := strings.ToUpper(hex.EncodeToString(sum[:]))
	mac := hmac.New(sha256.New, d.ActiveKey())
	mac.Write([]byte(fwSHA))
	fwHMAC := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	url := fmt.Sprintf("http://%s/files/%s", g.filesHost, d.UUID)
	g.bus.Publish(&events.UpgradeInfoEvent{UUID: d.UUID, Action: action, FirmwareURL: url})

	return g.encryptResult(d, map[string]any{
		"url":     url,
		"hmac":    fwHMAC,
		"version": "9.0.0",
		"size":    fmt.Sprintf("%d", len(fwData)),
		"type":    0,
	})
}

// upgradeStatus answers tuya.device.upgrade.status.update, just logging and
// broadcasting the reported status.
func (g *Gateway) upgradeStatus(r *httpserver.Request) (any, error) {
	d, data, err := g.decryptData(r)
	if err != nil {
		return nil, err
	}
	status, _ := data["upgradeStatus"].(float64)
	g.log.Info("upgrade status", "uuid", d.UUID, "status", status)
	g.bus.Publish(&events.UpgradeStatusEvent{UUID: d.UUID, Status: int(status)})
	return nil, nil
}

// watchUpgradeProgress subscribes to device MQTT data and republishes
// protocol-16 payloads as upgrade progress. Returns the unsubscribe func.
func (g *Gateway) watchUpgradeProgress() func() {
	ch, cancel := events.Subscribe[*events.DeviceDataEvent](g.bus, 64)
	go func() {
		for e := range ch {
			proto, _ := e.Data["protocol"].(float64)
			if int(proto) != 16 {
				continue
			}
			inner, _ := e.Data["data"].(map[string]any)
			progress, _ := inner["progress"].(float64)
			g.log.Info("upgrade progress", "uuid", e.UUID, "progress", progress)
			g.bus.Publish(&events.UpgradeProgressEvent{UUID: e.UUID, Progress: int(progress)})
		}
	}()
	return cancel
}
