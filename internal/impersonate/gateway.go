// Package impersonate implements the device-facing half of the virtual
// cloud: the /d.json gateway (activation, generic schema replay, OTA) and
// the url_config bootstrap handlers devices hit right after DNS points
// them here.
package impersonate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloudcutter/internal/cctrerr"
	"cloudcutter/internal/crypto"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/metrics"
	"cloudcutter/internal/services/httpserver"
)

// MQTTPublisher is the narrow slice of the MQTT broker Gateway needs: the
// ability to push a device-bound message. Satisfied by
// internal/services/mqttbroker.
type MQTTPublisher interface {
	Publish(topic string, payload []byte) error
}

// Gateway answers the HTTP requests an impersonated device makes against
// the virtual cloud: url_config bootstrap, activation, OTA, and generic
// schema-replay for everything else.
type Gateway struct {
	bus         *events.Bus
	devices     *device.Registry
	mqtt        MQTTPublisher
	log         *logging.Logger
	virtualAddr string
	filesHost   string
	schemaDir   string

	mu       sync.Mutex
	upgraded map[string]bool

	cancelProgress func()
}

// NewGateway builds a Gateway. virtualAddr is advertised in url_config
// responses; filesHost is advertised in OTA download URLs (often the same
// host); schemaDir holds the <action>.json fixtures the generic handler
// replays.
func NewGateway(bus *events.Bus, devices *device.Registry, mqtt MQTTPublisher, virtualAddr, filesHost, schemaDir string) *Gateway {
	g := &Gateway{
		bus:         bus,
		devices:     devices,
		mqtt:        mqtt,
		log:         logging.Default().WithComponent("gateway"),
		virtualAddr: virtualAddr,
		filesHost:   filesHost,
		schemaDir:   schemaDir,
		upgraded:    make(map[string]bool),
	}
	g.cancelProgress = g.watchUpgradeProgress()
	return g
}

// Close stops the background MQTT-progress subscription.
func (g *Gateway) Close() {
	if g.cancelProgress != nil {
		g.cancelProgress()
	}
}

// Register wires every gateway route onto router.
func (g *Gateway) Register(router *httpserver.Router) error {
	routes := []httpserver.Route{
		{
			MethodPattern: "^(GET|POST)$",
			PathPattern:   `^/v[12]/url_config$`,
			HostPattern:   `^h\d\.iot-dns\.com$`,
			Handler:       g.urlConfig,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/device/url_config$`,
			Handler:       g.urlConfigLegacy,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/d\.json$`,
			RequiredQuery: map[string]string{"a": "^tuya\\.device\\.active$"},
			Handler:       g.activate,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/d\.json$`,
			RequiredQuery: map[string]string{"a": "^tuya\\.device\\.(dynamic\\.config\\.ack|timer\\.count)$"},
			Handler:       g.upgradeTrigger,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/d\.json$`,
			RequiredQuery: map[string]string{"a": "^tuya\\.device\\.upgrade\\.silent\\.get$"},
			Handler:       g.upgradeSilentGet,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/d\.json$`,
			RequiredQuery: map[string]string{"a": "^tuya\\.device\\.upgrade\\.get$"},
			Handler:       g.upgradeGet,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/d\.json$`,
			RequiredQuery: map[string]string{"a": "^tuya\\.device\\.upgrade\\.status\\.update$"},
			Handler:       g.upgradeStatus,
		},
		{
			MethodPattern: "^POST$",
			PathPattern:   `^/d\.json$`,
			Handler:       g.schemaReplay,
		},
		{
			MethodPattern: "^GET$",
			PathPattern:   `^/files/.+$`,
			Handler:       g.filesGet,
		},
	}
	for _, rt := range routes {
		if err := router.Handle(rt); err != nil {
			return err
		}
	}
	return nil
}

// decryptData resolves the requesting device and decrypts its "data"
// field, mirroring gateway.py's _decrypt_data.
func (g *Gateway) decryptData(r *httpserver.Request) (*device.Device, map[string]any, error) {
	d, err := g.devices.GetForRequest(r.Query)
	if err != nil {
		return nil, nil, err
	}
	body, ok := r.Body.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("request body not json: %w", cctrerr.ErrProtocolParse)
	}
	dataHex, _ := body["data"].(string)
	obj, err := crypto.DecryptHTTPRequest(d.EncryptionType, d.AESKey, dataHex)
	if err != nil {
		metrics.Get().RecordEnvelopeFailure("http", "decrypt")
		return nil, nil, err
	}
	return d, obj, nil
}

// encryptResult wraps result in the device's envelope, mirroring
// gateway.py's _encrypt_data. A nil result becomes an empty object.
func (g *Gateway) encryptResult(d *device.Device, result any) (any, error) {
	if result == nil {
		result = map[string]any{}
	}
	return crypto.EncryptHTTPResult(d.EncryptionType, d.AESKey, result, time.Now())
}

// activate answers /d.json?a=tuya.device.active with a fixed one-property
// schema plus the session keys the device will use from now on.
func (g *Gateway) activate(r *httpserver.Request) (any, error) {
	d, data, err := g.decryptData(r)
	if err != nil {
		return nil, err
	}
	g.log.Info("activating device", "uuid", d.UUID, "softVer", data["softVer"])
	g.bus.Publish(&events.DeviceActiveEvent{UUID: d.UUID, Data: data})

	schema, err := json.Marshal([]map[string]any{
		{"id": 1, "type": "obj", "mode": "rw", "property": map[string]any{"type": "bool"}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal activation schema: %w", err)
	}
	key := string(d.ActiveKey())

	return g.encryptResult(d, map[string]any{
		"schema":       string(schema),
		"devId":        d.UUID,
		"resetFactory": false,
		"timeZone":     "+02:00",
		"capability":   1025,
		"secKey":       key,
		"stdTimeZone":  "+01:00",
		"schemaId":     "0000000000",
		"dstIntervals": []any{},
		"localKey":     key,
	})
}

// schemaReplay answers every other /d.json action by loading
// schema/<action>.json, substituting the literal "DUMMY" placeholder with
// the device's uuid, and replaying its "result" field. Missing fixtures
// get an empty object, matching gateway.py's fallback.
func (g *Gateway) schemaReplay(r *httpserver.Request) (any, error) {
	action := r.Query["a"]
	d, data, err := g.decryptData(r)
	if err != nil {
		return nil, err
	}
	g.log.Info("gateway request", "action", action)
	g.bus.Publish(&events.DeviceRequestEvent{UUID: d.UUID, Action: action, Data: data})

	var result any
	path := filepath.Join(g.schemaDir, action+".json")
	text, err := os.ReadFile(path)
	switch {
	case err == nil:
		text = []byte(strings.ReplaceAll(string(text), "DUMMY", d.UUID))
		var fixture map[string]any
		if err := json.Unmarshal(text, &fixture); err != nil {
			return nil, fmt.Errorf("schema fixture %s: %w", path, cctrerr.ErrProtocolParse)
		}
		result = fixture["result"]
	case os.IsNotExist(err):
		g.log.Warn("missing schema response", "action", action)
	default:
		return nil, fmt.Errorf("read schema fixture %s: %w", path, err)
	}

	return g.encryptResult(d, result)
}

// filesGet streams a device's firmware file from /files/<uuid>.
func (g *Gateway) filesGet(r *httpserver.Request) (any, error) {
	uuid := r.Path[strings.LastIndex(r.Path, "/")+1:]
	d, err := g.devices.GetByUUID(uuid)
	if err != nil {
		return nil, err
	}
	if d.FirmwarePath == "" {
		return nil, fmt.Errorf("device %s has no firmware configured: %w", d.UUID, cctrerr.ErrConfiguration)
	}

	g.bus.Publish(&events.UpgradeDownloadEvent{UUID: d.UUID, FirmwarePath: d.FirmwarePath})

	return httpserver.FilePath(d.FirmwarePath), nil
}
