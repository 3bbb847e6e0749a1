package impersonate

import (
	"cloudcutter/internal/events"
	"cloudcutter/internal/services/httpserver"
)

// urlConfig answers /v1/url_config and /v2/url_config (host hN.iot-dns.com):
// the "find my cloud" handshake every Tuya device performs right after
// DHCP/DNS point it at the virtual cloud.
func (g *Gateway) urlConfig(r *httpserver.Request) (any, error) {
	g.bus.Publish(&events.UrlConfigEvent{PeerAddr: r.PeerAddr, Legacy: false})

	addr := g.virtualAddr
	return map[string]any{
		"caArr": []any{},
		"httpUrl": map[string]any{
			"addr": "http://" + addr + "/d.json",
			"ips":  []string{addr},
		},
		"httpsPSKUrl": map[string]any{
			"addr": "https://" + addr + "/d.json",
			"ips":  []string{addr},
		},
		"mqttUrl": map[string]any{
			"addr": addr + ":1883",
			"ips":  []string{addr},
		},
		"ttl": 600,
	}, nil
}

// urlConfigLegacy answers the old /device/url_config route, a flatter
// shape that omits ips/ttl.
func (g *Gateway) urlConfigLegacy(r *httpserver.Request) (any, error) {
	g.bus.Publish(&events.UrlConfigEvent{PeerAddr: r.PeerAddr, Legacy: true})

	addr := g.virtualAddr
	return map[string]any{
		"caArr":    []any{},
		"httpUrl":  "http://" + addr + "/d.json",
		"mqttUrl":  addr + ":1883",
	}, nil
}
