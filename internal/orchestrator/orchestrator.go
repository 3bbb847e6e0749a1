// Package orchestrator brings up and tears down the full impersonation
// stack — DHCP, DNS, HTTP/TLS, MQTT broker, and the gateway/OTA logic
// riding on top of them — in the order the virtual cloud's pieces
// depend on each other, mirroring cores/server/_core.py's run/cleanup.
package orchestrator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"cloudcutter/internal/apnet"
	"cloudcutter/internal/config"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/impersonate"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/pki"
	"cloudcutter/internal/services"
	"cloudcutter/internal/services/dhcp"
	"cloudcutter/internal/services/dnsserver"
	"cloudcutter/internal/services/httpserver"
	"cloudcutter/internal/services/mqttbroker"
)

// Orchestrator owns every long-lived service the impersonation server
// runs, and the shared state (device registry, event bus) they're
// wired against.
type Orchestrator struct {
	Bus     *events.Bus
	Devices *device.Registry

	wifi    apnet.WifiAdapter
	network apnet.NetworkAdapter
	iface   apnet.Interface
	apNet   apnet.WifiNetwork

	gateway  *impersonate.Gateway
	services []services.Service

	log *logging.Logger
}

// New builds an Orchestrator from a decoded config. It constructs every
// service but starts none of them; call Start to bring the stack up.
//
// wifi/network may be nil when the caller only wants the wired-up
// services without bringing up a real access point (e.g. tests running
// against a loopback interface); Start skips the AP step in that case.
func New(cfg *config.Config, bus *events.Bus, wifi apnet.WifiAdapter, network apnet.NetworkAdapter) (*Orchestrator, error) {
	serverIP, ipNet, err := net.ParseCIDR(cfg.Network.Address)
	if err != nil {
		return nil, fmt.Errorf("network.address: %w", err)
	}

	devices := device.NewRegistry()
	for _, dc := range cfg.Devices {
		devices.Add(device.New(dc.UUID, dc.AuthKey, dc.PSK, dc.FirmwarePath))
	}

	rangeStart, rangeEnd, err := dhcpRange(ipNet, cfg.Network.RangeFrom, cfg.Network.RangeTo)
	if err != nil {
		return nil, err
	}

	bus = nonNilBus(bus)

	dhcpSvc := dhcp.New(dhcp.Config{
		Interface:  cfg.Network.Interface,
		Network:    ipNet,
		ServerIP:   serverIP,
		RouterIP:   serverIP,
		DNSServers: []net.IP{serverIP},
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	}, bus)

	dnsSvc := dnsserver.New(dnsserver.Config{
		ListenAddr:   cfg.DNS.ListenAddr,
		UpstreamAddr: cfg.DNS.UpstreamAddr,
		Timeout:      cfg.DNS.Timeout,
	}, bus)
	for _, rec := range DefaultDNSRecords(serverIP) {
		if err := dnsSvc.AddRecord(rec); err != nil {
			return nil, fmt.Errorf("install dns records: %w", err)
		}
	}

	mqttSvc := mqttbroker.New(mqttbroker.Config{ListenAddr: cfg.MQTT.ListenAddr}, devices, bus)

	certs := pki.NewStore(nil)
	if len(cfg.HTTP.Certs) == 0 {
		if err := certs.AddSelfSigned("*"); err != nil {
			return nil, fmt.Errorf("mint default certificate: %w", err)
		}
	}
	for _, sc := range cfg.HTTP.Certs {
		if sc.CertFile == "" || sc.KeyFile == "" {
			if err := certs.AddSelfSigned(sc.IdentityPattern); err != nil {
				return nil, fmt.Errorf("mint certificate for %q: %w", sc.IdentityPattern, err)
			}
			continue
		}
		cert, err := loadCertificate(sc.CertFile, sc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate for %q: %w", sc.IdentityPattern, err)
		}
		certs.Add(pki.Entry{IdentityPattern: sc.IdentityPattern, Cert: cert})
	}

	router := httpserver.NewRouter()
	gateway := impersonate.NewGateway(bus, devices, mqttSvc, serverIP.String(), serverIP.String(), cfg.Schema.Dir)
	if err := gateway.Register(router); err != nil {
		return nil, fmt.Errorf("register gateway routes: %w", err)
	}

	httpSvc := httpserver.New(httpserver.Config{
		ListenAddr:    cfg.HTTP.ListenAddr,
		TLSListenAddr: cfg.HTTP.TLSListenAddr,
	}, router, certs, devices.ResolvePSK)

	iface := apnet.Interface{Name: cfg.Network.Interface, Type: apnet.TypeWirelessAP}
	apNet := apnet.WifiNetwork{}
	if cfg.Wifi != nil {
		iface.Name = cfg.Wifi.Interface
	}

	return &Orchestrator{
		Bus:     bus,
		Devices: devices,
		wifi:    wifi,
		network: network,
		iface:   iface,
		apNet:   apNet,
		gateway: gateway,
		services: []services.Service{
			dhcpSvc,
			dnsSvc,
			httpSvc,
			mqttSvc,
		},
		log: logging.Default().WithComponent("orchestrator"),
	}, nil
}

func nonNilBus(bus *events.Bus) *events.Bus {
	if bus != nil {
		return bus
	}
	return events.NewBus()
}

// Start brings every service up in dependency order: access point
// first (so devices have a network to get a lease on), then DHCP, DNS,
// HTTP, and finally MQTT, matching cores/server/_core.py's run().
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.wifi != nil {
		if err := o.wifi.StartAccessPoint(ctx, o.iface, o.apNet); err != nil {
			return fmt.Errorf("start access point: %w", err)
		}
	}
	for _, svc := range o.services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop tears the stack down in reverse order, collecting every error
// rather than stopping at the first.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var errs []error
	for i := len(o.services) - 1; i >= 0; i-- {
		if err := o.services[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", o.services[i].Name(), err))
		}
	}
	o.gateway.Close()
	if o.wifi != nil {
		if err := o.wifi.StopAccessPoint(ctx, o.iface); err != nil {
			errs = append(errs, fmt.Errorf("stop access point: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Statuses reports the current Status of every managed service.
func (o *Orchestrator) Statuses() []services.Status {
	out := make([]services.Status, 0, len(o.services))
	for _, svc := range o.services {
		out = append(out, svc.Status())
	}
	return out
}

func loadCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func dhcpRange(network *net.IPNet, rangeFrom, rangeTo string) (net.IP, net.IP, error) {
	if rangeFrom != "" && rangeTo != "" {
		from := net.ParseIP(rangeFrom)
		to := net.ParseIP(rangeTo)
		if from == nil || to == nil {
			return nil, nil, fmt.Errorf("invalid dhcp range %q-%q", rangeFrom, rangeTo)
		}
		return from, to, nil
	}
	base := network.IP.To4()
	if base == nil {
		return nil, nil, fmt.Errorf("dhcp range requires an IPv4 network")
	}
	from := make(net.IP, 4)
	to := make(net.IP, 4)
	copy(from, base)
	copy(to, base)
	from[3] += 10
	to[3] += 250
	return from, to, nil
}
