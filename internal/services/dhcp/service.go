// Package dhcp serves the single virtual-cloud DHCP scope every
// impersonated device associates with before it can reach the rest of
// the impersonation server.
package dhcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"

	"cloudcutter/internal/cctrerr"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/metrics"
	"cloudcutter/internal/services"
)

const (
	leaseTime   = 7 * 24 * time.Hour
	renewTime   = 12 * time.Hour
	rebindTime  = 7 * 24 * time.Hour
	domainLocal = "local"
	interfaceMTU = 1500
)

// Service is the virtual-cloud DHCP server: one scope, one interface, one
// IPv4 address, bound for the lifetime of the process.
type Service struct {
	mu      sync.RWMutex
	iface   string
	network *net.IPNet
	server  net.IP // the virtual-cloud address, also the DHCP server identifier
	router  net.IP
	dns     []net.IP

	store *leaseStore
	bus   *events.Bus
	log   *logging.Logger

	conn    net.PacketConn
	running bool
}

// Config is the subset of parameters the Service needs, decoupled from
// the top-level config package so this package stays independently
// testable.
type Config struct {
	Interface  string
	Network    *net.IPNet
	ServerIP   net.IP
	RouterIP   net.IP
	DNSServers []net.IP
	RangeStart net.IP
	RangeEnd   net.IP
}

// New creates a DHCP service bound to cfg's scope. It does not open a
// socket until Start is called.
func New(cfg Config, bus *events.Bus) *Service {
	return &Service{
		iface:   cfg.Interface,
		network: cfg.Network,
		server:  cfg.ServerIP,
		router:  cfg.RouterIP,
		dns:     cfg.DNSServers,
		store:   newLeaseStore(cfg.RangeStart, cfg.RangeEnd),
		bus:     bus,
		log:     logging.Default().WithComponent("dhcp"),
	}
}

// Name implements services.Service.
func (s *Service) Name() string { return "dhcp" }

// Start opens the UDP/67 listener and begins serving.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	conn, err := server4.NewIPv4UDPConn(s.iface, &net.UDPAddr{IP: net.IPv4zero, Port: 67})
	if err != nil {
		return fmt.Errorf("%w: dhcp listen on %s: %v", cctrerr.ErrTransportIO, s.iface, err)
	}
	s.conn = conn
	s.running = true

	go s.serve(conn)
	s.log.Info("dhcp server started", "interface", s.iface, "server_ip", s.server.String())
	return nil
}

// Stop closes the listener.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.conn.Close()
}

// Status implements services.Service.
func (s *Service) Status() services.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return services.Status{Name: s.Name(), Running: s.running}
}

func (s *Service) serve(conn net.PacketConn) {
	buf := make([]byte, 4096)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			continue
		}
		s.handle(conn, peer, pkt)
	}
}

func (s *Service) handle(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	dest := peer
	if udpAddr, ok := peer.(*net.UDPAddr); ok && (udpAddr.IP.IsUnspecified() || udpAddr.IP.Equal(net.IPv4zero)) {
		dest = &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
	}

	var reply *dhcpv4.DHCPv4
	var err error
	emitLease := false

	switch m.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		reply, err = s.offer(m)
	case dhcpv4.MessageTypeRequest:
		reply, err = s.ack(m)
		emitLease = err == nil
	case dhcpv4.MessageTypeInform:
		reply, err = s.inform(m)
		emitLease = err == nil
	default:
		return // everything else is rejected silently
	}
	if err != nil {
		s.log.Warn("dhcp request failed", "error", err, "mac", m.ClientHWAddr.String())
		return
	}

	if _, werr := conn.WriteTo(reply.ToBytes(), dest); werr != nil {
		s.log.Warn("dhcp reply write failed", "error", werr)
		return
	}

	if emitLease {
		metrics.Get().RecordDHCPLease(m.MessageType().String())
		s.bus.Publish(&events.DHCPLeaseEvent{
			ClientMAC:     m.ClientHWAddr,
			Address:       reply.YourIPAddr,
			HostName:      m.HostName(),
			VendorClassID: m.ClassIdentifier(),
		})
	}
}

func (s *Service) offer(m *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	ip, err := s.store.allocate(m.ClientHWAddr.String())
	if err != nil {
		return nil, err
	}
	return s.buildReply(m, dhcpv4.MessageTypeOffer, ip)
}

func (s *Service) ack(m *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	mac := m.ClientHWAddr.String()
	ip, err := s.store.allocate(mac)
	if err != nil {
		return nil, err
	}

	requested := m.RequestedIPAddress()
	if requested == nil {
		requested = m.ClientIPAddr
	}
	if requested != nil && !requested.IsUnspecified() && !requested.Equal(ip) {
		return dhcpv4.NewReplyFromRequest(m,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
			dhcpv4.WithServerIP(s.server),
		)
	}
	return s.buildReply(m, dhcpv4.MessageTypeAck, ip)
}

func (s *Service) inform(m *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	return s.buildReply(m, dhcpv4.MessageTypeAck, m.ClientIPAddr)
}

// buildReply assembles the full option set the spec requires, then trims
// it to the client's parameter request list (option 55) if one was sent,
// keeping only MESSAGE_TYPE, END and the explicitly requested options.
func (s *Service) buildReply(m *dhcpv4.DHCPv4, msgType dhcpv4.MessageType, yourIP net.IP) (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(msgType),
		dhcpv4.WithYourIP(yourIP),
		dhcpv4.WithServerIP(s.server),
		dhcpv4.WithNetmask(netMask(s.network)),
		dhcpv4.WithLeaseTime(uint32(leaseTime.Seconds())),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionRenewTimeValue, uint32Bytes(uint32(renewTime.Seconds())))),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionRebindingTimeValue, uint32Bytes(uint32(rebindTime.Seconds())))),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionDomainName, []byte(domainLocal))),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionInterfaceMTU, uint16Bytes(interfaceMTU))),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionBroadcastAddress, broadcastAddr(s.network).To4())),
	}
	if s.router != nil {
		mods = append(mods, dhcpv4.WithRouter(s.router))
	}
	if len(s.dns) > 0 {
		mods = append(mods, dhcpv4.WithDNS(s.dns...))
	}

	reply, err := dhcpv4.NewReplyFromRequest(m, mods...)
	if err != nil {
		return nil, fmt.Errorf("%w: build dhcp reply: %v", cctrerr.ErrProtocolParse, err)
	}

	if prl := m.ParameterRequestList(); len(prl) > 0 {
		trimToRequestList(reply, prl)
	}
	return reply, nil
}

// trimToRequestList deletes every option from reply except the message
// type and those explicitly present in prl, per §4.3.
func trimToRequestList(reply *dhcpv4.DHCPv4, prl []dhcpv4.OptionCode) {
	keep := map[dhcpv4.OptionCode]bool{dhcpv4.OptionDHCPMessageType: true}
	for _, code := range prl {
		keep[code] = true
	}
	for code := range reply.Options {
		if !keep[code] {
			delete(reply.Options, code)
		}
	}
}

func netMask(n *net.IPNet) net.IPMask {
	if n == nil {
		return net.CIDRMask(24, 32)
	}
	return n.Mask
}

func broadcastAddr(n *net.IPNet) net.IP {
	if n == nil {
		return net.IPv4bcast
	}
	ip := n.IP.To4()
	mask := n.Mask
	bcast := make(net.IP, len(ip))
	for i := range ip {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func uint16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
