// Package dnsserver answers DNS queries from an ordered, pattern-matched
// record table so that Tuya's well-known cloud hostnames resolve to the
// virtual-cloud address instead of the real internet.
package dnsserver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"cloudcutter/internal/cctrerr"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/services"
)

// skippedSuffixes are never answered by this server, so host-OS mDNS
// resolution keeps working undisturbed.
var skippedSuffixes = []string{".local.", ".mshome.net."}

// HandlerFunc resolves a query dynamically. A nil or empty return means
// "decline, try the next record."
type HandlerFunc func(qname, qtype string) []string

// Record is one entry in the ordered record table: the first whose
// HostPattern and TypePattern both match wins.
type Record struct {
	HostPattern string
	TypePattern string
	Answers     []string
	Handler     HandlerFunc

	hostRe *regexp.Regexp
	typeRe *regexp.Regexp
}

func (r *Record) compile() error {
	hostRe, err := regexp.Compile(r.HostPattern)
	if err != nil {
		return fmt.Errorf("host_pattern %q: %w", r.HostPattern, err)
	}
	typeRe, err := regexp.Compile(r.TypePattern)
	if err != nil {
		return fmt.Errorf("type_pattern %q: %w", r.TypePattern, err)
	}
	r.hostRe, r.typeRe = hostRe, typeRe
	return nil
}

// Config configures the Service.
type Config struct {
	ListenAddr   string
	UpstreamAddr string
	Timeout      time.Duration
}

// Service is the authoritative + optional-upstream DNS server.
type Service struct {
	mu      sync.RWMutex
	cfg     Config
	records []Record
	bus     *events.Bus
	log     *logging.Logger

	udp *dns.Server
	tcp *dns.Server
}

// New creates a DNS service. AddRecord before Start to populate the
// table; records keep their relative registration order.
func New(cfg Config, bus *events.Bus) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Service{
		cfg: cfg,
		bus: bus,
		log: logging.Default().WithComponent("dns"),
	}
}

// AddRecord appends a record to the table. Returns an error if either
// pattern fails to compile as a regexp.
func (s *Service) AddRecord(r Record) error {
	if err := r.compile(); err != nil {
		return fmt.Errorf("%w: %v", cctrerr.ErrConfiguration, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// Name implements services.Service.
func (s *Service) Name() string { return "dns" }

// Start begins serving UDP and TCP on cfg.ListenAddr.
func (s *Service) Start(ctx context.Context) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleQuery)

	s.udp = &dns.Server{Addr: s.cfg.ListenAddr, Net: "udp", Handler: mux}
	s.tcp = &dns.Server{Addr: s.cfg.ListenAddr, Net: "tcp", Handler: mux}

	errCh := make(chan error, 2)
	go func() { errCh <- s.udp.ListenAndServe() }()
	go func() { errCh <- s.tcp.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: dns listen on %s: %v", cctrerr.ErrTransportIO, s.cfg.ListenAddr, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	s.log.Info("dns server started", "addr", s.cfg.ListenAddr, "records", len(s.records))
	return nil
}

// Stop shuts down both listeners.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	if s.udp != nil {
		if e := s.udp.ShutdownContext(ctx); e != nil {
			err = e
		}
	}
	if s.tcp != nil {
		if e := s.tcp.ShutdownContext(ctx); e != nil {
			err = e
		}
	}
	return err
}

// Status implements services.Service.
func (s *Service) Status() services.Status {
	return services.Status{Name: s.Name(), Running: s.udp != nil}
}

func (s *Service) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		if skipped(q.Name) {
			return // no response at all, let mDNS/host resolution handle it
		}

		qtype := dns.TypeToString[q.Qtype]
		answers := s.resolve(q.Name, qtype)

		if len(answers) == 0 {
			msg.Rcode = dns.RcodeNameError
			s.bus.Publish(&events.DNSQueryEvent{QName: q.Name, QType: qtype})
			continue
		}

		for _, ans := range answers {
			if rr := buildRR(q.Name, q.Qtype, ans); rr != nil {
				msg.Answer = append(msg.Answer, rr)
			}
		}
		s.bus.Publish(&events.DNSQueryEvent{QName: q.Name, QType: qtype, Answers: answers})
	}

	w.WriteMsg(msg)
}

func (s *Service) resolve(qname, qtype string) []string {
	s.mu.RLock()
	records := s.records
	s.mu.RUnlock()

	for _, r := range records {
		if !r.hostRe.MatchString(qname) || !r.typeRe.MatchString(qtype) {
			continue
		}
		if r.Handler != nil {
			if ans := r.Handler(qname, qtype); len(ans) > 0 {
				return ans
			}
			continue
		}
		if len(r.Answers) > 0 {
			return r.Answers
		}
	}

	if s.cfg.UpstreamAddr != "" {
		if ans, err := s.resolveUpstream(qname, qtype); err == nil && len(ans) > 0 {
			return ans
		}
	}
	return nil
}

func (s *Service) resolveUpstream(qname, qtype string) ([]string, error) {
	qtypeCode, ok := dns.StringToType[qtype]
	if !ok {
		return nil, fmt.Errorf("unknown qtype %q", qtype)
	}

	m := new(dns.Msg)
	m.SetQuestion(qname, qtypeCode)

	c := &dns.Client{Timeout: s.cfg.Timeout}
	resp, _, err := c.Exchange(m, s.cfg.UpstreamAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: upstream %s: %v", cctrerr.ErrTimeout, s.cfg.UpstreamAddr, err)
	}

	var out []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}

func skipped(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range skippedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func buildRR(name string, qtype uint16, answer string) dns.RR {
	header := dns.RR_Header{Name: name, Rrtype: qtype, Class: dns.ClassINET, Ttl: 60}
	switch qtype {
	case dns.TypeA:
		return &dns.A{Hdr: header, A: parseIP4(answer)}
	case dns.TypeAAAA:
		return &dns.AAAA{Hdr: header, AAAA: parseIP4(answer)}
	case dns.TypeCNAME:
		return &dns.CNAME{Hdr: header, Target: dns.Fqdn(answer)}
	default:
		return nil
	}
}
