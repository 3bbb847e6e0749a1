// Package pki selects and, where needed, mints the X.509 certificates the
// impersonation HTTP server presents over TLS, keyed by SNI server name.
// An entry may also carry a PSK key, which PSKKeyForIdentity looks up by
// identity.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"path"
	"time"

	"cloudcutter/internal/clock"
)

// Entry is one pattern-matched certificate, mirroring the SslCertEntry
// shape of the configuration's ordered ssl_cert list: IdentityPattern is
// matched against the incoming SNI server name using shell-glob rules
// (path.Match), first match wins.
type Entry struct {
	IdentityPattern string
	Cert            *tls.Certificate
	PSKKey          []byte
}

// Store holds an ordered list of certificate entries and serves as the
// tls.Config.GetCertificate callback for the HTTP server's TLS listener.
type Store struct {
	entries []Entry
	clock   clock.Clock
}

// NewStore creates an empty certificate store. Load entries with Add.
func NewStore(c clock.Clock) *Store {
	if c == nil {
		c = &clock.RealClock{}
	}
	return &Store{clock: c}
}

// Add appends a pattern-matched certificate entry. Order matters: the
// first pattern that matches a ClientHello's server name wins.
func (s *Store) Add(e Entry) {
	s.entries = append(s.entries, e)
}

// AddSelfSigned mints a throwaway self-signed certificate for pattern and
// appends it. Used when a config entry omits cert_file/key_file — cloudcutter
// ships no real Tuya CA key, so every default deployment self-signs.
func (s *Store) AddSelfSigned(pattern string, extraSANs ...string) error {
	cert, err := s.generateSelfSigned(pattern, extraSANs)
	if err != nil {
		return fmt.Errorf("generate self-signed cert for %q: %w", pattern, err)
	}
	s.Add(Entry{IdentityPattern: pattern, Cert: cert})
	return nil
}

// GetCertificate implements the tls.Config.GetCertificate callback: it
// walks entries in order and returns the first whose pattern matches the
// ClientHello's requested server name.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	for _, e := range s.entries {
		if e.Cert == nil {
			continue
		}
		ok, err := path.Match(e.IdentityPattern, name)
		if err == nil && ok {
			return e.Cert, nil
		}
	}
	if len(s.entries) > 0 && s.entries[0].Cert != nil {
		return s.entries[0].Cert, nil
	}
	return nil, fmt.Errorf("pki: no certificate matches server name %q", name)
}

// PSKKeyForIdentity returns the pre-shared key registered for identity,
// matched against each entry's IdentityPattern the same way SNI is.
func (s *Store) PSKKeyForIdentity(identity string) ([]byte, bool) {
	for _, e := range s.entries {
		if e.PSKKey == nil {
			continue
		}
		if ok, err := path.Match(e.IdentityPattern, identity); err == nil && ok {
			return e.PSKKey, true
		}
	}
	return nil, false
}

func (s *Store) generateSelfSigned(pattern string, extraSANs []string) (*tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	now := s.clock.Now()
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: pattern,
		},
		NotBefore:             now,
		NotAfter:              now.Add(825 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, san := range extraSANs {
		if ip := net.ParseIP(san); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, san)
		}
	}
	if dnsPattern, ok := asDNSName(pattern); ok {
		template.DNSNames = append(template.DNSNames, dnsPattern)
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, nil
}

// asDNSName reports whether pattern is added as a certificate DNSName
// SAN: every pattern except the empty one and the bare "*" is used as-is
// (glob patterns like "*.tuyaus.com" are valid wildcard SANs).
func asDNSName(pattern string) (string, bool) {
	if pattern == "" || pattern == "*" {
		return "", false
	}
	return pattern, true
}
