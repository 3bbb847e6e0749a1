// Package httpserver is the plaintext + TLS HTTP server impersonated
// devices talk to: one shared route table, dispatched the same way
// regardless of which listener accepted the connection.
package httpserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"cloudcutter/internal/cctrerr"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/metrics"
	"cloudcutter/internal/pki"
	"cloudcutter/internal/pskhandshake"
	"cloudcutter/internal/services"
)

// PSKResolver resolves a raw PSK identity (as presented by a TLS-PSK or
// TLS-PSK-wrapped-in-openssl-hex client) to a key. Implemented by
// internal/device.Registry's CalcPSK{V1,V2,OpenSSL} trio; which one
// runs is chosen by the identity's shape (spec §4.5).
type PSKResolver func(identity []byte) (key []byte, ok bool)

// Config configures the Server.
type Config struct {
	ListenAddr    string
	TLSListenAddr string
}

// Server serves one Router over plaintext, X.509 TLS, and TLS-PSK.
type Server struct {
	cfg    Config
	router *Router
	certs  *pki.Store
	psk    PSKResolver
	log    *logging.Logger

	plain    net.Listener
	tlsRaw   net.Listener
	tlsSrv   *http.Server
	plainSrv *http.Server
}

// New creates a Server. Register routes on Router before Start.
func New(cfg Config, router *Router, certs *pki.Store, psk PSKResolver) *Server {
	return &Server{
		cfg:    cfg,
		router: router,
		certs:  certs,
		psk:    psk,
		log:    logging.Default().WithComponent("http"),
	}
}

func (s *Server) Name() string { return "http" }

func (s *Server) httpHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		req := newRequest(hr)
		result, err, matched := s.router.Dispatch(req)
		if err != nil {
			s.log.Error("handler failed", "request_id", req.ID, "path", req.Path, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !matched {
			s.log.Debug("no route matched", "request_id", req.ID, "path", req.Path)
			metrics.Get().RecordHTTPDispatchMiss(req.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeResponse(w, result)
	})
}

// Start opens the plaintext and TLS(+PSK) listeners and begins serving.
func (s *Server) Start(ctx context.Context) error {
	handler := s.httpHandler()

	if s.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("%w: http listen on %s: %v", cctrerr.ErrTransportIO, s.cfg.ListenAddr, err)
		}
		s.plain = ln
		s.plainSrv = &http.Server{Handler: handler}
		go func() { _ = s.plainSrv.Serve(ln) }()
	}

	if s.cfg.TLSListenAddr != "" && s.certs != nil {
		raw, err := net.Listen("tcp", s.cfg.TLSListenAddr)
		if err != nil {
			return fmt.Errorf("%w: https listen on %s: %v", cctrerr.ErrTransportIO, s.cfg.TLSListenAddr, err)
		}
		s.tlsRaw = raw

		tlsCfg := &tls.Config{GetCertificate: s.certs.GetCertificate}
		s.tlsSrv = &http.Server{Handler: handler, TLSConfig: tlsCfg}

		sniffing := &sniffingListener{Listener: raw, srv: s, tlsCfg: tlsCfg}
		go func() { _ = s.tlsSrv.Serve(sniffing) }()
	}

	s.log.Info("http server started", "plain", s.cfg.ListenAddr, "tls", s.cfg.TLSListenAddr)
	return nil
}

// Stop shuts both listeners down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.plainSrv != nil {
		if e := s.plainSrv.Shutdown(ctx); e != nil {
			err = e
		}
	}
	if s.tlsSrv != nil {
		if e := s.tlsSrv.Shutdown(ctx); e != nil {
			err = e
		}
	}
	return err
}

func (s *Server) Status() services.Status {
	return services.Status{Name: s.Name(), Running: s.plain != nil || s.tlsRaw != nil}
}

// sniffingListener peeks each connection's ClientHello: if it offers our
// PSK cipher suite, the handshake is completed by internal/pskhandshake
// and the resulting net.Conn is handed to http.Server as-is (it already
// speaks plaintext HTTP over the now-decrypted channel); otherwise the
// connection is wrapped by crypto/tls for ordinary SNI/X.509 TLS.
type sniffingListener struct {
	net.Listener
	srv    *Server
	tlsCfg *tls.Config
}

func (l *sniffingListener) Accept() (net.Conn, error) {
	for {
		raw, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		peek, offersPSK, err := pskhandshake.Sniff(raw, pskhandshake.CipherSuitePSKAES128CBCSHA256)
		if err != nil {
			_ = raw.Close()
			continue
		}

		if offersPSK && l.srv.psk != nil {
			conn := pskhandshake.Server(peek, l.srv.psk)
			return conn, nil
		}
		return tls.Server(peek, l.tlsCfg), nil
	}
}
