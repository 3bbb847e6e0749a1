package pskhandshake

import (
	"encoding/binary"
	"io"
	"net"
)

// PeekConn replays a buffered prefix before falling through to the
// wrapped net.Conn's own Read. Sniff returns one of these so whichever
// handshake engine runs next (this package, or crypto/tls) sees the same
// ClientHello bytes from the start.
type PeekConn struct {
	net.Conn
	buf []byte
}

func (p *PeekConn) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

// Sniff reads the first TLS record off raw (almost always the whole
// ClientHello, which real TLS clients send in a single record) and
// reports whether it offers targetSuite. It returns a PeekConn that
// replays the consumed bytes, so the caller can still hand the
// connection to a full handshake implementation afterward.
func Sniff(raw net.Conn, targetSuite uint16) (*PeekConn, bool, error) {
	var header [5]byte
	if _, err := io.ReadFull(raw, header[:]); err != nil {
		return nil, false, err
	}

	if header[0] != contentTypeHandshake {
		return &PeekConn{Conn: raw, buf: append([]byte{}, header[:]...)}, false, nil
	}

	length := binary.BigEndian.Uint16(header[3:5])
	payload := make([]byte, length)
	if _, err := io.ReadFull(raw, payload); err != nil {
		return nil, false, err
	}

	full := append(append([]byte{}, header[:]...), payload...)
	peek := &PeekConn{Conn: raw, buf: full}

	if len(payload) < 4 || payload[0] != handshakeClientHello {
		return peek, false, nil
	}
	hsLen := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	body := payload[4:]
	if hsLen > len(body) {
		return peek, false, nil
	}
	body = body[:hsLen]

	_, suites, err := parseClientHello(body)
	if err != nil {
		return peek, false, nil
	}
	return peek, suitesContain(suites, targetSuite), nil
}
