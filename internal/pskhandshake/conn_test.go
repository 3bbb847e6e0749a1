package pskhandshake

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient is a minimal client-side driver for our single cipher
// suite, used only to exercise Conn's server side end-to-end over a
// net.Pipe without any real TLS library on either end.
type testClient struct {
	*recordLayer
	transcript   []byte
	clientRandom [32]byte
	serverRandom [32]byte
	masterSecret []byte
}

func (c *testClient) writeHandshakeMessage(msgType byte, body []byte) error {
	header := []byte{msgType, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	full := append(header, body...)
	c.transcript = append(c.transcript, full...)
	return c.writeRecord(contentTypeHandshake, full)
}

func (c *testClient) readHandshakeMessage() (byte, []byte, error) {
	ct, payload, err := c.readRecord()
	if err != nil {
		return 0, nil, err
	}
	if ct != contentTypeHandshake {
		return 0, nil, io.ErrUnexpectedEOF
	}
	msgType := payload[0]
	length := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	body := payload[4 : 4+length]
	c.transcript = append(c.transcript, payload[:4+length]...)
	return msgType, body, nil
}

func (c *testClient) clientHandshake(identity []byte) error {
	if _, err := rand.Read(c.clientRandom[:]); err != nil {
		return err
	}

	ch := make([]byte, 0, 64)
	ch = append(ch, byte(versionTLS12>>8), byte(versionTLS12))
	ch = append(ch, c.clientRandom[:]...)
	ch = append(ch, 0) // session id
	ch = append(ch, 0, 2, byte(CipherSuitePSKAES128CBCSHA256>>8), byte(CipherSuitePSKAES128CBCSHA256))
	ch = append(ch, 1, 0) // compression methods: [null]
	if err := c.writeHandshakeMessage(handshakeClientHello, ch); err != nil {
		return err
	}

	msgType, body, err := c.readHandshakeMessage()
	if err != nil {
		return err
	}
	if msgType != handshakeServerHello {
		return io.ErrUnexpectedEOF
	}
	copy(c.serverRandom[:], body[2:34])

	if msgType, _, err = c.readHandshakeMessage(); err != nil || msgType != handshakeServerKeyExchange {
		return io.ErrUnexpectedEOF
	}
	if msgType, _, err = c.readHandshakeMessage(); err != nil || msgType != handshakeServerHelloDone {
		return io.ErrUnexpectedEOF
	}

	cke := make([]byte, 0, 2+len(identity))
	cke = append(cke, byte(len(identity)>>8), byte(len(identity)))
	cke = append(cke, identity...)
	if err := c.writeHandshakeMessage(handshakeClientKeyExchange, cke); err != nil {
		return err
	}

	return nil
}

func (c *testClient) finishHandshake(psk []byte) error {
	premaster := pskPremasterSecret(psk)
	masterSeed := append(append([]byte{}, c.clientRandom[:]...), c.serverRandom[:]...)
	c.masterSecret = prf12(premaster, "master secret", masterSeed, 48)

	keyBlockSeed := append(append([]byte{}, c.serverRandom[:]...), c.clientRandom[:]...)
	keyBlock := prf12(c.masterSecret, "key expansion", keyBlockSeed, 2*macKeyLen+2*encKeyLen)
	off := 0
	clientMAC := keyBlock[off : off+macKeyLen]
	off += macKeyLen
	serverMAC := keyBlock[off : off+macKeyLen]
	off += macKeyLen
	clientKey := keyBlock[off : off+encKeyLen]
	off += encKeyLen
	serverKey := keyBlock[off : off+encKeyLen]

	c.writeMACKey, c.writeEncKey = clientMAC, clientKey
	c.readMACKey, c.readEncKey = serverMAC, serverKey

	if err := c.writeRecord(contentTypeChangeCipherSpec, []byte{1}); err != nil {
		return err
	}
	c.writeActive = true

	clientVerify := prf12(c.masterSecret, "client finished", sha256Sum(c.transcript), verifyLen)
	if err := c.writeHandshakeMessage(handshakeFinished, clientVerify); err != nil {
		return err
	}

	ct, payload, err := c.readRecord()
	if err != nil {
		return err
	}
	if ct != contentTypeChangeCipherSpec || len(payload) != 1 || payload[0] != 1 {
		return io.ErrUnexpectedEOF
	}
	c.readActive = true

	msgType, _, err := c.readHandshakeMessage()
	if err != nil {
		return err
	}
	if msgType != handshakeFinished {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func TestPSKHandshakeAndApplicationData(t *testing.T) {
	psk := []byte("0123456789abcdef0123456789abcdef")
	identity := []byte("device-49-byte-psk-identity-placeholder----------")

	serverSide, clientSide := net.Pipe()
	resolver := func(got []byte) ([]byte, bool) {
		return psk, bytes.Equal(got, identity)
	}
	srv := Server(serverSide, resolver)
	cli := &testClient{recordLayer: newRecordLayer(clientSide)}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Handshake() }()

	require.NoError(t, cli.clientHandshake(identity))
	require.NoError(t, cli.finishHandshake(psk))
	require.NoError(t, <-serverErr)

	assert.Equal(t, identity, srv.Identity())

	clientAppErr := make(chan error, 1)
	go func() {
		_, err := srv.Write([]byte("hello from server"))
		clientAppErr <- err
	}()

	ct, payload, err := cli.readRecord()
	require.NoError(t, err)
	assert.Equal(t, byte(contentTypeApplicationData), ct)
	assert.Equal(t, "hello from server", string(payload))
	require.NoError(t, <-clientAppErr)
}

func TestPSKHandshakeRejectsUnknownIdentity(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	resolver := func(got []byte) ([]byte, bool) { return nil, false }
	srv := Server(serverSide, resolver)
	cli := &testClient{recordLayer: newRecordLayer(clientSide)}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Handshake() }()

	require.NoError(t, cli.clientHandshake([]byte("unknown-identity")))
	assert.Error(t, <-serverErr)
}

func TestSniffDetectsOfferedSuite(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	cli := &testClient{recordLayer: newRecordLayer(clientSide)}

	go func() {
		_, _ = rand.Read(cli.clientRandom[:])
		ch := make([]byte, 0, 64)
		ch = append(ch, byte(versionTLS12>>8), byte(versionTLS12))
		ch = append(ch, cli.clientRandom[:]...)
		ch = append(ch, 0)
		ch = append(ch, 0, 2, byte(CipherSuitePSKAES128CBCSHA256>>8), byte(CipherSuitePSKAES128CBCSHA256))
		ch = append(ch, 1, 0)
		_ = cli.writeHandshakeMessage(handshakeClientHello, ch)
	}()

	_, offered, err := Sniff(serverSide, CipherSuitePSKAES128CBCSHA256)
	require.NoError(t, err)
	assert.True(t, offered)
}

func TestSeqBytesBigEndian(t *testing.T) {
	got := seqBytes(1)
	want := make([]byte, 8)
	binary.BigEndian.PutUint64(want, 1)
	assert.Equal(t, want, got)
}
