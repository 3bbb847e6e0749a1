// Package pskhandshake implements just enough of TLS 1.2 (RFC 5246) and
// the PSK key exchange (RFC 4279/5487) to terminate the single cipher
// suite Tuya devices actually offer, TLS_PSK_WITH_AES_128_CBC_SHA256.
// Go's standard crypto/tls deliberately implements no PSK-only cipher
// suite, so the httpserver's TLS listener falls back to this package for
// any ClientHello that offers it, and to crypto/tls for everything else.
package pskhandshake

const (
	contentTypeChangeCipherSpec = 20
	contentTypeAlert            = 21
	contentTypeHandshake        = 22
	contentTypeApplicationData  = 23

	versionTLS12 = 0x0303

	handshakeClientHello       = 1
	handshakeServerHello       = 2
	handshakeServerKeyExchange = 12
	handshakeServerHelloDone   = 14
	handshakeClientKeyExchange = 16
	handshakeFinished          = 20

	// CipherSuitePSKAES128CBCSHA256 is TLS_PSK_WITH_AES_128_CBC_SHA256 (RFC 5487).
	CipherSuitePSKAES128CBCSHA256 uint16 = 0x00AE

	macKeyLen = 32 // HMAC-SHA256
	encKeyLen = 16 // AES-128
	blockSize = 16
	verifyLen = 12 // Finished.verify_data length
)

// IdentityResolver returns the PSK bound to a ClientKeyExchange's psk_identity,
// or ok=false to abort the handshake.
type IdentityResolver func(identity []byte) (key []byte, ok bool)
