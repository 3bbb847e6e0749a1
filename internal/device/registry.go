// Package device holds the roster of impersonated devices and the lookups
// the HTTP, MQTT and TLS-PSK layers use to resolve a device identity.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"cloudcutter/internal/cctrerr"
)

// Device is one impersonated device's identity and session state.
type Device struct {
	UUID         string
	AuthKey      []byte // 32 ASCII bytes
	PSK          []byte // 64 ASCII bytes
	PSKID        []byte // sha256(uuid), 32 bytes, fixed at construction
	FirmwarePath string

	// EncryptionType and AESKey are mutated per-request by GetForRequest;
	// callers on the same device's request path never run concurrently.
	EncryptionType int
	AESKey         []byte
}

// New builds a Device and derives its PSK-id.
func New(uuid, authKey, psk, firmwarePath string) *Device {
	sum := sha256.Sum256([]byte(uuid))
	return &Device{
		UUID:         uuid,
		AuthKey:      []byte(authKey),
		PSK:          []byte(psk),
		PSKID:        sum[:],
		FirmwarePath: firmwarePath,
	}
}

// ActiveKey is auth_key[0:16], the key used by AES regardless of view.
func (d *Device) ActiveKey() []byte {
	if len(d.AuthKey) > 16 {
		return d.AuthKey[:16]
	}
	return d.AuthKey
}

// Registry is the shared, immutable-membership set of configured devices.
type Registry struct {
	mu      sync.RWMutex
	byUUID  map[string]*Device
	byPSKID map[string]*Device
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUUID:  make(map[string]*Device),
		byPSKID: make(map[string]*Device),
	}
}

// Add registers a device. Call before the servers start; not safe to call
// concurrently with lookups.
func (r *Registry) Add(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUUID[d.UUID] = d
	r.byPSKID[hex.EncodeToString(d.PSKID)] = d
}

// GetByUUID looks a device up by its uuid.
func (r *Registry) GetByUUID(uuid string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("uuid %q: %w", uuid, cctrerr.ErrDeviceNotFound)
	}
	return d, nil
}

// GetByPSKID looks a device up by its derived psk_id.
func (r *Registry) GetByPSKID(pskID []byte) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byPSKID[hex.EncodeToString(pskID)]
	if !ok {
		return nil, fmt.Errorf("psk_id %x: %w", pskID, cctrerr.ErrDeviceNotFound)
	}
	return d, nil
}

// GetForRequest resolves a device from an HTTP request's query parameters:
// "uuid" (current) or legacy "devid", plus an optional "et" encryption
// type. It sets the device's EncryptionType and AESKey view as a side
// effect, matching the original active-key semantics (full auth key for
// "uuid" lookups, the 16-byte prefix for "devid" ones).
func (r *Registry) GetForRequest(query map[string]string) (*Device, error) {
	et := 0
	if s := query["et"]; s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			et = n
		}
	}

	if uuid := query["uuid"]; uuid != "" {
		d, err := r.GetByUUID(uuid)
		if err != nil {
			return nil, err
		}
		d.EncryptionType = et
		d.AESKey = d.AuthKey
		return d, nil
	}

	if devid := query["devid"]; devid != "" {
		d, err := r.GetByUUID(devid)
		if err != nil {
			return nil, err
		}
		d.EncryptionType = et
		d.AESKey = d.ActiveKey()
		return d, nil
	}

	return nil, fmt.Errorf("request has no uuid or devid: %w", cctrerr.ErrDeviceNotFound)
}

// CalcPSKV1 handles length-50 PSK-v1 identities. The protocol is not
// supported upstream; callers must treat the returned error as "decline",
// not as a fatal handshake error.
func (r *Registry) CalcPSKV1(identity []byte) ([]byte, error) {
	return nil, fmt.Errorf("psk v1: %w", cctrerr.ErrUnsupported)
}

// CalcPSKV2 handles length-49 PSK-v2 identities: bytes [17:49) are a
// psk_id looked up in the registry.
func (r *Registry) CalcPSKV2(identity []byte) ([]byte, error) {
	if len(identity) != 49 {
		return nil, fmt.Errorf("psk v2 identity length %d: %w", len(identity), cctrerr.ErrProtocolParse)
	}
	d, err := r.GetByPSKID(identity[17:49])
	if err != nil {
		return nil, err
	}
	return d.PSK, nil
}

// CalcPSKOpenSSL strips an optional "0x" prefix, hex-decodes the identity,
// and dispatches on its leading type byte to v1 (0x01) or v2 (0x02).
func (r *Registry) CalcPSKOpenSSL(identity []byte) ([]byte, error) {
	s := strings.TrimPrefix(string(identity), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("openssl identity not hex: %w", cctrerr.ErrProtocolParse)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty openssl identity: %w", cctrerr.ErrProtocolParse)
	}

	switch raw[0] {
	case 0x01:
		return r.CalcPSKV1(raw)
	case 0x02:
		return r.CalcPSKV2(raw)
	default:
		return nil, fmt.Errorf("openssl identity type 0x%02x: %w", raw[0], cctrerr.ErrUnsupported)
	}
}

var openSSLIdentityRe = regexp.MustCompile(`^0x[0-9A-Fa-f]+$`)

// ResolvePSK dispatches a raw PSK identity to whichever of the
// CalcPSK{V1,V2,OpenSSL} trio matches its shape, mirroring the three
// add_ssl_psk registrations in the original server core: an ASCII
// "0x"-prefixed hex string goes to the OpenSSL path, anything starting
// with byte 0x01 or 0x02 goes to the v1/v2 binary paths directly. It
// satisfies httpserver.PSKResolver and pskhandshake.IdentityResolver.
func (r *Registry) ResolvePSK(identity []byte) ([]byte, bool) {
	var (
		key []byte
		err error
	)
	switch {
	case openSSLIdentityRe.Match(identity):
		key, err = r.CalcPSKOpenSSL(identity)
	case len(identity) > 0 && identity[0] == 0x01:
		key, err = r.CalcPSKV1(identity)
	case len(identity) > 0 && identity[0] == 0x02:
		key, err = r.CalcPSKV2(identity)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return key, true
}
