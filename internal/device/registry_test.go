package device

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcutter/internal/cctrerr"
)

func newTestRegistry() (*Registry, *Device) {
	r := NewRegistry()
	d := New("abcd1234abcd1234", "0123456789abcdef0123456789abcdef", "p"+string(make([]byte, 63)), "/tmp/fw.bin")
	r.Add(d)
	return r, d
}

func TestDeviceActiveKeyIsFirst16Bytes(t *testing.T) {
	d := New("uuid0000000000001", "0123456789abcdefXXXXXXXXXXXXXXXX", "psk", "")
	assert.Equal(t, []byte("0123456789abcdef"), d.ActiveKey())
}

func TestDevicePSKIDIsSHA256OfUUID(t *testing.T) {
	d := New("abcd1234abcd1234", "key", "psk", "")
	assert.Len(t, d.PSKID, 32)

	d2 := New("abcd1234abcd1234", "different-key", "different-psk", "")
	assert.Equal(t, d.PSKID, d2.PSKID)
}

func TestGetByUUIDNotFound(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.GetByUUID("nope")
	assert.ErrorIs(t, err, cctrerr.ErrDeviceNotFound)
}

func TestGetForRequestByUUIDUsesFullAuthKey(t *testing.T) {
	r, d := newTestRegistry()
	got, err := r.GetForRequest(map[string]string{"uuid": d.UUID, "et": "3"})
	require.NoError(t, err)
	assert.Same(t, d, got)
	assert.Equal(t, d.AuthKey, got.AESKey)
	assert.Equal(t, 3, got.EncryptionType)
}

func TestGetForRequestByDevIDUsesActiveKey(t *testing.T) {
	r, d := newTestRegistry()
	got, err := r.GetForRequest(map[string]string{"devid": d.UUID})
	require.NoError(t, err)
	assert.Equal(t, d.ActiveKey(), got.AESKey)
	assert.Equal(t, 0, got.EncryptionType)
}

func TestGetForRequestMissingIdentifier(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.GetForRequest(map[string]string{})
	assert.ErrorIs(t, err, cctrerr.ErrDeviceNotFound)
}

func TestCalcPSKV1IsUnsupported(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.CalcPSKV1(make([]byte, 50))
	assert.ErrorIs(t, err, cctrerr.ErrUnsupported)
}

func TestCalcPSKV2ResolvesByPSKID(t *testing.T) {
	r, d := newTestRegistry()
	identity := make([]byte, 49)
	copy(identity[17:49], d.PSKID)

	psk, err := r.CalcPSKV2(identity)
	require.NoError(t, err)
	assert.Equal(t, d.PSK, psk)
}

func TestCalcPSKV2RejectsWrongLength(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.CalcPSKV2(make([]byte, 10))
	assert.ErrorIs(t, err, cctrerr.ErrProtocolParse)
}

func TestCalcPSKOpenSSLDispatchesV2(t *testing.T) {
	r, d := newTestRegistry()
	raw := append([]byte{0x02}, make([]byte, 48)...)
	copy(raw[17:49], d.PSKID)
	identity := "0x" + hex.EncodeToString(raw)

	psk, err := r.CalcPSKOpenSSL([]byte(identity))
	require.NoError(t, err)
	assert.Equal(t, d.PSK, psk)
}

func TestCalcPSKOpenSSLUnknownType(t *testing.T) {
	r, _ := newTestRegistry()
	identity := "0x" + hex.EncodeToString([]byte{0xff, 0x01, 0x02})
	_, err := r.CalcPSKOpenSSL([]byte(identity))
	assert.ErrorIs(t, err, cctrerr.ErrUnsupported)
}

func TestResolvePSKDispatchesOpenSSLIdentity(t *testing.T) {
	r, d := newTestRegistry()
	raw := append([]byte{0x02}, make([]byte, 48)...)
	copy(raw[17:49], d.PSKID)
	identity := "0x" + hex.EncodeToString(raw)

	psk, ok := r.ResolvePSK([]byte(identity))
	assert.True(t, ok)
	assert.Equal(t, d.PSK, psk)
}

func TestResolvePSKDispatchesV2Identity(t *testing.T) {
	r, d := newTestRegistry()
	identity := make([]byte, 49)
	identity[0] = 0x02
	copy(identity[17:49], d.PSKID)

	psk, ok := r.ResolvePSK(identity)
	assert.True(t, ok)
	assert.Equal(t, d.PSK, psk)
}

func TestResolvePSKUnrecognizedIdentity(t *testing.T) {
	r, _ := newTestRegistry()
	_, ok := r.ResolvePSK([]byte("garbage"))
	assert.False(t, ok)
}
