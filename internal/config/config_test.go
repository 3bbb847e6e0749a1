package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
network {
  interface  = "eth0"
  address    = "10.42.42.1/24"
  range_from = "10.42.42.10"
  range_to   = "10.42.42.250"
}

device "aabbccddeeff00112233" {
  auth_key      = "0123456789abcdef"
  psk           = "fedcba9876543210"
  firmware_path = "/tmp/fw.bin"
}

schema {
  dir = "%s"
}

http {
  ssl_cert "*.tuyaus.com" {
    cert_file = "certs/tuyaus.pem"
    key_file  = "certs/tuyaus.key"
  }
}

dns {
  upstream_addr = "8.8.8.8:53"
}

dhcp {}

mqtt {}
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "schema"), 0o755))
	schemaDir := filepath.Join(dir, "schema")
	path := filepath.Join(dir, "cloudcutter.hcl")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(sampleHCL, schemaDir)), 0o644))
	return path
}

func TestLoadDecodesAndFillsDefaults(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Network.Interface)
	assert.Equal(t, "10.42.42.1/24", cfg.Network.Address)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, "aabbccddeeff00112233", cfg.Devices[0].UUID)
	assert.Equal(t, "0123456789abcdef", cfg.Devices[0].AuthKey)
	require.Len(t, cfg.HTTP.Certs, 1)
	assert.Equal(t, "*.tuyaus.com", cfg.HTTP.Certs[0].IdentityPattern)

	assert.Equal(t, ":80", cfg.HTTP.ListenAddr)
	assert.Equal(t, ":443", cfg.HTTP.TLSListenAddr)
	assert.Equal(t, ":53", cfg.DNS.ListenAddr)
	assert.Equal(t, ":67", cfg.DHCP.ListenAddr)
	assert.Equal(t, ":1883", cfg.MQTT.ListenAddr)
}

func TestLoadRejectsMissingInterface(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
network {
  address = "10.42.42.1/24"
}
schema { dir = "`+dir+`" }
http {}
dns {}
dhcp {}
mqtt {}
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadCIDR(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
network {
  interface = "eth0"
  address   = "not-a-cidr"
}
schema { dir = "`+dir+`" }
http {}
dns {}
dhcp {}
mqtt {}
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
