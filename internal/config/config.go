// Package config decodes the HCL configuration tree that drives both the
// impersonation server and the provisioning client.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the root of the decoded configuration file.
type Config struct {
	Network  NetworkConfig   `hcl:"network,block"`
	Devices  []DeviceConfig  `hcl:"device,block"`
	Schema   SchemaConfig    `hcl:"schema,block"`
	HTTP     HTTPConfig      `hcl:"http,block"`
	DNS      DNSConfig       `hcl:"dns,block"`
	DHCP     DHCPConfig      `hcl:"dhcp,block"`
	MQTT     MQTTConfig      `hcl:"mqtt,block"`
	Wifi     *WifiConfig     `hcl:"wifi,block"`
}

// NetworkConfig describes the virtual-cloud network the impersonation
// server advertises to devices (§6).
type NetworkConfig struct {
	Interface string `hcl:"interface"`
	Address   string `hcl:"address"`          // e.g. "10.42.42.1/24"
	RangeFrom string `hcl:"range_from,optional"`
	RangeTo   string `hcl:"range_to,optional"`
}

// DeviceConfig is one entry in the device roster.
type DeviceConfig struct {
	UUID         string `hcl:"uuid,label"`
	AuthKey      string `hcl:"auth_key"`
	PSK          string `hcl:"psk,optional"`
	FirmwarePath string `hcl:"firmware_path,optional"`
}

// SchemaConfig points at the directory of schema-replay fixtures (§5).
type SchemaConfig struct {
	Dir string `hcl:"dir"`
}

// SslCertConfig is one entry in HTTPConfig's ordered certificate list
// (§3 SslCertEntry): IdentityPattern is matched against SNI server names.
// PSKKey is decoded but not used; PSK connections get their keys from the
// device registry.
type SslCertConfig struct {
	IdentityPattern string `hcl:"identity_pattern,label"`
	CertFile        string `hcl:"cert_file,optional"`
	KeyFile         string `hcl:"key_file,optional"`
	PSKKey          string `hcl:"psk_key,optional"`
}

// HTTPConfig configures the plaintext and TLS (X.509 + PSK) listeners.
type HTTPConfig struct {
	ListenAddr      string          `hcl:"listen_addr,optional"`
	TLSListenAddr   string          `hcl:"tls_listen_addr,optional"`
	Certs           []SslCertConfig `hcl:"ssl_cert,block"`
}

// DNSConfig configures the authoritative/upstream-forwarding DNS server.
type DNSConfig struct {
	ListenAddr   string        `hcl:"listen_addr,optional"`
	UpstreamAddr string        `hcl:"upstream_addr,optional"`
	Timeout      time.Duration `hcl:"timeout,optional"`
}

// DHCPConfig configures the single virtual-cloud DHCP scope.
type DHCPConfig struct {
	ListenAddr string `hcl:"listen_addr,optional"`
}

// MQTTConfig configures the in-process broker's listener.
type MQTTConfig struct {
	ListenAddr string `hcl:"listen_addr,optional"`
}

// WifiConfig (optional) names the wireless interface the impersonate
// command's orchestrator uses for its access point in place of
// network.interface. SSIDPattern is decoded but not read by any command.
type WifiConfig struct {
	SSIDPattern string `hcl:"ssid_pattern,optional"`
	Interface   string `hcl:"interface"`
}

// Load reads and decodes an HCL config file, filling in defaults for
// every optional field left unset.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":80"
	}
	if cfg.HTTP.TLSListenAddr == "" {
		cfg.HTTP.TLSListenAddr = ":443"
	}
	if cfg.DNS.ListenAddr == "" {
		cfg.DNS.ListenAddr = ":53"
	}
	if cfg.DNS.Timeout == 0 {
		cfg.DNS.Timeout = 2 * time.Second
	}
	if cfg.DHCP.ListenAddr == "" {
		cfg.DHCP.ListenAddr = ":67"
	}
	if cfg.MQTT.ListenAddr == "" {
		cfg.MQTT.ListenAddr = ":1883"
	}
}

func validate(cfg *Config) error {
	if cfg.Network.Interface == "" {
		return fmt.Errorf("network.interface is required")
	}
	if _, _, err := net.ParseCIDR(cfg.Network.Address); err != nil {
		return fmt.Errorf("network.address: %w", err)
	}
	for _, d := range cfg.Devices {
		if d.UUID == "" || d.AuthKey == "" {
			return fmt.Errorf("device entries require uuid and auth_key")
		}
	}
	if cfg.Schema.Dir != "" {
		if info, err := os.Stat(cfg.Schema.Dir); err != nil || !info.IsDir() {
			return fmt.Errorf("schema.dir %q is not a directory", cfg.Schema.Dir)
		}
	}
	return nil
}
