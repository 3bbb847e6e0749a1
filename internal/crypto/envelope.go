// Package crypto implements the device envelope: the AES wire format and
// signature schemes that wrap every HTTP and MQTT payload exchanged with an
// impersonated device.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"cloudcutter/internal/cctrerr"
)

// Encryption types, keyed per-device.
const (
	EncryptionNone = 0
	EncryptionECB  = 1
	EncryptionGCM  = 3
)

// MQTT envelope protocol tags.
const (
	MQTTProtocol21 = "2.1"
	MQTTProtocol22 = "2.2"
)

// RandReader supplies the GCM IV. Overridden in tests for determinism.
var RandReader io.Reader = rand.Reader

// EncryptWire produces the on-wire bytes for the given encryption type:
// raw AES-128-ECB+PKCS7 ciphertext for EncryptionECB, or
// IV||ciphertext||tag for EncryptionGCM.
func EncryptWire(encType int, aesKey, plaintext []byte) ([]byte, error) {
	key := keyView(aesKey)

	switch encType {
	case EncryptionECB:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
		padded := pkcs7Pad(plaintext, aes.BlockSize)
		out := make([]byte, len(padded))
		ecbEncrypt(block, out, padded)
		return out, nil

	case EncryptionGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("gcm: %w", err)
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(RandReader, nonce); err != nil {
			return nil, fmt.Errorf("iv: %w", err)
		}
		sealed := gcm.Seal(nil, nonce, plaintext, nil)
		return append(nonce, sealed...), nil

	default:
		return nil, fmt.Errorf("encryption type %d: %w", encType, cctrerr.ErrUnsupported)
	}
}

// DecryptWire reverses EncryptWire.
func DecryptWire(encType int, aesKey, wire []byte) ([]byte, error) {
	key := keyView(aesKey)

	switch encType {
	case EncryptionECB:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
		if len(wire) == 0 || len(wire)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("ecb ciphertext length %d: %w", len(wire), cctrerr.ErrProtocolParse)
		}
		padded := make([]byte, len(wire))
		ecbDecrypt(block, padded, wire)
		return pkcs7Unpad(padded)

	case EncryptionGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("gcm: %w", err)
		}
		if len(wire) < gcm.NonceSize() {
			return nil, fmt.Errorf("gcm wire too short: %w", cctrerr.ErrProtocolParse)
		}
		nonce, sealed := wire[:gcm.NonceSize()], wire[gcm.NonceSize():]
		plain, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, fmt.Errorf("gcm open: %w", cctrerr.ErrProtocolParse)
		}
		return plain, nil

	default:
		return nil, fmt.Errorf("encryption type %d: %w", encType, cctrerr.ErrUnsupported)
	}
}

// EncryptHTTPResult wraps payload (the device-visible "result" value) in the
// {"success":true,"t":t,"result":payload} envelope, encrypts it per encType,
// and returns the JSON-ready response object
// {"result": base64(wire), "t": t, "sign": sig}.
func EncryptHTTPResult(encType int, aesKey []byte, payload any, now time.Time) (map[string]any, error) {
	t := now.Unix()
	inner, err := json.Marshal(map[string]any{
		"success": true,
		"t":       t,
		"result":  payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope body: %w", err)
	}

	wire, err := EncryptWire(encType, aesKey, inner)
	if err != nil {
		return nil, err
	}

	b64 := base64Encode(wire)
	sign := httpSignature(b64, t, aesKey)
	return map[string]any{
		"result": b64,
		"t":      t,
		"sign":   sign,
	}, nil
}

// DecryptHTTPRequest decodes the hex wire form carried in a request's "data"
// field and returns the parsed JSON object.
func DecryptHTTPRequest(encType int, aesKey []byte, dataHex string) (map[string]any, error) {
	wire, err := hexDecode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("data field not hex: %w", cctrerr.ErrProtocolParse)
	}
	plain, err := DecryptWire(encType, aesKey, wire)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(plain, &obj); err != nil {
		return nil, fmt.Errorf("decrypted body not json: %w", cctrerr.ErrProtocolParse)
	}
	return obj, nil
}

// httpSignature computes MD5("result="||b64||"||t="||t||"||"||aesKey).hex()[8:24].
func httpSignature(b64 string, t int64, aesKey []byte) string {
	msg := fmt.Sprintf("result=%s||t=%d||%s", b64, t, string(aesKey))
	sum := md5.Sum([]byte(msg))
	return hexEncode(sum[:])[8:24]
}

// EncryptMQTT wraps payload as a device-bound MQTT message under the given
// protocol tag ("2.1" or "2.2"). The caller owns topic construction.
func EncryptMQTT(protocol string, aesKey []byte, payload map[string]any, now time.Time) ([]byte, error) {
	obj := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		obj[k] = v
	}
	obj["t"] = now.Unix()

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal mqtt body: %w", err)
	}

	key := keyView(aesKey)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	ecbEncrypt(block, ciphertext, padded)

	switch protocol {
	case MQTTProtocol21:
		b64 := []byte(base64Encode(ciphertext))
		msg := append([]byte("data="), b64...)
		msg = append(msg, []byte("||pv="+protocol+"||")...)
		msg = append(msg, key...)
		sum := md5.Sum(msg)
		sign := []byte(hexEncode(sum[:])[8:24])

		out := make([]byte, 0, 3+len(sign)+len(b64))
		out = append(out, []byte(protocol)...)
		out = append(out, sign...)
		out = append(out, b64...)
		return out, nil

	case MQTTProtocol22:
		centis := (now.UnixNano() / 1e7) % 100_000_000
		timestamp := []byte(fmt.Sprintf("%08d", centis))
		body := append(append([]byte{}, timestamp...), ciphertext...)
		sum := crc32.ChecksumIEEE(body)
		sign := make([]byte, 4)
		binary.BigEndian.PutUint32(sign, sum)

		out := make([]byte, 0, 3+len(sign)+len(body))
		out = append(out, []byte(protocol)...)
		out = append(out, sign...)
		out = append(out, body...)
		return out, nil

	default:
		return nil, fmt.Errorf("mqtt protocol %q: %w", protocol, cctrerr.ErrUnsupported)
	}
}

// DecryptMQTT reverses EncryptMQTT (and tolerates cleartext messages, which
// carry neither tag). data is the MQTT payload with the topic already
// stripped off by the caller.
func DecryptMQTT(aesKey []byte, data []byte) (map[string]any, error) {
	var ciphertext []byte
	cleartext := false

	switch {
	case len(data) >= 19 && string(data[0:3]) == MQTTProtocol21:
		var err error
		ciphertext, err = base64Decode(string(data[19:]))
		if err != nil {
			return nil, fmt.Errorf("mqtt 2.1 body not base64: %w", cctrerr.ErrProtocolParse)
		}
	case len(data) >= 15 && string(data[0:3]) == MQTTProtocol22:
		ciphertext = data[15:]
	default:
		cleartext = true
	}

	var plain []byte
	if cleartext {
		plain = data
	} else {
		key := keyView(aesKey)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
		if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("mqtt ciphertext length %d: %w", len(ciphertext), cctrerr.ErrProtocolParse)
		}
		padded := make([]byte, len(ciphertext))
		ecbDecrypt(block, padded, ciphertext)
		plain, err = pkcs7Unpad(padded)
		if err != nil {
			return nil, err
		}
	}

	var obj map[string]any
	if err := json.Unmarshal(plain, &obj); err != nil {
		return nil, fmt.Errorf("mqtt body not json: %w", cctrerr.ErrProtocolParse)
	}
	return obj, nil
}

// keyView returns the first 16 bytes of aesKey, matching device.active_key's
// ASCII-prefix semantics; AES-128 never uses more than that.
func keyView(aesKey []byte) []byte {
	if len(aesKey) > 16 {
		return aesKey[:16]
	}
	return aesKey
}

func ecbEncrypt(block cipher.Block, dst, src []byte) {
	bs := block.BlockSize()
	for len(src) > 0 {
		block.Encrypt(dst, src[:bs])
		src = src[bs:]
		dst = dst[bs:]
	}
}

func ecbDecrypt(block cipher.Block, dst, src []byte) {
	bs := block.BlockSize()
	for len(src) > 0 {
		block.Decrypt(dst, src[:bs])
		src = src[bs:]
		dst = dst[bs:]
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty padded data: %w", cctrerr.ErrProtocolParse)
	}
	pad := int(data[len(data)-1])
	if pad <= 0 || pad > len(data) {
		return nil, fmt.Errorf("invalid pkcs7 padding: %w", cctrerr.ErrProtocolParse)
	}
	return data[:len(data)-pad], nil
}
