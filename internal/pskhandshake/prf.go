package pskhandshake

import (
	"crypto/hmac"
	"crypto/sha256"
)

// pHash is the P_hash function of RFC 5246 §5, instantiated with HMAC-SHA256.
func pHash(secret, seed []byte, length int) []byte {
	out := make([]byte, 0, length)

	h := hmac.New(sha256.New, secret)
	h.Write(seed)
	a := h.Sum(nil)

	for len(out) < length {
		h := hmac.New(sha256.New, secret)
		h.Write(a)
		h.Write(seed)
		out = append(out, h.Sum(nil)...)

		h = hmac.New(sha256.New, secret)
		h.Write(a)
		a = h.Sum(nil)
	}
	return out[:length]
}

// prf12 is the TLS 1.2 PRF (RFC 5246 §5): PRF(secret, label, seed) with
// SHA-256 as the sole hash (every TLS 1.2 cipher suite defaults to SHA-256
// unless its name specifies otherwise; ours doesn't).
func prf12(secret []byte, label string, seed []byte, length int) []byte {
	full := make([]byte, 0, len(label)+len(seed))
	full = append(full, []byte(label)...)
	full = append(full, seed...)
	return pHash(secret, full, length)
}

// pskPremasterSecret builds RFC 4279's premaster secret for a pure-PSK
// exchange (no other key-exchange algorithm contributes key material):
// uint16(N) || zeros(N) || uint16(N) || psk, where N = len(psk).
func pskPremasterSecret(psk []byte) []byte {
	n := len(psk)
	out := make([]byte, 0, 4+2*n)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, make([]byte, n)...)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, psk...)
	return out
}
