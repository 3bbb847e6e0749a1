package apcfg

import (
	"crypto/rand"
	"math/big"
)

const licenseAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomASCII(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(licenseAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = licenseAlphabet[n.Int64()]
	}
	return string(out), nil
}

// GenerateLicense produces a fresh uuid/auth_key/psk triple of the
// shape a real Tuya device license carries: a 12-character uuid, a
// 16-character auth key, and a 32-character PSK identity, all drawn
// from the same alphanumeric alphabet.
func GenerateLicense() (uuid, authKey, psk string, err error) {
	uuid, err = randomASCII(12)
	if err != nil {
		return "", "", "", err
	}
	authKey, err = randomASCII(16)
	if err != nil {
		return "", "", "", err
	}
	psk, err = randomASCII(32)
	if err != nil {
		return "", "", "", err
	}
	return uuid, authKey, psk, nil
}
