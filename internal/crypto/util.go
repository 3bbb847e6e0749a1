package crypto

import (
	"encoding/base64"
	"encoding/hex"
)

func base64Encode(b []byte) string          { return base64.StdEncoding.EncodeToString(b) }
func base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
func hexEncode(b []byte) string             { return hex.EncodeToString(b) }
func hexDecode(s string) ([]byte, error)    { return hex.DecodeString(s) }
