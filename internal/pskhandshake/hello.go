package pskhandshake

import "fmt"

// parseClientHello extracts the fields this package needs from a
// ClientHello body: its random nonce and offered cipher suites. Session
// ID, compression methods and extensions are skipped — PSK identity
// resolution happens later, from ClientKeyExchange, not SNI.
func parseClientHello(body []byte) (random [32]byte, suites []uint16, err error) {
	if len(body) < 34 {
		return random, nil, fmt.Errorf("pskhandshake: client hello too short")
	}
	copy(random[:], body[2:34])
	i := 34

	if i >= len(body) {
		return random, nil, fmt.Errorf("pskhandshake: client hello truncated at session id")
	}
	sessionIDLen := int(body[i])
	i++
	i += sessionIDLen
	if i+2 > len(body) {
		return random, nil, fmt.Errorf("pskhandshake: client hello truncated at cipher suites")
	}

	csLen := int(body[i])<<8 | int(body[i+1])
	i += 2
	if i+csLen > len(body) || csLen%2 != 0 {
		return random, nil, fmt.Errorf("pskhandshake: client hello cipher suite list out of range")
	}

	cs := body[i : i+csLen]
	suites = make([]uint16, 0, csLen/2)
	for j := 0; j+1 < len(cs); j += 2 {
		suites = append(suites, uint16(cs[j])<<8|uint16(cs[j+1]))
	}
	return random, suites, nil
}

func suitesContain(suites []uint16, target uint16) bool {
	for _, s := range suites {
		if s == target {
			return true
		}
	}
	return false
}

func buildServerHello(serverRandom [32]byte, suite uint16) []byte {
	body := make([]byte, 0, 2+32+1+2+1)
	body = append(body, byte(versionTLS12>>8), byte(versionTLS12))
	body = append(body, serverRandom[:]...)
	body = append(body, 0) // session_id length
	body = append(body, byte(suite>>8), byte(suite))
	body = append(body, 0) // compression method: null
	return body
}

func parseClientKeyExchange(body []byte) ([]byte, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("pskhandshake: client key exchange too short")
	}
	idLen := int(body[0])<<8 | int(body[1])
	if 2+idLen > len(body) {
		return nil, fmt.Errorf("pskhandshake: client key exchange psk_identity out of range")
	}
	return append([]byte{}, body[2:2+idLen]...), nil
}
