package dnsserver

import "net"

func parseIP4(s string) net.IP {
	if ip := net.ParseIP(s); ip != nil {
		return ip
	}
	return nil
}
