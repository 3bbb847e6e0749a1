package orchestrator

import (
	"fmt"
	"net"
	"strings"

	"cloudcutter/internal/services/dnsserver"
)

// cloudRegions and cloudHosts enumerate every Tuya cloud subdomain the
// impersonation server answers for, mirroring the nested region/host
// loop in the original server core: {a,a1,a2,a3,m,m1,m2,baal}.tuya{region}.com
// for region in {us,eu,cn,in}.
var (
	cloudRegions = []string{"us", "eu", "cn", "in"}
	cloudHosts   = []string{"a", "a1", "a2", "a3", "m", "m1", "m2", "baal"}
)

// fixedCloudHosts are the handful of non-regional hostnames devices or
// their firmware hardcode for activation, URL discovery, and update
// checks.
var fixedCloudHosts = []string{
	"h2.iot-dns.com",
	"h3.iot-dns.com",
	"fakedns.com",
	"cloudcutter.io",
}

// DefaultDNSRecords builds the record table that points every
// well-known Tuya cloud hostname at the virtual-cloud address.
func DefaultDNSRecords(serverIP net.IP) []dnsserver.Record {
	var records []dnsserver.Record
	for _, host := range fixedCloudHosts {
		records = append(records, aRecord(host, serverIP))
	}
	for _, region := range cloudRegions {
		for _, host := range cloudHosts {
			records = append(records, aRecord(fmt.Sprintf("%s.tuya%s.com", host, region), serverIP))
		}
	}
	return records
}

func aRecord(host string, addr net.IP) dnsserver.Record {
	return dnsserver.Record{
		HostPattern: `(?i)^` + strings.ReplaceAll(host, ".", `\.`) + `\.$`,
		TypePattern: "^A$",
		Answers:     []string{addr.String()},
	}
}
