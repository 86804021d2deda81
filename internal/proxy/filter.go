package proxy

import "net"

// blockedIPNets lists address ranges the proxy refuses to dial even when
// the host allowlist would otherwise permit them: loopback, link-local,
// multicast, RFC1918 private space, CGNAT, and the IPv6 analogues. A
// sandbox with network access should not be able to reach the manager
// host or its own network namespace's infrastructure addresses by DNS
// rebinding a permitted hostname onto one of these.
var blockedIPNets []*net.IPNet

var cloudMetadataIP = net.ParseIP("169.254.169.254")

func init() {
	cidrs := []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"224.0.0.0/4",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"ff00::/8",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("proxy: invalid blocked CIDR " + cidr)
		}
		blockedIPNets = append(blockedIPNets, ipNet)
	}
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.Equal(cloudMetadataIP) {
		return true
	}
	for _, ipNet := range blockedIPNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}
