package handler

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// ipv6ClientPrefix groups IPv6 clients by their /64, the smallest block
// normally assigned to one subscriber.
const ipv6ClientPrefix = 64

// TrustedProxies lists the peers whose X-Real-IP and X-Forwarded-For headers
// are believed. A nil *TrustedProxies trusts nobody.
type TrustedProxies struct {
	blocks []*ipaddr.IPAddress
}

// ParseTrustedProxies accepts addresses and CIDR blocks such as 10.0.0.0/8 or fd00::/8.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	p := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, err := ipaddr.NewIPAddressString(entry).ToAddress()
		if err != nil || addr == nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		p.blocks = append(p.blocks, addr.ToPrefixBlock())
	}
	return p, nil
}

func (p *TrustedProxies) contains(addr *ipaddr.IPAddress) bool {
	if p == nil || addr == nil {
		return false
	}
	for _, block := range p.blocks {
		if block.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientKey returns the rate-limit key for the request's client. The TCP peer
// is used unless it is a trusted proxy, in which case X-Real-IP or the
// right-most untrusted X-Forwarded-For hop names the client.
func (p *TrustedProxies) ClientKey(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}

	peer := parseIP(host)
	if peer == nil {
		return host
	}
	if p.contains(peer) {
		if client := p.forwardedClient(r); client != nil {
			peer = client
		}
	}
	return ipKey(peer)
}

func (p *TrustedProxies) forwardedClient(r *http.Request) *ipaddr.IPAddress {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr := parseIP(strings.TrimSpace(hops[i]))
			if addr == nil {
				return nil
			}
			if !p.contains(addr) {
				return addr
			}
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return parseIP(xrip)
	}
	return nil
}

func parseIP(s string) *ipaddr.IPAddress {
	addr, err := ipaddr.NewIPAddressString(s).ToAddress()
	if err != nil {
		return nil
	}
	return addr
}

func ipKey(addr *ipaddr.IPAddress) string {
	if addr.IsIPv6() {
		return addr.ToPrefixBlockLen(ipv6ClientPrefix).ToCanonicalString()
	}
	return addr.ToCanonicalString()
}
