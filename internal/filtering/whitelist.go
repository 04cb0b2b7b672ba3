package filtering

import "net"

// Whitelist holds CIDR-style ranges exempt from filtering entirely (spec
// §4.3's ip_whitelist option), grounded on the routedns example's config
// parsing of CIDR strings into net.IPNet values.
type Whitelist struct {
	nets []*net.IPNet
	ips  []net.IP
}

// NewWhitelist parses each entry as a CIDR range, falling back to a bare
// host address (a /32 or /128) when no mask is present.
func NewWhitelist(entries []string) (*Whitelist, error) {
	w := &Whitelist{}
	for _, entry := range entries {
		if ip := net.ParseIP(entry); ip != nil {
			w.ips = append(w.ips, ip)
			continue
		}
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		w.nets = append(w.nets, ipnet)
	}
	return w, nil
}

// Contains reports whether addr falls within any configured range.
// Unparseable addresses are treated as not whitelisted, matching the
// original middleware's "unparseable IP" fallback.
func (w *Whitelist) Contains(addr string) bool {
	if w == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, known := range w.ips {
		if known.Equal(ip) {
			return true
		}
	}
	for _, n := range w.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
