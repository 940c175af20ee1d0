package core

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/nestroute/mrtd/bgp"
)

// PeerConfig is a statically configured BGP neighbor and the routes
// installed as if received from it.
type PeerConfig struct {
	// Protocol instance name
	Name string `json:"name"`
	// Neighbor address, IPv4 or IPv6
	Address string `json:"address"`
	// Neighbor BGP identifier; defaults to the address for IPv4 neighbors
	BgpId string `json:"bgp_id"`
	// Neighbor AS number
	As uint32 `json:"as"`
	// Routes received from the neighbor
	Routes []RouteConfig `json:"routes"`

	addr  netip.Addr
	bgpId uint32
}

// RouteConfig is one static route of a peer.
type RouteConfig struct {
	Prefix    string   `json:"prefix"`
	AsPath    []uint32 `json:"as_path"`
	NextHop   string   `json:"next_hop"`
	Med       *uint32  `json:"med"`
	LocalPref *uint32  `json:"local_pref"`
	// Communities in ASN:VALUE form
	Communities []string `json:"communities"`

	prefix      netip.Prefix
	nextHop     netip.Addr
	communities []uint32
}

func (p *PeerConfig) parse() error {
	var err error
	p.addr, err = netip.ParseAddr(p.Address)
	if err != nil {
		return fmt.Errorf("peer %q: invalid address: %w", p.Name, err)
	}
	p.addr = p.addr.Unmap()

	switch {
	case p.BgpId != "":
		id, err := netip.ParseAddr(p.BgpId)
		if err != nil || !id.Is4() {
			return fmt.Errorf("peer %q: bgp_id must be an IPv4 dotted quad", p.Name)
		}
		p.bgpId = bgp.IdFromAddr(id)
	case p.addr.Is4():
		p.bgpId = bgp.IdFromAddr(p.addr)
	default:
		return fmt.Errorf("peer %q: bgp_id is required for IPv6 neighbors", p.Name)
	}

	for i := range p.Routes {
		if err := p.Routes[i].parse(); err != nil {
			return fmt.Errorf("peer %q: %w", p.Name, err)
		}
	}
	return nil
}

// RemoteAddr returns the parsed neighbor address.
func (p *PeerConfig) RemoteAddr() netip.Addr {
	return p.addr
}

// RemoteId returns the parsed neighbor BGP identifier.
func (p *PeerConfig) RemoteId() uint32 {
	return p.bgpId
}

func (r *RouteConfig) parse() (err error) {
	r.prefix, err = netip.ParsePrefix(r.Prefix)
	if err != nil {
		return fmt.Errorf("invalid route prefix: %w", err)
	}
	r.prefix = r.prefix.Masked()

	r.nextHop = netip.Addr{}
	if r.NextHop != "" {
		r.nextHop, err = netip.ParseAddr(r.NextHop)
		if err != nil {
			return fmt.Errorf("route %s: invalid next hop: %w", r.prefix, err)
		}
	}

	r.communities = nil
	for _, s := range r.Communities {
		c, err := ParseCommunity(s)
		if err != nil {
			return fmt.Errorf("route %s: %w", r.prefix, err)
		}
		r.communities = append(r.communities, c)
	}
	return nil
}

// Net returns the parsed route prefix.
func (r *RouteConfig) Net() netip.Prefix {
	return r.prefix
}

// Gateway returns the parsed next hop, invalid if unset.
func (r *RouteConfig) Gateway() netip.Addr {
	return r.nextHop
}

// CommunityValues returns the parsed communities.
func (r *RouteConfig) CommunityValues() []uint32 {
	return r.communities
}

// ParseCommunity parses an RFC 1997 community written as ASN:VALUE.
func ParseCommunity(s string) (uint32, error) {
	hi, lo, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid community %q", s)
	}
	asn, err1 := strconv.ParseUint(hi, 10, 16)
	val, err2 := strconv.ParseUint(lo, 10, 16)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("invalid community %q", s)
	}
	return uint32(asn)<<16 | uint32(val), nil
}
