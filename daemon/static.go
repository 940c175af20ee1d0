package daemon

import (
	"github.com/nestroute/mrtd/bgp"
	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/std/types/optional"
)

// LoadStatic announces the routes of statically configured peers.
// The peers must come from a parsed configuration.
func (d *Dumper) LoadStatic(peers []core.PeerConfig) []*bgp.Session {
	sessions := make([]*bgp.Session, 0, len(peers))
	for i := range peers {
		p := &peers[i]
		session := &bgp.Session{
			Name:       p.Name,
			LocalId:    d.collector.LocalId,
			LocalAs:    d.collector.LocalAs,
			RemoteId:   p.RemoteId(),
			RemoteAs:   p.As,
			RemoteAddr: p.RemoteAddr(),
		}
		sessions = append(sessions, session)

		for j := range p.Routes {
			d.Announce(p.Routes[j].Net(), session, staticAttrs(&p.Routes[j]))
		}
		core.Log.Info(d, "Loaded static peer", "peer", session, "addr", session.RemoteAddr,
			"as", session.RemoteAs, "routes", len(p.Routes))
	}
	return sessions
}

func staticAttrs(r *core.RouteConfig) *bgp.PathAttrs {
	attrs := &bgp.PathAttrs{
		Origin:      bgp.OriginIgp,
		AsPath:      r.AsPath,
		NextHop:     r.Gateway(),
		Communities: r.CommunityValues(),
	}
	if r.Med != nil {
		attrs.Med = optional.Some(*r.Med)
	}
	if r.LocalPref != nil {
		attrs.LocalPref = optional.Some(*r.LocalPref)
	}
	return attrs
}
