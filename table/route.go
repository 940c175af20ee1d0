package table

import (
	"time"

	"github.com/nestroute/mrtd/bgp"
)

// RouteSource tags the protocol a route was learned from.
type RouteSource uint8

const (
	SourceDevice RouteSource = iota
	SourceStatic
	SourceKernel
	SourceOSPF
	SourceBGP
)

func (s RouteSource) String() string {
	switch s {
	case SourceDevice:
		return "device"
	case SourceStatic:
		return "static"
	case SourceKernel:
		return "kernel"
	case SourceOSPF:
		return "ospf"
	case SourceBGP:
		return "bgp"
	default:
		return "unknown"
	}
}

// NetFlags mark table nodes needing special treatment.
type NetFlags uint32

const (
	// Routes of the node were rejected by the export filter
	NetFlagFiltered NetFlags = 1 << iota
	// Routes of the node are stale after a session restart
	NetFlagStale
)

// Route represents one route in a table node.
type Route struct {
	Source RouteSource
	Attrs  *bgp.PathAttrs
	// Session the route was received on, nil for non-BGP routes
	Sender *bgp.Session
	// Zero if unknown
	LastModified time.Time

	// Owning node, set when the route is added to a table
	Net *Net
}
