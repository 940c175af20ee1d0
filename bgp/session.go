package bgp

import (
	"fmt"
	"net/netip"
)

// Session is the state of one BGP session needed to describe its peer.
type Session struct {
	// Protocol instance name
	Name string

	LocalId uint32
	LocalAs uint32

	RemoteId   uint32
	RemoteAs   uint32
	RemoteAddr netip.Addr
}

func (s *Session) String() string {
	return fmt.Sprintf("bgp-%s", s.Name)
}

// IdFromAddr converts a dotted-quad router id to its 32-bit form.
func IdFromAddr(addr netip.Addr) uint32 {
	b := addr.Unmap().As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
