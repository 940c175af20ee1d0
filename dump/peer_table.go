package dump

import (
	"github.com/nestroute/mrtd/bgp"
	"github.com/nestroute/mrtd/mrt"
	"github.com/nestroute/mrtd/std/types/optional"
	"github.com/nestroute/mrtd/table"
)

// PeerIndexTableDump builds a PEER_INDEX_TABLE record from the senders of
// the exportable routes of a table.
//
// One row is added per exportable route, not per distinct peer, so row i
// describes the sender of the i-th exported route. RibTableDump relies on
// this to use the route ordinal as peer index.
type PeerIndexTableDump struct {
	record *mrt.PeerIndexTable
	walker *Walker
	freed  bool
}

// NewPeerIndexTableDump starts a peer table dump for the collector session.
func NewPeerIndexTableDump(collector *bgp.Session, fib *table.Fib, alloc mrt.Allocator) *PeerIndexTableDump {
	name := optional.None[string]()
	if collector.Name != "" {
		name.Set(collector.Name)
	}

	return &PeerIndexTableDump{
		record: mrt.NewPeerIndexTable(alloc, collector.LocalId, name),
		walker: NewWalker(fib),
	}
}

func (d *PeerIndexTableDump) String() string {
	return "peer-index-dump"
}

func (d *PeerIndexTableDump) Step(nodeBudget int, entryBudget int) WalkState {
	return d.walker.Step(nodeBudget, entryBudget, IsExportable, d.extractPeer)
}

func (d *PeerIndexTableDump) extractPeer(route *table.Route) {
	if d.record.Full() {
		d.walker.Fail(mrt.ErrCountOverflow)
		return
	}
	peer := route.Sender
	d.record.AddPeer(peer.RemoteId, peer.RemoteAddr, peer.RemoteAs)
}

func (d *PeerIndexTableDump) State() WalkState {
	return d.walker.State()
}

func (d *PeerIndexTableDump) Err() error {
	return d.walker.Err()
}

func (d *PeerIndexTableDump) Dump() []byte {
	return d.record.Bytes()
}

// PeerCount returns the number of rows added so far.
func (d *PeerIndexTableDump) PeerCount() int {
	return d.record.PeerCount()
}

func (d *PeerIndexTableDump) Subtype() uint16 {
	return mrt.SubtypePeerIndexTable
}

func (d *PeerIndexTableDump) Free() {
	if d.freed {
		return
	}
	d.walker.Teardown()
	d.record.Free()
	d.freed = true
}
