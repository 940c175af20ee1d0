package dump

import (
	"fmt"
	"net/netip"

	"github.com/nestroute/mrtd/bgp"
	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/mrt"
	"github.com/nestroute/mrtd/std/utils"
	"github.com/nestroute/mrtd/table"
)

// AttrScratchSize is the largest encoded attribute set a RIB entry may carry.
const AttrScratchSize = 2048

// RibTableDump builds a RIB_IPV4_UNICAST or RIB_IPV6_UNICAST record from the
// exportable routes of a table. The i-th exported route gets peer index i,
// matching the row order of a PeerIndexTableDump over the same table.
type RibTableDump struct {
	clock     core.Clock
	record    *mrt.RibTable
	walker    *Walker
	peerIndex int
	scratch   [AttrScratchSize]byte
	freed     bool
}

// NewRibTableDump starts a RIB dump with the given sequence number and prefix.
func NewRibTableDump(
	fib *table.Fib,
	clock core.Clock,
	alloc mrt.Allocator,
	seq uint32,
	prefixLen uint8,
	prefix netip.Addr,
	af mrt.AddressFamily,
) *RibTableDump {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &RibTableDump{
		clock:  clock,
		record: mrt.NewRibTable(alloc, seq, prefixLen, prefix, af),
		walker: NewWalker(fib),
	}
}

func (d *RibTableDump) String() string {
	return "rib-dump"
}

func (d *RibTableDump) Step(nodeBudget int, entryBudget int) WalkState {
	return d.walker.Step(nodeBudget, entryBudget, IsExportable, d.extractRibEntry)
}

func (d *RibTableDump) extractRibEntry(route *table.Route) {
	if d.record.Full() {
		d.walker.Fail(mrt.ErrCountOverflow)
		return
	}

	n, err := bgp.EncodeAttrs(route.Attrs, d.scratch[:])
	if err != nil {
		core.Log.Fatal(d, "Unable to encode route attributes", "prefix", route.Net.Prefix, "err", err)
		panic(fmt.Sprintf("dump: %v", err))
	}

	originated := route.LastModified
	if originated.IsZero() {
		originated = d.clock.Now()
	}

	d.record.AddEntry(mrt.RibEntry{
		PeerIndex:      uint16(d.peerIndex),
		OriginatedTime: utils.UnixSeconds(originated),
		Attrs:          d.scratch[:n],
	})
	d.peerIndex++
}

func (d *RibTableDump) State() WalkState {
	return d.walker.State()
}

func (d *RibTableDump) Err() error {
	return d.walker.Err()
}

func (d *RibTableDump) Dump() []byte {
	return d.record.Bytes()
}

// EntryCount returns the number of entries added so far.
func (d *RibTableDump) EntryCount() int {
	return d.record.EntryCount()
}

func (d *RibTableDump) Subtype() uint16 {
	return d.record.Subtype()
}

func (d *RibTableDump) Free() {
	if d.freed {
		return
	}
	d.walker.Teardown()
	d.record.Free()
	d.freed = true
}
