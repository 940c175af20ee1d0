package mrt

import (
	"net/netip"

	"github.com/nestroute/mrtd/std/types/optional"
)

// PeerIndexTable builds the body of a PEER_INDEX_TABLE record:
//
//	collector_id:u32 name_length:u16 name peer_count:u16
//	peer_count * {type:u8 peer_id:u32 peer_addr:4|16 peer_as:u32}
type PeerIndexTable struct {
	buf         *Buffer
	collectorId uint32
	name        string
	peerCount   int
	countOffset int
}

// NewPeerIndexTable starts a peer index table for the given collector.
func NewPeerIndexTable(alloc Allocator, collectorId uint32, name optional.Optional[string]) *PeerIndexTable {
	p := &PeerIndexTable{
		buf:         NewBuffer(alloc, DefaultCapacity, HeaderLength),
		collectorId: collectorId,
		name:        name.GetOr(""),
	}
	if len(p.name) > 0xFFFF {
		panic("mrt: collector name too long")
	}

	p.buf.AppendUint32(collectorId)
	p.buf.AppendUint16(uint16(len(p.name)))
	p.buf.Append([]byte(p.name))

	// collector_id + name_length + name
	p.countOffset = HeaderLength + 4 + 2 + len(p.name)
	p.buf.AppendUint16(0)
	return p
}

// AddPeer appends one peer entry and updates peer_count.
// Peers are not deduplicated. Adding to a full table panics and leaves it unchanged.
func (p *PeerIndexTable) AddPeer(peerId uint32, addr netip.Addr, peerAs uint32) {
	if p.Full() {
		panic(ErrCountOverflow)
	}
	af := FamilyOf(addr)

	peerType := PeerTypeAS4
	if af == AFIPv6 {
		peerType |= PeerTypeIPv6
	}

	p.buf.AppendUint8(peerType)
	p.buf.AppendUint32(peerId)
	appendAddr(p.buf, addr, af)
	p.buf.AppendUint32(peerAs)

	p.peerCount++
	patchCount(p.buf, p.countOffset, p.peerCount)
}

// Full reports whether peer_count reached MaxCount.
func (p *PeerIndexTable) Full() bool {
	return p.peerCount >= MaxCount
}

// PeerCount returns the number of entries added so far.
func (p *PeerIndexTable) PeerCount() int {
	return p.peerCount
}

// CountOffset returns the buffer offset of the peer_count field.
func (p *PeerIndexTable) CountOffset() int {
	return p.countOffset
}

// Bytes returns the record, reserved header included.
func (p *PeerIndexTable) Bytes() []byte {
	return p.buf.Bytes()
}

// Len returns the record length, reserved header included.
func (p *PeerIndexTable) Len() int {
	return p.buf.Len()
}

// Free releases the record buffer.
func (p *PeerIndexTable) Free() {
	p.buf.Free()
}
