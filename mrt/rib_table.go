package mrt

import (
	"fmt"
	"net/netip"
)

// RibEntry is one route of a RIB record.
type RibEntry struct {
	// Row of the peer in the companion peer index table
	PeerIndex uint16
	// Unix seconds
	OriginatedTime uint32
	// Encoded BGP path attributes
	Attrs []byte
}

// RibTable builds the body of a RIB_IPV4_UNICAST or RIB_IPV6_UNICAST record:
//
//	sequence_number:u32 prefix_length:u8 prefix:4|16 entry_count:u16
//	entry_count * {peer_index:u16 originated_time:u32 attr_length:u16 attrs}
type RibTable struct {
	buf         *Buffer
	af          AddressFamily
	seq         uint32
	prefixLen   uint8
	prefix      netip.Addr
	entryCount  int
	countOffset int
}

// NewRibTable starts a RIB record for one prefix.
func NewRibTable(alloc Allocator, seq uint32, prefixLen uint8, prefix netip.Addr, af AddressFamily) *RibTable {
	width := af.Width()
	if int(prefixLen) > width*8 {
		panic(fmt.Sprintf("mrt: prefix length %d too long for %s", prefixLen, af))
	}

	r := &RibTable{
		buf:       NewBuffer(alloc, DefaultCapacity, HeaderLength),
		af:        af,
		seq:       seq,
		prefixLen: prefixLen,
		prefix:    prefix,
	}

	r.buf.AppendUint32(seq)
	r.buf.AppendUint8(prefixLen)
	appendAddr(r.buf, prefix, af)

	// sequence_number + prefix_length + prefix
	r.countOffset = HeaderLength + 4 + 1 + width
	r.buf.AppendUint16(0)
	return r
}

// AddEntry appends one RIB entry and updates entry_count.
// Adding to a full table panics and leaves it unchanged.
func (r *RibTable) AddEntry(e RibEntry) {
	if r.Full() {
		panic(ErrCountOverflow)
	}
	if len(e.Attrs) > 0xFFFF {
		panic(fmt.Sprintf("mrt: attribute length %d overflows 16-bit field", len(e.Attrs)))
	}

	r.buf.AppendUint16(e.PeerIndex)
	r.buf.AppendUint32(e.OriginatedTime)
	r.buf.AppendUint16(uint16(len(e.Attrs)))
	r.buf.Append(e.Attrs)

	r.entryCount++
	patchCount(r.buf, r.countOffset, r.entryCount)
}

// Subtype returns the TABLE_DUMP_V2 subtype matching the address family.
func (r *RibTable) Subtype() uint16 {
	if r.af == AFIPv6 {
		return SubtypeRibIPv6Unicast
	}
	return SubtypeRibIPv4Unicast
}

// Family returns the address family of the prefix.
func (r *RibTable) Family() AddressFamily {
	return r.af
}

// Sequence returns the sequence number of the record.
func (r *RibTable) Sequence() uint32 {
	return r.seq
}

// Prefix returns the prefix the record describes.
func (r *RibTable) Prefix() netip.Prefix {
	return netip.PrefixFrom(r.prefix.Unmap(), int(r.prefixLen))
}

// Full reports whether entry_count reached MaxCount.
func (r *RibTable) Full() bool {
	return r.entryCount >= MaxCount
}

// EntryCount returns the number of entries added so far.
func (r *RibTable) EntryCount() int {
	return r.entryCount
}

// CountOffset returns the buffer offset of the entry_count field.
func (r *RibTable) CountOffset() int {
	return r.countOffset
}

// Bytes returns the record, reserved header included.
func (r *RibTable) Bytes() []byte {
	return r.buf.Bytes()
}

// Len returns the record length, reserved header included.
func (r *RibTable) Len() int {
	return r.buf.Len()
}

// Free releases the record buffer.
func (r *RibTable) Free() {
	r.buf.Free()
}
