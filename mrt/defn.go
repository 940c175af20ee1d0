// Package mrt builds MRT (RFC 6396) TABLE_DUMP_V2 record bodies.
//
// Every buffer starts with HeaderLength blank bytes. The common MRT header
// (timestamp, type, subtype, length) is filled in by the transport that
// writes the record out; builders here only produce the body after it.
package mrt

import (
	"errors"
	"fmt"
	"net/netip"
)

// HeaderLength is the size of the MRT common header reserved at the start of every buffer.
const HeaderLength = 12

// DefaultCapacity is the initial capacity of a record buffer.
const DefaultCapacity = 64

// MRT type of the records built here.
const TypeTableDumpV2 uint16 = 13

// TABLE_DUMP_V2 subtypes.
const (
	SubtypePeerIndexTable uint16 = 1
	SubtypeRibIPv4Unicast uint16 = 2
	SubtypeRibIPv6Unicast uint16 = 4
)

// Peer type bits of a peer index table entry.
const (
	PeerTypeIPv6 uint8 = 0x01
	PeerTypeAS4  uint8 = 0x02
)

// AddressFamily selects the width of addresses and prefixes in a record.
type AddressFamily uint8

const (
	AFIPv4 AddressFamily = 1
	AFIPv6 AddressFamily = 2
)

func (af AddressFamily) String() string {
	switch af {
	case AFIPv4:
		return "ipv4"
	case AFIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("af(%d)", uint8(af))
	}
}

// Width returns the encoded size of an address of this family.
// An unknown family is a programming error and panics.
func (af AddressFamily) Width() int {
	switch af {
	case AFIPv4:
		return 4
	case AFIPv6:
		return 16
	default:
		panic(fmt.Sprintf("mrt: unknown address family %d", uint8(af)))
	}
}

// FamilyOf returns the family of addr. IPv4-mapped IPv6 addresses count as IPv4.
func FamilyOf(addr netip.Addr) AddressFamily {
	if addr.Unmap().Is4() {
		return AFIPv4
	}
	return AFIPv6
}

// appendAddr writes addr at its natural width for af.
func appendAddr(b *Buffer, addr netip.Addr, af AddressFamily) {
	if !addr.IsValid() {
		panic("mrt: invalid address")
	}
	addr = addr.Unmap()
	switch af.Width() {
	case 4:
		if !addr.Is4() {
			panic(fmt.Sprintf("mrt: %s is not an %s address", addr, af))
		}
		a := addr.As4()
		b.Append(a[:])
	case 16:
		if !addr.Is6() {
			panic(fmt.Sprintf("mrt: %s is not an %s address", addr, af))
		}
		a := addr.As16()
		b.Append(a[:])
	}
}

// MaxCount is the largest entry count a record can hold in its u16 count field.
const MaxCount = 0xFFFF

// ErrCountOverflow is reported when a record already holds MaxCount entries.
var ErrCountOverflow = errors.New("mrt: record entry count overflows 16-bit field")

// patchCount backpatches a u16 count field, panicking if it no longer fits.
func patchCount(b *Buffer, off int, count int) {
	if count > MaxCount {
		panic(fmt.Sprintf("mrt: count %d overflows 16-bit field", count))
	}
	b.PatchUint16(off, uint16(count))
}
