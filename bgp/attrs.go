package bgp

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/nestroute/mrtd/std/types/optional"
)

// ErrAttrOverflow is returned when the encoded attributes do not fit the output buffer.
var ErrAttrOverflow = errors.New("bgp: path attributes overflow output buffer")

type Origin uint8

const (
	OriginIgp        Origin = 0
	OriginEgp        Origin = 1
	OriginIncomplete Origin = 2
)

// Path attribute type codes (RFC 4271, RFC 1997, RFC 4760)
const (
	AttrOrigin      uint8 = 1
	AttrAsPath      uint8 = 2
	AttrNextHop     uint8 = 3
	AttrMed         uint8 = 4
	AttrLocalPref   uint8 = 5
	AttrCommunities uint8 = 8
	AttrMpReachNlri uint8 = 14
)

// Path attribute flags
const (
	FlagOptional   uint8 = 0x80
	FlagTransitive uint8 = 0x40
	FlagExtLength  uint8 = 0x10
)

const asPathSequence uint8 = 2

// PathAttrs is the attribute set of a route.
type PathAttrs struct {
	Origin Origin
	// AS_SEQUENCE, nearest AS first
	AsPath      []uint32
	NextHop     netip.Addr
	Med         optional.Optional[uint32]
	LocalPref   optional.Optional[uint32]
	Communities []uint32
}

type attrWriter struct {
	out []byte
	pos int
	err error
}

func (w *attrWriter) put(p ...byte) {
	if w.err != nil {
		return
	}
	if w.pos+len(p) > len(w.out) {
		w.err = ErrAttrOverflow
		return
	}
	w.pos += copy(w.out[w.pos:], p)
}

func (w *attrWriter) putUint32(v uint32) {
	w.put(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// attr writes one attribute header and the value produced by body.
// The value length is known up front so the header is never patched.
func (w *attrWriter) attr(flags uint8, code uint8, length int, body func()) {
	if length > 0xFF {
		flags |= FlagExtLength
		w.put(flags, code)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(length))
		w.put(l[:]...)
	} else {
		w.put(flags, code, byte(length))
	}
	body()
}

// EncodeAttrs writes attrs in wire format into out and returns the number of bytes used.
// IPv6 next hops use the abbreviated MP_REACH_NLRI form of RFC 6396 section 4.3.4.
func EncodeAttrs(attrs *PathAttrs, out []byte) (int, error) {
	if attrs == nil {
		return 0, nil
	}
	w := &attrWriter{out: out}

	w.attr(FlagTransitive, AttrOrigin, 1, func() {
		w.put(byte(attrs.Origin))
	})

	segments := (len(attrs.AsPath) + 254) / 255
	w.attr(FlagTransitive, AttrAsPath, 2*segments+4*len(attrs.AsPath), func() {
		for rest := attrs.AsPath; len(rest) > 0; {
			n := min(len(rest), 255)
			w.put(asPathSequence, byte(n))
			for _, as := range rest[:n] {
				w.putUint32(as)
			}
			rest = rest[n:]
		}
	})

	if hop := attrs.NextHop.Unmap(); hop.Is4() {
		w.attr(FlagTransitive, AttrNextHop, 4, func() {
			a := hop.As4()
			w.put(a[:]...)
		})
	} else if hop.Is6() {
		w.attr(FlagOptional, AttrMpReachNlri, 17, func() {
			a := hop.As16()
			w.put(16)
			w.put(a[:]...)
		})
	}

	if med, ok := attrs.Med.Get(); ok {
		w.attr(FlagOptional, AttrMed, 4, func() { w.putUint32(med) })
	}

	if pref, ok := attrs.LocalPref.Get(); ok {
		w.attr(FlagTransitive, AttrLocalPref, 4, func() { w.putUint32(pref) })
	}

	if len(attrs.Communities) > 0 {
		w.attr(FlagOptional|FlagTransitive, AttrCommunities, 4*len(attrs.Communities), func() {
			for _, c := range attrs.Communities {
				w.putUint32(c)
			}
		})
	}

	if w.err != nil {
		return 0, w.err
	}
	return w.pos, nil
}
