package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/mrt"
	"github.com/nestroute/mrtd/std/utils"
)

// Record is one complete MRT record, common header included.
type Record struct {
	Timestamp uint32
	Type      uint16
	Subtype   uint16
	Data      []byte
}

// Body returns the record without its common header.
func (r *Record) Body() []byte {
	return r.Data[mrt.HeaderLength:]
}

// Sink stores or forwards MRT records.
type Sink interface {
	String() string
	WriteRecord(rec *Record) error
	Close() error
}

// Emitter frames record bodies with the MRT common header and hands them to its sinks.
type Emitter struct {
	clock   core.Clock
	sinks   []Sink
	metrics *core.Metrics
}

// NewEmitter creates an emitter writing to sinks. metrics may be nil.
func NewEmitter(clock core.Clock, metrics *core.Metrics, sinks ...Sink) *Emitter {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Emitter{
		clock:   clock,
		sinks:   sinks,
		metrics: metrics,
	}
}

func (e *Emitter) String() string {
	return "mrt-emitter"
}

// PutHeader fills the reserved header of buf:
// timestamp:u32 type:u16 subtype:u16 length:u32, length excluding the header.
func PutHeader(buf []byte, timestamp uint32, typ uint16, subtype uint16) {
	if len(buf) < mrt.HeaderLength {
		panic("transport: record shorter than the MRT header")
	}
	binary.BigEndian.PutUint32(buf[0:], timestamp)
	binary.BigEndian.PutUint16(buf[4:], typ)
	binary.BigEndian.PutUint16(buf[6:], subtype)
	binary.BigEndian.PutUint32(buf[8:], uint32(len(buf)-mrt.HeaderLength))
}

// Emit fills the header of payload in place and writes the record to every sink,
// stamped with the current time.
func (e *Emitter) Emit(owner string, typ uint16, subtype uint16, payload []byte) error {
	return e.EmitAt(owner, e.clock.Now(), typ, subtype, payload)
}

// EmitAt is Emit with an explicit timestamp, used when several records must
// share one. payload must start with the reserved header bytes. A failing sink
// does not keep the record from the others; all failures are returned together.
func (e *Emitter) EmitAt(owner string, ts time.Time, typ uint16, subtype uint16, payload []byte) error {
	rec := &Record{
		Timestamp: utils.UnixSeconds(ts),
		Type:      typ,
		Subtype:   subtype,
		Data:      payload,
	}
	PutHeader(rec.Data, rec.Timestamp, typ, subtype)

	var errs []error
	for _, sink := range e.sinks {
		if err := sink.WriteRecord(rec); err != nil {
			core.Log.Error(e, "Unable to write record", "owner", owner, "sink", sink, "err", err)
			if e.metrics != nil {
				e.metrics.EmitErrors.WithLabelValues(sink.String()).Inc()
			}
			errs = append(errs, fmt.Errorf("%s: %w", sink, err))
		}
	}

	if e.metrics != nil {
		e.metrics.RecordsEmitted.WithLabelValues(SubtypeName(subtype)).Inc()
		e.metrics.RecordBytes.Observe(float64(len(payload)))
	}
	core.Log.Debug(e, "Emitted record", "owner", owner, "subtype", SubtypeName(subtype), "length", len(payload))

	return errors.Join(errs...)
}

// Close closes every sink.
func (e *Emitter) Close() error {
	var errs []error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// SubtypeName returns a label for a TABLE_DUMP_V2 subtype.
func SubtypeName(subtype uint16) string {
	switch subtype {
	case mrt.SubtypePeerIndexTable:
		return "peer_index_table"
	case mrt.SubtypeRibIPv4Unicast:
		return "rib_ipv4_unicast"
	case mrt.SubtypeRibIPv6Unicast:
		return "rib_ipv6_unicast"
	default:
		return fmt.Sprintf("subtype_%d", subtype)
	}
}
