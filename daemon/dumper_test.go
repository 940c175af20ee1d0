package daemon_test

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nestroute/mrtd/bgp"
	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/daemon"
	"github.com/nestroute/mrtd/mrt"
	tu "github.com/nestroute/mrtd/std/utils/testutils"
	"github.com/nestroute/mrtd/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type chanSink struct {
	records chan *transport.Record
}

func (s *chanSink) String() string { return "chan" }

func (s *chanSink) WriteRecord(rec *transport.Record) error {
	c := *rec
	c.Data = append([]byte{}, rec.Data...)
	s.records <- &c
	return nil
}

func (s *chanSink) Close() error { return nil }

var now = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func testConfig(t *testing.T, nodeBudget, entryBudget int) *core.Config {
	c := core.DefaultConfig()
	c.Collector.Name = "rc"
	c.Collector.BgpId = "192.0.2.1"
	c.Collector.As = 65000
	c.Dump.Schedule = ""
	c.Dump.NodeBudget = nodeBudget
	c.Dump.EntryBudget = entryBudget
	require.NoError(t, c.Parse())
	return c
}

func peer(i int) *bgp.Session {
	return &bgp.Session{
		Name:       fmt.Sprintf("p%d", i),
		RemoteId:   uint32(0x0A000000 + i),
		RemoteAs:   uint32(65100 + i),
		RemoteAddr: netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}),
	}
}

func pfx(i int) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{172, byte(i >> 8), byte(i), 0}), 24)
}

func start(t *testing.T, c *core.Config) (*daemon.Dumper, *chanSink, *core.Metrics) {
	tu.SetT(t)
	sink := &chanSink{records: make(chan *transport.Record, 16)}
	metrics := core.NewMetrics(nil)
	clock := core.FixedClock(now)
	d := daemon.NewDumper(c, transport.NewEmitter(clock, metrics, sink), metrics, clock)
	go d.Start()
	t.Cleanup(d.Stop)
	return d, sink, metrics
}

func next(t *testing.T, sink *chanSink) *transport.Record {
	select {
	case rec := <-sink.records:
		return rec
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no record emitted")
		return nil
	}
}

// peerRows returns the remote AS of every peer row.
func peerRows(t *testing.T, rec *transport.Record) []uint32 {
	body := rec.Body()
	nameLen := int(binary.BigEndian.Uint16(body[4:]))
	body = body[6+nameLen:]
	count := int(binary.BigEndian.Uint16(body))
	body = body[2:]

	rows := []uint32{}
	for range count {
		width := 4
		if body[0]&mrt.PeerTypeIPv6 != 0 {
			width = 16
		}
		rows = append(rows, binary.BigEndian.Uint32(body[5+width:]))
		body = body[9+width:]
	}
	require.Empty(t, body)
	return rows
}

type ribEntry struct {
	peerIndex uint16
	attrs     []byte
}

// ribEntries returns the sequence number and the entries of a RIB record.
func ribEntries(t *testing.T, rec *transport.Record) (uint32, []ribEntry) {
	body := rec.Body()
	seq := binary.BigEndian.Uint32(body)
	body = body[4+1+4:]
	count := int(binary.BigEndian.Uint16(body))
	body = body[2:]

	entries := []ribEntry{}
	for range count {
		l := int(binary.BigEndian.Uint16(body[6:]))
		entries = append(entries, ribEntry{peerIndex: binary.BigEndian.Uint16(body), attrs: body[8 : 8+l]})
		body = body[8+l:]
	}
	require.Empty(t, body)
	return seq, entries
}

// ribIndices returns the sequence number and the peer index of every RIB entry.
func ribIndices(t *testing.T, rec *transport.Record) (uint32, []uint16) {
	seq, entries := ribEntries(t, rec)
	indices := []uint16{}
	for _, e := range entries {
		indices = append(indices, e.peerIndex)
	}
	return seq, indices
}

// firstAs reads the first AS of encoded attributes that start with
// ORIGIN followed by a one-segment AS_PATH.
func firstAs(t *testing.T, attrs []byte) uint32 {
	require.Equal(t, bgp.AttrOrigin, attrs[1])
	require.Equal(t, bgp.AttrAsPath, attrs[5])
	return binary.BigEndian.Uint32(attrs[9:])
}

func host(i int) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i >> 16), byte(i >> 8), byte(i)}), 32)
}

// tickingClock moves a minute forward on every reading.
type tickingClock struct {
	ticks atomic.Int64
}

func (c *tickingClock) Now() time.Time {
	return now.Add(time.Duration(c.ticks.Add(1)) * time.Minute)
}

func TestTriggerDumpEmitsPeerThenRib(t *testing.T) {
	d, sink, metrics := start(t, testConfig(t, 16, 4))

	peers := []*bgp.Session{peer(1), peer(2)}
	for i := range 10 {
		d.Announce(pfx(i), peers[i%2], &bgp.PathAttrs{Origin: bgp.OriginIgp, AsPath: []uint32{peers[i%2].RemoteAs}})
	}
	d.TriggerDump()

	rec := next(t, sink)
	require.Equal(t, mrt.TypeTableDumpV2, rec.Type)
	require.Equal(t, mrt.SubtypePeerIndexTable, rec.Subtype)
	require.Equal(t, uint32(now.Unix()), rec.Timestamp)
	require.Equal(t, uint32(0xC0000201), binary.BigEndian.Uint32(rec.Body()))
	rows := peerRows(t, rec)
	require.Len(t, rows, 10)

	rec = next(t, sink)
	require.Equal(t, mrt.SubtypeRibIPv4Unicast, rec.Subtype)
	seq, indices := ribIndices(t, rec)
	require.Equal(t, uint32(0), seq)
	require.Len(t, indices, 10)
	for i, idx := range indices {
		require.Equal(t, uint16(i), idx)
		require.Equal(t, peers[i%2].RemoteAs, rows[idx])
	}

	// The sequence number advances per dump
	d.TriggerDump()
	next(t, sink)
	seq, _ = ribIndices(t, next(t, sink))
	require.Equal(t, uint32(1), seq)
	require.Equal(t, uint32(2), tu.NoErr(d.Sequence()))

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.DumpsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.DumpsInProgress))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsEmitted.WithLabelValues("rib_ipv4_unicast")))
	require.GreaterOrEqual(t, testutil.ToFloat64(metrics.DumpSteps), 2.0)
}

func TestWithdrawAndStaleAreNotDumped(t *testing.T) {
	d, sink, _ := start(t, testConfig(t, 16, 4))

	p := peer(1)
	for i := range 4 {
		d.Announce(pfx(i), p, nil)
	}
	d.Withdraw(pfx(1), p)
	d.Withdraw(pfx(9), p)
	d.SetStale(pfx(2), true)
	require.Equal(t, 3, tu.NoErr(d.Routes()))

	d.TriggerDump()
	require.Len(t, peerRows(t, next(t, sink)), 2)
	_, indices := ribIndices(t, next(t, sink))
	require.Len(t, indices, 2)

	d.SetStale(pfx(2), false)
	d.TriggerDump()
	require.Len(t, peerRows(t, next(t, sink)), 3)
	next(t, sink)
}

func TestDumpInterleavesWithUpdates(t *testing.T) {
	d, sink, metrics := start(t, testConfig(t, 1, 1))

	attrsOf := func(p *bgp.Session) *bgp.PathAttrs {
		return &bgp.PathAttrs{Origin: bgp.OriginIgp, AsPath: []uint32{p.RemoteAs}}
	}
	p1, p2 := peer(1), peer(2)
	for i := range 200 {
		d.Announce(pfx(i), p1, attrsOf(p1))
	}
	d.TriggerDump()
	// Updates posted while the dump runs are applied between steps
	for i := range 200 {
		d.Withdraw(pfx(i), p1)
		d.Announce(pfx(1000+i), p2, attrsOf(p2))
	}

	rows := peerRows(t, next(t, sink))
	_, entries := ribEntries(t, next(t, sink))
	require.NotEmpty(t, entries)
	require.Len(t, entries, len(rows))
	for i, e := range entries {
		require.Equal(t, uint16(i), e.peerIndex)
		// The row an entry points at is the peer the route came from
		require.Equal(t, rows[e.peerIndex], firstAs(t, e.attrs), fmt.Sprintf("entry %d", i))
	}
	require.GreaterOrEqual(t, testutil.ToFloat64(metrics.DumpSteps), float64(len(rows)))
	require.Equal(t, 200, tu.NoErr(d.Routes()))
}

func TestDumpRecordsShareTimestamp(t *testing.T) {
	tu.SetT(t)
	sink := &chanSink{records: make(chan *transport.Record, 16)}
	clock := &tickingClock{}
	d := daemon.NewDumper(testConfig(t, 1, 1), transport.NewEmitter(clock, nil, sink), nil, clock)
	go d.Start()
	t.Cleanup(d.Stop)

	for i := range 5 {
		d.Announce(pfx(i), peer(1), nil)
	}
	d.TriggerDump()

	peerRec := next(t, sink)
	ribRec := next(t, sink)
	require.Equal(t, mrt.SubtypePeerIndexTable, peerRec.Subtype)
	require.Equal(t, mrt.SubtypeRibIPv4Unicast, ribRec.Subtype)
	require.Equal(t, peerRec.Timestamp, ribRec.Timestamp)
	require.Greater(t, peerRec.Timestamp, uint32(now.Unix()))
}

func TestDumpCountOverflowAborts(t *testing.T) {
	d, sink, metrics := start(t, testConfig(t, 4096, 4096))

	total := mrt.MaxCount + 1000
	p := peer(1)
	for i := range total {
		d.Announce(host(i), p, nil)
	}
	require.Equal(t, total, tu.NoErr(d.Routes()))

	d.TriggerDump()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DumpsFailed) == 1
	}, 10*time.Second, 10*time.Millisecond)

	// Nothing was emitted and the daemon keeps serving
	require.Empty(t, sink.records)
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.DumpsInProgress))
	require.Equal(t, uint32(0), tu.NoErr(d.Sequence()))
	require.Equal(t, total, tu.NoErr(d.Routes()))

	// Once the table fits again, dumps succeed
	for i := range 2000 {
		d.Withdraw(host(i), p)
	}
	d.TriggerDump()
	require.Len(t, peerRows(t, next(t, sink)), total-2000)
	seq, indices := ribIndices(t, next(t, sink))
	require.Equal(t, uint32(0), seq)
	require.Len(t, indices, total-2000)
	require.Equal(t, uint32(1), tu.NoErr(d.Sequence()))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.DumpsFailed))
}

func TestDumpIgnoredWhileRunning(t *testing.T) {
	d, sink, metrics := start(t, testConfig(t, 1, 1))

	for i := range 50 {
		d.Announce(pfx(i), peer(1), nil)
	}

	// Hold the loop so both triggers are queued before the dump starts
	gate := make(chan struct{})
	d.Post(func() { <-gate })
	d.TriggerDump()
	d.TriggerDump()
	close(gate)

	next(t, sink)
	next(t, sink)
	require.Equal(t, uint32(1), tu.NoErr(d.Sequence()))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.DumpsStarted))
	require.Empty(t, sink.records)
}

func TestEmptyTableDump(t *testing.T) {
	d, sink, _ := start(t, testConfig(t, 16, 4))

	d.TriggerDump()
	require.Empty(t, peerRows(t, next(t, sink)))
	_, indices := ribIndices(t, next(t, sink))
	require.Empty(t, indices)
}

func TestExecAfterStop(t *testing.T) {
	c := testConfig(t, 16, 4)
	tu.SetT(t)
	d := daemon.NewDumper(c, transport.NewEmitter(nil, nil), nil, nil)

	done := make(chan struct{})
	go func() {
		d.Start()
		close(done)
	}()
	require.Equal(t, 0, tu.NoErr(d.Routes()))

	d.Stop()
	<-done
	require.ErrorIs(t, d.Exec(func() {}), daemon.ErrStopped)
}

func TestMetricsServer(t *testing.T) {
	tu.SetT(t)
	registry := prometheus.NewRegistry()
	metrics := core.NewMetrics(registry)
	metrics.DumpSteps.Add(3)

	s := daemon.NewMetricsServer("127.0.0.1:0", registry)
	require.NoError(t, s.Start())
	defer s.Stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := tu.NoErr(io.ReadAll(resp.Body))
	require.Contains(t, string(body), "mrtd_dump_steps_total 3")
}

func TestLoadStatic(t *testing.T) {
	c := testConfig(t, 16, 4)
	c.Peers = []core.PeerConfig{{
		Name:    "p1",
		Address: "10.0.0.1",
		As:      65001,
		Routes: []core.RouteConfig{
			{Prefix: "198.51.100.0/24", AsPath: []uint32{65001}, NextHop: "10.0.0.1"},
			{Prefix: "203.0.113.0/24", AsPath: []uint32{65001, 65002}},
		},
	}, {
		Name:    "p6",
		Address: "2001:db8::1",
		BgpId:   "10.0.0.6",
		As:      65006,
		Routes:  []core.RouteConfig{{Prefix: "192.0.2.0/24"}},
	}}
	require.NoError(t, c.Parse())

	d, sink, _ := start(t, c)
	sessions := d.LoadStatic(c.Peers)
	require.Len(t, sessions, 2)
	require.Equal(t, uint32(0x0A000006), sessions[1].RemoteId)
	require.Equal(t, 3, tu.NoErr(d.Routes()))

	d.TriggerDump()
	rec := next(t, sink)
	require.Equal(t, []uint32{65001, 65001, 65006}, peerRows(t, rec))
	// The third row carries an IPv6 neighbor address
	require.Len(t, rec.Body(), 4+2+2+2+3*(1+4+4+4)+12)
	next(t, sink)
}
