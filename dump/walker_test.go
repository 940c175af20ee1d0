package dump_test

import (
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/nestroute/mrtd/bgp"
	"github.com/nestroute/mrtd/dump"
	"github.com/nestroute/mrtd/std/types/optional"
	"github.com/nestroute/mrtd/table"
	"github.com/stretchr/testify/require"
)

var peers = []*bgp.Session{
	{Name: "p0", RemoteId: 0x0A000001, RemoteAs: 65001, RemoteAddr: netip.MustParseAddr("10.0.0.1")},
	{Name: "p1", RemoteId: 0x0A000002, RemoteAs: 65002, RemoteAddr: netip.MustParseAddr("2001:db8::2")},
	{Name: "p2", RemoteId: 0x0A000003, RemoteAs: 4200000000, RemoteAddr: netip.MustParseAddr("10.0.0.3")},
}

func pfx(i int) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i >> 8), byte(i), 0}), 24)
}

// randomFib builds a table of n nodes with a mix of exportable and
// non-exportable routes, and returns the exportable ones in walk order.
func randomFib(rng *rand.Rand, n int) (*table.Fib, []*table.Route) {
	fib := table.NewFib()
	for i := 0; i < n; i++ {
		for j := 0; j < rng.Intn(4); j++ {
			route := &table.Route{Source: table.SourceStatic}
			if rng.Intn(2) == 0 {
				route = &table.Route{
					Source: table.SourceBGP,
					Sender: peers[j%len(peers)],
					Attrs: &bgp.PathAttrs{
						AsPath:    []uint32{peers[j%len(peers)].RemoteAs, uint32(i)},
						NextHop:   netip.MustParseAddr("192.0.2.1"),
						LocalPref: optional.Some(uint32(100 + j)),
					},
					LastModified: time.Unix(int64(1000+i), 0),
				}
			}
			fib.Add(pfx(i), route)
		}
		if rng.Intn(10) == 0 {
			fib.SetFlags(pfx(i), table.NetFlagStale)
		}
	}

	expected := []*table.Route{}
	fib.Walk(func(n *table.Net) {
		for _, route := range n.Routes {
			if dump.IsExportable(route) {
				expected = append(expected, route)
			}
		}
	})
	return fib, expected
}

func walkAll(w *dump.Walker, nodeBudget, entryBudget int, onMatch func(*table.Route)) int {
	steps := 0
	for w.State() == dump.WalkRunning {
		w.Step(nodeBudget, entryBudget, dump.IsExportable, onMatch)
		steps++
	}
	return steps
}

func TestWalkerYieldsEveryMatchOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 40; round++ {
		fib, expected := randomFib(rng, 1+rng.Intn(200))
		nodeBudget, entryBudget := 1+rng.Intn(20), 1+rng.Intn(6)

		w := dump.NewWalker(fib)
		got := []*table.Route{}
		walkAll(w, nodeBudget, entryBudget, func(r *table.Route) { got = append(got, r) })
		w.Teardown()

		msg := fmt.Sprintf("round %d budgets %d/%d", round, nodeBudget, entryBudget)
		require.Equal(t, expected, got, msg)
		require.Equal(t, len(expected), w.Yields(), msg)
		require.Equal(t, 0, fib.Iterators(), msg)
	}
}

func TestWalkerNodeBudget(t *testing.T) {
	fib := table.NewFib()
	for i := 0; i < 10; i++ {
		fib.Add(pfx(i), &table.Route{Source: table.SourceStatic})
	}

	w := dump.NewWalker(fib)
	defer w.Teardown()

	// 10 nodes at 3 per step: the fourth step visits the last node and finds the end
	steps := walkAll(w, 3, 1, func(*table.Route) { t.Fatal("static routes must not match") })
	require.Equal(t, 4, steps)
	require.Equal(t, 10, w.Visited())

	// When the budget runs out on the last node, the end is found in the same step
	fib2 := table.NewFib()
	for i := 0; i < 6; i++ {
		fib2.Add(pfx(i), &table.Route{Source: table.SourceStatic})
	}
	w2 := dump.NewWalker(fib2)
	defer w2.Teardown()
	require.Equal(t, dump.WalkRunning, w2.Step(3, 1, dump.IsExportable, nil))
	require.Equal(t, dump.WalkDone, w2.Step(3, 1, dump.IsExportable, nil))
	require.Equal(t, 6, w2.Visited())
}

func TestWalkerEntryBudgetRevisitsNode(t *testing.T) {
	fib := table.NewFib()
	for i := 0; i < 3; i++ {
		for _, p := range peers[:2] {
			fib.Add(pfx(i), &table.Route{Source: table.SourceBGP, Sender: p})
		}
	}

	w := dump.NewWalker(fib)
	defer w.Teardown()

	yields := []netip.Prefix{}
	onMatch := func(r *table.Route) { yields = append(yields, r.Net.Prefix) }

	// Budget 3: node 0 fits, node 1 would need 4 and is left for the next step
	require.Equal(t, dump.WalkRunning, w.Step(100, 3, dump.IsExportable, onMatch))
	require.Equal(t, []netip.Prefix{pfx(0), pfx(0)}, yields)
	require.Equal(t, 2, w.Visited())

	// The parked node is examined again from its start
	require.Equal(t, dump.WalkRunning, w.Step(100, 3, dump.IsExportable, onMatch))
	require.Equal(t, []netip.Prefix{pfx(0), pfx(0), pfx(1), pfx(1)}, yields)
	require.Equal(t, 4, w.Visited())

	require.Equal(t, dump.WalkDone, w.Step(100, 3, dump.IsExportable, onMatch))
	require.Len(t, yields, 6)
}

func TestWalkerOversizedNodeProgresses(t *testing.T) {
	fib := table.NewFib()
	for _, p := range peers {
		fib.Add(pfx(0), &table.Route{Source: table.SourceBGP, Sender: p})
	}

	w := dump.NewWalker(fib)
	defer w.Teardown()

	count := 0
	require.Equal(t, dump.WalkDone, w.Step(1, 1, dump.IsExportable, func(*table.Route) { count++ }))
	require.Equal(t, 3, count)
}

func TestWalkerZeroBudget(t *testing.T) {
	fib := table.NewFib()
	fib.Add(pfx(0), &table.Route{Source: table.SourceBGP, Sender: peers[0]})

	w := dump.NewWalker(fib)
	defer w.Teardown()

	calls := 0
	onMatch := func(*table.Route) { calls++ }
	require.Equal(t, dump.WalkRunning, w.Step(0, 5, dump.IsExportable, onMatch))
	require.Equal(t, dump.WalkRunning, w.Step(5, 0, dump.IsExportable, onMatch))
	require.Equal(t, dump.WalkRunning, w.Step(-1, -1, dump.IsExportable, onMatch))
	require.Zero(t, calls)
	require.Zero(t, w.Visited())

	require.Equal(t, dump.WalkDone, w.Step(5, 5, dump.IsExportable, onMatch))
	require.Equal(t, 1, calls)
}

func TestWalkerDoneIsAbsorbing(t *testing.T) {
	fib := table.NewFib()
	fib.Add(pfx(0), &table.Route{Source: table.SourceBGP, Sender: peers[0]})

	w := dump.NewWalker(fib)
	calls := 0
	onMatch := func(*table.Route) { calls++ }
	walkAll(w, 4, 4, onMatch)
	require.Equal(t, 1, calls)

	// Nodes added after the end do not reopen a finished walk
	fib.Add(pfx(1), &table.Route{Source: table.SourceBGP, Sender: peers[1]})
	for i := 0; i < 3; i++ {
		require.Equal(t, dump.WalkDone, w.Step(4, 4, dump.IsExportable, onMatch))
	}
	require.Equal(t, 1, calls)
	require.Equal(t, "done", w.State().String())

	w.Teardown()
	w.Teardown()
	require.Equal(t, 0, fib.Iterators())
	require.Panics(t, func() { w.Step(1, 1, dump.IsExportable, onMatch) })
}

func TestWalkerTeardownWhileRunning(t *testing.T) {
	fib := table.NewFib()
	for i := 0; i < 5; i++ {
		fib.Add(pfx(i), &table.Route{Source: table.SourceStatic})
	}

	w := dump.NewWalker(fib)
	require.Equal(t, dump.WalkRunning, w.Step(2, 2, dump.IsExportable, nil))
	require.Equal(t, 1, fib.Iterators())
	w.Teardown()
	require.Equal(t, 0, fib.Iterators())
	require.Equal(t, dump.WalkRunning, w.State())
}

func TestWalkerFollowsTableChanges(t *testing.T) {
	fib := table.NewFib()
	for i := 0; i < 4; i++ {
		fib.Add(pfx(i), &table.Route{Source: table.SourceBGP, Sender: peers[0]})
	}

	w := dump.NewWalker(fib)
	defer w.Teardown()

	seen := []netip.Prefix{}
	onMatch := func(r *table.Route) { seen = append(seen, r.Net.Prefix) }

	w.Step(1, 10, dump.IsExportable, onMatch)
	require.Equal(t, []netip.Prefix{pfx(0)}, seen)

	// Delete the node the cursor is parked at, and append a new one
	fib.Remove(pfx(1))
	fib.Add(pfx(9), &table.Route{Source: table.SourceBGP, Sender: peers[0]})

	walkAll(w, 1, 10, onMatch)
	require.Equal(t, []netip.Prefix{pfx(0), pfx(2), pfx(3), pfx(9)}, seen)
}

func TestIsExportable(t *testing.T) {
	fib := table.NewFib()
	bgpRoute := &table.Route{Source: table.SourceBGP, Sender: peers[0]}
	fib.Add(pfx(0), bgpRoute)
	require.True(t, dump.IsExportable(bgpRoute))

	fib.SetFlags(pfx(0), table.NetFlagFiltered)
	require.False(t, dump.IsExportable(bgpRoute))

	static := &table.Route{Source: table.SourceStatic}
	fib.Add(pfx(1), static)
	require.False(t, dump.IsExportable(static))

	orphan := &table.Route{Source: table.SourceBGP, Sender: peers[0]}
	require.False(t, dump.IsExportable(orphan))
}

func TestWalkerFailStopsWalk(t *testing.T) {
	fib := table.NewFib()
	for i := 0; i < 5; i++ {
		fib.Add(pfx(i), &table.Route{Source: table.SourceBGP, Sender: peers[0]})
	}

	w := dump.NewWalker(fib)
	boom := errors.New("record full")
	calls := 0
	onMatch := func(*table.Route) {
		calls++
		if calls == 3 {
			w.Fail(boom)
		}
	}

	// The step ends right after the failing call, budget notwithstanding
	require.Equal(t, dump.WalkFailed, w.Step(100, 100, dump.IsExportable, onMatch))
	require.Equal(t, 3, calls)
	require.ErrorIs(t, w.Err(), boom)
	require.Equal(t, "failed", w.State().String())

	require.Equal(t, dump.WalkFailed, w.Step(100, 100, dump.IsExportable, onMatch))
	require.Equal(t, 3, calls)

	// A finished walk cannot be failed afterwards
	w.Fail(errors.New("late"))
	require.ErrorIs(t, w.Err(), boom)

	w.Teardown()
	require.Equal(t, 0, fib.Iterators())
}
