package daemon

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/nestroute/mrtd/bgp"
	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/dump"
	"github.com/nestroute/mrtd/mrt"
	"github.com/nestroute/mrtd/std/utils"
	"github.com/nestroute/mrtd/table"
	"github.com/nestroute/mrtd/transport"
	"github.com/robfig/cron/v3"
)

// ErrStopped is returned by blocking calls made after the dumper quit.
var ErrStopped = errors.New("dumper stopped")

// Size of the task queue of the control loop
const taskQueueSize = 1024

// dumpJob is one table dump in progress.
type dumpJob struct {
	id      uuid.UUID
	peers   *dump.PeerIndexTableDump
	rib     *dump.RibTableDump
	started time.Time
	steps   int
}

// Dumper owns the routing table and exports it as MRT TABLE_DUMP_V2 records.
// All table and dump state is touched only by the control loop goroutine;
// other goroutines interact with it by posting tasks.
type Dumper struct {
	config    *core.Config
	collector *bgp.Session
	fib       *table.Fib
	emitter   *transport.Emitter
	metrics   *core.Metrics
	clock     core.Clock
	alloc     mrt.Allocator

	tasks   chan func()
	stop    chan bool
	stopped chan struct{}
	cron    *cron.Cron

	job *dumpJob
	seq uint32
}

// NewDumper creates a dumper writing through emitter. metrics and clock may be nil.
func NewDumper(config *core.Config, emitter *transport.Emitter, metrics *core.Metrics, clock core.Clock) *Dumper {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if metrics == nil {
		metrics = core.NewMetrics(nil)
	}

	return &Dumper{
		config: config,
		collector: &bgp.Session{
			Name:    config.Collector.Name,
			LocalId: config.CollectorId(),
			LocalAs: config.Collector.As,
		},
		fib:     table.NewFib(),
		emitter: emitter,
		metrics: metrics,
		clock:   clock,
		alloc:   mrt.NewPoolAllocator(mrt.DefaultCapacity),
		tasks:   make(chan func(), taskQueueSize),
		stop:    make(chan bool, 1),
		stopped: make(chan struct{}),
	}
}

func (d *Dumper) String() string {
	return "dumper"
}

// Start runs the control loop. Blocks until Stop() is called.
func (d *Dumper) Start() {
	core.Log.Info(d, "Starting MRT dumper", "version", utils.MrtdVersion,
		"collector", d.config.Collector.Name, "prefix", d.config.DumpPrefix())
	defer core.Log.Info(d, "Stopped MRT dumper")
	defer close(d.stopped)

	if schedule := d.config.DumpSchedule(); schedule != nil {
		d.cron = cron.New()
		d.cron.Schedule(schedule, cron.FuncJob(d.TriggerDump))
		d.cron.Start()
		defer d.cron.Stop()
		core.Log.Info(d, "Scheduled periodic dumps", "schedule", d.config.Dump.Schedule,
			"next", d.config.NextDump(d.clock.Now()))
	}

	defer d.abortDump()

	for {
		// While a dump runs, pending tasks go first and the dump
		// advances by one step whenever the queue is empty.
		if d.job != nil {
			select {
			case task := <-d.tasks:
				task()
			case <-d.stop:
				return
			default:
				d.stepDump()
			}
			continue
		}

		select {
		case task := <-d.tasks:
			task()
		case <-d.stop:
			return
		}
	}
}

// Stop tells the control loop to quit.
func (d *Dumper) Stop() {
	select {
	case d.stop <- true:
	default:
	}
}

// Post queues a task for the control loop.
func (d *Dumper) Post(task func()) {
	select {
	case d.tasks <- task:
	case <-d.stopped:
		core.Log.Warn(d, "Task dropped after stop")
	}
}

// Exec runs fn on the control loop and waits for it to finish.
func (d *Dumper) Exec(fn func()) error {
	done := make(chan struct{})
	d.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-d.stopped:
		return ErrStopped
	}
}

// Announce adds or replaces a route learned from sender.
func (d *Dumper) Announce(prefix netip.Prefix, sender *bgp.Session, attrs *bgp.PathAttrs) {
	d.Post(func() {
		d.fib.Add(prefix, &table.Route{
			Source:       table.SourceBGP,
			Attrs:        attrs,
			Sender:       sender,
			LastModified: d.clock.Now(),
		})
		core.Log.Trace(d, "Route announced", "prefix", prefix, "peer", sender)
	})
}

// Withdraw removes the route for prefix learned from sender.
func (d *Dumper) Withdraw(prefix netip.Prefix, sender *bgp.Session) {
	d.Post(func() {
		if !d.fib.Withdraw(prefix, table.SourceBGP, sender) {
			core.Log.Debug(d, "Withdraw of unknown route", "prefix", prefix, "peer", sender)
			return
		}
		core.Log.Trace(d, "Route withdrawn", "prefix", prefix, "peer", sender)
	})
}

// SetStale marks or clears the stale flag of a prefix. Stale prefixes are skipped by dumps.
func (d *Dumper) SetStale(prefix netip.Prefix, stale bool) {
	d.Post(func() {
		n := d.fib.Find(prefix)
		if n == nil {
			return
		}
		d.fib.SetFlags(prefix, utils.If(stale, n.Flags|table.NetFlagStale, n.Flags&^table.NetFlagStale))
	})
}

// TriggerDump queues a table dump. It is ignored while another dump runs.
func (d *Dumper) TriggerDump() {
	d.Post(d.startDump)
}

// Routes returns the number of prefixes in the table.
func (d *Dumper) Routes() (n int, err error) {
	err = d.Exec(func() { n = d.fib.Len() })
	return n, err
}

// Sequence returns the sequence number the next RIB record will carry.
func (d *Dumper) Sequence() (seq uint32, err error) {
	err = d.Exec(func() { seq = d.seq })
	return seq, err
}

func (d *Dumper) startDump() {
	if d.job != nil {
		core.Log.Warn(d, "Dump already in progress, skipping", "job", d.job.id)
		return
	}

	prefix := d.config.DumpPrefix()
	d.job = &dumpJob{
		id:      uuid.New(),
		peers:   dump.NewPeerIndexTableDump(d.collector, d.fib, d.alloc),
		started: d.clock.Now(),
		rib: dump.NewRibTableDump(d.fib, d.clock, d.alloc, d.seq,
			uint8(prefix.Bits()), prefix.Addr(), mrt.FamilyOf(prefix.Addr())),
	}
	d.metrics.DumpsStarted.Inc()
	d.metrics.DumpsInProgress.Inc()
	core.Log.Info(d, "Dump started", "job", d.job.id, "seq", d.seq, "routes", d.fib.Len())
}

// stepDump advances both walks of the current dump by one step.
//
// Both walkers are stepped back to back with equal budgets and no table
// mutation in between, so they visit the same nodes and yield the same
// routes. The i-th peer row thus always belongs to the i-th RIB entry,
// even when the table changes while the dump runs.
func (d *Dumper) stepDump() {
	job := d.job
	nodeBudget := d.config.Dump.NodeBudget
	entryBudget := d.config.Dump.EntryBudget

	ps := job.peers.Step(nodeBudget, entryBudget)
	rs := job.rib.Step(nodeBudget, entryBudget)
	job.steps++
	d.metrics.DumpSteps.Inc()

	if ps == dump.WalkFailed || rs == dump.WalkFailed {
		d.failDump(errors.Join(job.peers.Err(), job.rib.Err()))
		return
	}
	if ps != rs {
		core.Log.Fatal(d, "Dump walks diverged", "job", job.id, "peers", ps, "rib", rs)
		panic(fmt.Sprintf("daemon: dump walks diverged (%s, %s)", ps, rs))
	}
	if rs == dump.WalkDone {
		d.finishDump()
	}
}

// failDump drops a dump whose records could not be built. Nothing is emitted
// and the sequence number is not consumed.
func (d *Dumper) failDump(err error) {
	job := d.job
	core.Log.Error(d, "Dump failed", "job", job.id, "seq", d.seq,
		"peers", job.peers.PeerCount(), "entries", job.rib.EntryCount(), "steps", job.steps, "err", err)
	d.job = nil
	job.peers.Free()
	job.rib.Free()
	d.metrics.DumpsInProgress.Dec()
	d.metrics.DumpsFailed.Inc()
}

func (d *Dumper) finishDump() {
	job := d.job
	d.job = nil
	defer job.peers.Free()
	defer job.rib.Free()
	d.metrics.DumpsInProgress.Dec()

	// Both records of a dump carry the same timestamp so that time-based
	// sinks never split them.
	owner := job.id.String()
	ts := d.clock.Now()
	if err := d.emitter.EmitAt(owner, ts, mrt.TypeTableDumpV2, job.peers.Subtype(), job.peers.Dump()); err != nil {
		core.Log.Error(d, "Unable to emit peer index table", "job", job.id, "err", err)
	}
	if err := d.emitter.EmitAt(owner, ts, mrt.TypeTableDumpV2, job.rib.Subtype(), job.rib.Dump()); err != nil {
		core.Log.Error(d, "Unable to emit RIB table", "job", job.id, "err", err)
	}

	core.Log.Info(d, "Dump finished", "job", job.id, "seq", d.seq,
		"peers", job.peers.PeerCount(), "entries", job.rib.EntryCount(),
		"steps", job.steps, "took", ts.Sub(job.started))
	d.seq++
}

// abortDump releases a dump interrupted by Stop.
func (d *Dumper) abortDump() {
	if d.job == nil {
		return
	}
	core.Log.Warn(d, "Dump aborted", "job", d.job.id, "steps", d.job.steps)
	d.job.peers.Free()
	d.job.rib.Free()
	d.job = nil
	d.metrics.DumpsInProgress.Dec()
}
