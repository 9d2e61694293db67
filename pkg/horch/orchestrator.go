// Package horch implements the work orchestrator: it owns the worker
// pool, binds workers to CPUs, runs the default queue-scheduling and
// CPU-affinity policies, and drives shutdown. Workers are joined through
// an errgroup since every worker's Run can return an error.
package horch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hqueue"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/hworker"
)

// Config controls orchestrator startup.
type Config struct {
	MaxWorkers int
	LocalNode  hids.NodeId
	BindCPUs   bool // best-effort sched_setaffinity per worker (Linux only)
}

// Orchestrator owns the worker pool and the two built-in scheduler policies.
type Orchestrator struct {
	cfg      Config
	registry *hregistry.Registry
	tasks    *htask.Table
	log      *hlog.Logger

	workers []*hworker.Worker

	mu        sync.Mutex
	queues    []*hqueue.Queue
	rrCursor  int // round-robin cursor over workers 1..N-1 for non-admin groups

	eg     *errgroup.Group
	egCtx  context.Context
	cancel context.CancelFunc

	stopped chan struct{}
}

// New creates an Orchestrator and its worker pool (not yet running; call
// Start). Worker 0 is reserved for the admin queue and for LowPriority
// groups (LongRunning, Admin).
func New(cfg Config, registry *hregistry.Registry, tasks *htask.Table, log *hlog.Logger) *Orchestrator {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		tasks:    tasks,
		log:      log,
		stopped:  make(chan struct{}),
	}
	for i := 0; i < cfg.MaxWorkers; i++ {
		o.workers = append(o.workers, hworker.New(i, cfg.LocalNode, registry, tasks, log))
	}
	return o
}

// Start spawns every worker's loop on its own goroutine, joined through an
// errgroup, and binds CPU affinity if requested.
func (o *Orchestrator) Start(ctx context.Context) {
	o.egCtx, o.cancel = context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(o.egCtx)
	o.eg = eg
	for i, w := range o.workers {
		w := w
		i := i
		eg.Go(func() error {
			if o.cfg.BindCPUs {
				// LockOSThread first: affinity is a property of the OS
				// thread, and without this the goroutine could migrate
				// onto an unpinned thread before SchedSetaffinity runs.
				runtime.LockOSThread()
				bindWorkerCPU(i, o.log)
			}
			return w.Run(egCtx)
		})
	}
}

// Worker returns the i'th worker, for wiring admin/bootstrap queues.
func (o *Orchestrator) Worker(i int) *hworker.Worker { return o.workers[i%len(o.workers)] }

// NumWorkers returns how many workers the pool holds.
func (o *Orchestrator) NumWorkers() int { return len(o.workers) }

// AdminWorker returns worker 0, the reserved admin worker.
func (o *Orchestrator) AdminWorker() *hworker.Worker { return o.workers[0] }

// RegisterQueue makes q visible to ScheduleQueues' default policy. Called
// once per queue, typically right after CreateTaskState builds it.
func (o *Orchestrator) RegisterQueue(q *hqueue.Queue) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues = append(o.queues, q)
}

// StopRuntime signals every worker to flush and stop, then waits for them
// to join. It is idempotent.
func (o *Orchestrator) StopRuntime() error {
	select {
	case <-o.stopped:
		return nil
	default:
		close(o.stopped)
	}
	for _, w := range o.workers {
		w.Flush(true)
	}
	for _, w := range o.workers {
		w.Stop()
	}
	if o.cancel != nil {
		o.cancel()
	}
	if o.eg == nil {
		return nil
	}
	if err := o.eg.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("horch: worker join: %w", err)
	}
	return nil
}
