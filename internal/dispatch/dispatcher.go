// Package dispatch accepts delivery requests and runs each one as a
// background job.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"msgblast/internal/delivery"
	"msgblast/internal/job"
	"msgblast/internal/runtime/supervisor"
	logx "msgblast/pkg/logx"
)

// Runner executes one job to a terminal state. *delivery.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, id string, req delivery.Request)
}

// Dispatcher spawns one supervised goroutine per accepted request. There is
// no pool and no cap; the registry only tracks what is still running.
type Dispatcher struct {
	store  *job.Store
	runner Runner
	sup    *supervisor.Supervisor
	log    logx.Logger

	mu      sync.Mutex
	running map[string]delivery.Request
}

func New(store *job.Store, runner Runner, sup *supervisor.Supervisor, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:   store,
		runner:  runner,
		sup:     sup,
		log:     log.With(logx.String("comp", "dispatch")),
		running: map[string]delivery.Request{},
	}
}

// Submit registers a queued record and starts the job. The record is
// visible through the store before Submit returns. The job runs on the
// supervisor's context, never on the caller's.
func (d *Dispatcher) Submit(req delivery.Request) string {
	id := d.store.Create(job.Record{Status: job.StatusQueued, Message: "Job queued.", Progress: 0})

	d.mu.Lock()
	d.running[id] = req
	d.mu.Unlock()

	d.log.Info("job accepted", logx.String("job", id), logx.String("recipient", req.Recipient))
	d.sup.Go0("job", func(ctx context.Context) {
		defer d.forget(id)
		d.runner.Run(ctx, id, req)
	})
	return id
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.running, id)
	d.mu.Unlock()
}

// Running lists the ids of jobs whose goroutine has not yet returned.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Snapshot reports the supervisor that owns the job goroutines.
func (d *Dispatcher) Snapshot() supervisor.Snapshot { return d.sup.Snapshot() }

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Wait blocks until every job goroutine has returned or ctx ends. It is for
// shutdown and tests; request handlers never wait on jobs.
func (d *Dispatcher) Wait(ctx context.Context) error {
	return d.sup.Wait(ctx)
}
