// Package dispatch is the job-dispatch collaborator: fire-and-forget
// notifications that a build or a reconcile pass should be processed. The
// core does not depend on delivery guarantees beyond "will eventually be
// processed".
package dispatch

import (
	"context"
	"sync"

	"github.com/devplane-io/devplane/internal/logging"
)

// Dispatcher receives fire-and-forget work notifications.
type Dispatcher interface {
	EnqueueBuild(buildID string)
	EnqueueReconcile()
}

// Nop drops every notification. Tests drive the pipeline directly.
type Nop struct{}

func (Nop) EnqueueBuild(string) {}
func (Nop) EnqueueReconcile()   {}

// Handlers are the work functions an Async dispatcher drives. They are
// wired after the services exist, breaking the construction cycle between
// dispatcher and pipeline.
type Handlers struct {
	ProcessBuild func(ctx context.Context, buildID string) error
	Reconcile    func(ctx context.Context) error
}

type job struct {
	buildID   string // empty means reconcile
	reconcile bool
}

// Async processes notifications on one background goroutine. The queue is
// bounded; when it is full a notification is dropped with a warning — the
// reconcile sweep picks up anything missed.
type Async struct {
	jobs     chan job
	log      logging.Logger
	handlers Handlers

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewAsync(log logging.Logger) *Async {
	return &Async{
		jobs: make(chan job, 128),
		log:  log,
		done: make(chan struct{}),
	}
}

// Start wires the handlers and begins draining the queue.
func (a *Async) Start(h Handlers) {
	a.startOnce.Do(func() {
		a.handlers = h
		go a.run()
	})
}

// Close stops accepting work and waits for the worker to drain.
func (a *Async) Close() {
	a.closeOnce.Do(func() { close(a.jobs) })
	<-a.done
}

func (a *Async) EnqueueBuild(buildID string) {
	a.enqueue(job{buildID: buildID})
}

func (a *Async) EnqueueReconcile() {
	a.enqueue(job{reconcile: true})
}

func (a *Async) enqueue(j job) {
	select {
	case a.jobs <- j:
	default:
		a.log.Warn(context.Background(), "dispatch queue full, dropping job",
			"buildID", j.buildID, "reconcile", j.reconcile)
	}
}

func (a *Async) run() {
	defer close(a.done)
	ctx := context.Background()
	for j := range a.jobs {
		var err error
		switch {
		case j.reconcile:
			if a.handlers.Reconcile != nil {
				err = a.handlers.Reconcile(ctx)
			}
		default:
			if a.handlers.ProcessBuild != nil {
				err = a.handlers.ProcessBuild(ctx, j.buildID)
			}
		}
		if err != nil {
			a.log.Error(ctx, "dispatched job failed",
				"buildID", j.buildID, "reconcile", j.reconcile, "err", err)
		}
	}
}
