// Package store implements the transactional state-store engine: a strictly
// serialized, single-writer read-modify-write queue over one
// document-of-collections. Every domain operation executes through exactly
// one transaction; no component mutates shared state outside one.
package store

import (
	"context"
	"fmt"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/state"
)

// Backing persists the whole document. Implementations must preserve
// collection order across round trips.
type Backing interface {
	Load(ctx context.Context) (*state.State, error)
	// Save persists next. prev is the snapshot the transaction started from
	// so row-oriented backings can diff instead of rewriting everything.
	Save(ctx context.Context, next, prev *state.State) error
}

// CollectionBacking is the optional scoped-load capability. Presence is
// detected once at construction time, never per call.
type CollectionBacking interface {
	Backing
	LoadCollections(ctx context.Context, names []string) (*state.State, error)
	SaveCollections(ctx context.Context, next, prev *state.State, names []string) error
}

// Store owns the document and totally orders transactions against it. All
// requests funnel through one worker goroutine: at most one in-flight
// read-modify-write per Store, FIFO in enqueue order.
type Store struct {
	backing Backing
	scoped  CollectionBacking // nil when the backing lacks the capability
	reqs    chan request
	done    chan struct{}
	log     logging.Logger
}

type request struct {
	ctx   context.Context
	names []string // nil for a full-document transaction
	fn    func(*state.State) error
	reply chan error
}

// New constructs a Store over backing and starts its worker. Close releases
// the worker.
func New(backing Backing, log logging.Logger) *Store {
	st := &Store{
		backing: backing,
		reqs:    make(chan request),
		done:    make(chan struct{}),
		log:     log,
	}
	if cb, ok := backing.(CollectionBacking); ok {
		st.scoped = cb
	}
	go st.run()
	return st
}

// Close stops the worker after the already-enqueued transactions drain.
func (st *Store) Close() {
	close(st.reqs)
	<-st.done
}

// Transact runs fn against a deep draft of the full document and persists
// the draft iff fn returns nil. fn errors propagate to the caller; the
// queue slot advances regardless.
func (st *Store) Transact(ctx context.Context, fn func(*state.State) error) error {
	return st.enqueue(ctx, nil, fn)
}

// TransactCollections is Transact restricted to the named collections. When
// the backing supports scoped loads only those collections are read and
// written; otherwise the whole document is round-tripped and the scope is
// advisory.
func (st *Store) TransactCollections(ctx context.Context, names []string, fn func(*state.State) error) error {
	if len(names) == 0 {
		return common.BadRequestf("transaction scope is empty")
	}
	for _, n := range names {
		if !state.KnownCollection(n) {
			return common.BadRequestf("unknown collection %q", n)
		}
	}
	return st.enqueue(ctx, names, fn)
}

func (st *Store) enqueue(ctx context.Context, names []string, fn func(*state.State) error) error {
	reply := make(chan error, 1)
	select {
	case st.reqs <- request{ctx: ctx, names: names, fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once enqueued the transaction owns its slot; wait for the worker.
	return <-reply
}

func (st *Store) run() {
	defer close(st.done)
	for req := range st.reqs {
		req.reply <- st.process(req)
	}
}

func (st *Store) process(req request) error {
	// The caller may have gone away while queued; skip the work but keep
	// the slot discipline.
	if err := req.ctx.Err(); err != nil {
		return err
	}

	var (
		prev *state.State
		err  error
	)
	scoped := req.names != nil && st.scoped != nil
	if scoped {
		prev, err = st.scoped.LoadCollections(req.ctx, req.names)
	} else {
		prev, err = st.backing.Load(req.ctx)
	}
	if err != nil {
		return common.Internal("state load failed", err)
	}

	draft := prev.Clone()
	if err := req.fn(draft); err != nil {
		// Draft discarded; nothing persisted.
		return err
	}

	if scoped {
		err = st.scoped.SaveCollections(req.ctx, draft, prev, req.names)
	} else {
		err = st.backing.Save(req.ctx, draft, prev)
	}
	if err != nil {
		return common.Internal("state save failed", err)
	}
	return nil
}

// MemoryBacking keeps the document in process memory. It hands out clones
// so nothing can observe the committed snapshot mid-transaction. Used by
// tests and single-process deployments without durability needs.
type MemoryBacking struct {
	current *state.State
}

// NewMemoryBacking returns a MemoryBacking holding an empty document.
// Access is already serialized by the Store worker, so no locking here.
func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{current: state.New()}
}

func (m *MemoryBacking) Load(ctx context.Context) (*state.State, error) {
	return m.current.Clone(), nil
}

func (m *MemoryBacking) Save(ctx context.Context, next, prev *state.State) error {
	if next == nil {
		return fmt.Errorf("nil state")
	}
	m.current = next.Clone()
	return nil
}
