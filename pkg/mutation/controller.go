// Package mutation implements the optimistic Mutation Controller.
//
// Every user-initiated create, update or delete is applied to the local store
// immediately, before the server has answered. The remote call then runs in
// the background and its response either reconciles the optimistic entity
// with the server's version or restores the exact pre-mutation state.
//
// At most one mutation is in flight per entity id; a second Stage against a
// busy entity fails with a *StageConflict and leaves the store untouched.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storefront/adminsync/internal/rand"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
	"github.com/storefront/adminsync/pkg/models"
	"github.com/storefront/adminsync/pkg/store"
)

// Resource is the remote side of a collection.
type Resource[E models.Entity[E]] interface {
	Fetch(ctx context.Context) ([]E, error)
	// Create returns the server-confirmed entity. The payload never carries
	// a provisional id.
	Create(ctx context.Context, payload E) (E, error)
	Update(ctx context.Context, id string, payload E) (E, error)
	Delete(ctx context.Context, id string) error
}

type Controller[E models.Entity[E]] struct {
	// Collection names the entity kind in logs, errors and metrics.
	Collection string

	// Timeout bounds each remote call. Zero leaves calls bounded only by the
	// caller's context.
	Timeout time.Duration

	// NewProvisionalID generates ids for optimistic creates.
	NewProvisionalID rand.Generator

	Metrics *metrics.Metrics

	resource Resource[E]
	store    *store.Store[E]
	logger   logger.Logger

	mu       sync.Mutex
	inflight map[string]*Intent[E]

	wg         sync.WaitGroup
	refreshing atomic.Bool
}

// New returns a controller owning an empty store for the collection.
func New[E models.Entity[E]](collection string, resource Resource[E], log logger.Logger) *Controller[E] {
	if log == nil {
		log = logger.Nop()
	}
	return &Controller[E]{
		Collection:       collection,
		Timeout:          constants.DefaultRequestTimeout,
		NewProvisionalID: rand.NewProvisionalID,
		resource:         resource,
		store:            store.New[E](),
		logger:           log,
		inflight:         make(map[string]*Intent[E]),
	}
}

// View returns the read-only store rendered by the admin screen.
func (c *Controller[E]) View() store.View[E] {
	return c.store
}

// Pending reports whether id has a mutation in flight.
func (c *Controller[E]) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.inflight[id]
	return ok
}

func (c *Controller[E]) Create(ctx context.Context, payload E) (*Intent[E], error) {
	return c.Stage(ctx, models.OperationCreate, "", payload)
}

func (c *Controller[E]) Update(ctx context.Context, id string, payload E) (*Intent[E], error) {
	return c.Stage(ctx, models.OperationUpdate, id, payload)
}

func (c *Controller[E]) Delete(ctx context.Context, id string) (*Intent[E], error) {
	var zero E
	return c.Stage(ctx, models.OperationDelete, id, zero)
}

// Modify stages an update computed from the entity's current value. Reading
// the value and staging happen atomically.
func (c *Controller[E]) Modify(ctx context.Context, id string, fn func(E) E) (*Intent[E], error) {
	c.mu.Lock()
	c.store.Hold()
	var intent *Intent[E]
	current, ok := c.store.Get(id)
	err := c.checkTargetLocked(id)
	if err == nil && !ok {
		err = fmt.Errorf("%s update %q: %w", c.Collection, id, constants.ErrNotFound)
	}
	if err == nil {
		intent, err = c.stageLocked(models.OperationUpdate, id, fn(current))
	}
	c.mu.Unlock()
	c.store.Release()

	if err != nil {
		return nil, err
	}
	c.dispatch(ctx, intent)
	return intent, nil
}

// Stage applies the optimistic change, records the intent and dispatches the
// remote call. It returns once the store reflects the change; the remote
// call resolves the intent later.
func (c *Controller[E]) Stage(ctx context.Context, op models.OperationKind, targetID string, payload E) (*Intent[E], error) {
	if err := op.Valid(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.store.Hold()
	intent, err := c.stageLocked(op, targetID, payload)
	c.mu.Unlock()
	c.store.Release()

	if err != nil {
		return nil, err
	}
	c.dispatch(ctx, intent)
	return intent, nil
}

func (c *Controller[E]) checkTargetLocked(id string) error {
	if id == "" {
		return constants.ErrMissingTarget
	}
	if pending, busy := c.inflight[id]; busy {
		c.Metrics.StageConflict(c.Collection)
		return &StageConflict{Collection: c.Collection, EntityID: id, Pending: pending.Operation}
	}
	return nil
}

func (c *Controller[E]) stageLocked(op models.OperationKind, targetID string, payload E) (*Intent[E], error) {
	var intent *Intent[E]

	switch op {
	case models.OperationCreate:
		id := c.NewProvisionalID()
		for {
			if _, taken := c.store.Get(id); !taken {
				break
			}
			id = c.NewProvisionalID()
		}
		intent = newIntent(op, "", id, payload, c.store.SnapshotOf(id))
		intent.optimistic = payload.WithEntityID(id)
		if err := c.store.Apply(store.Insert(intent.optimistic)); err != nil {
			return nil, err
		}

	case models.OperationUpdate, models.OperationDelete:
		if err := c.checkTargetLocked(targetID); err != nil {
			return nil, err
		}
		snap := c.store.SnapshotOf(targetID)
		if _, present := snap.Value(); !present {
			return nil, fmt.Errorf("%s %s %q: %w", c.Collection, op, targetID, constants.ErrNotFound)
		}
		intent = newIntent(op, targetID, "", payload, snap)

		var err error
		if op == models.OperationUpdate {
			intent.optimistic = payload.WithEntityID(targetID)
			err = c.store.Apply(store.Replace(targetID, intent.optimistic))
		} else {
			err = c.store.Apply(store.Remove[E](targetID))
		}
		if err != nil {
			return nil, err
		}
	}

	intent.revision, _ = c.store.Revision(intent.key())
	c.inflight[intent.key()] = intent

	c.logger.Debug("mutation.Controller staged",
		"collection", c.Collection,
		"operation", string(op),
		"id", intent.key(),
	)
	return intent, nil
}

func (c *Controller[E]) dispatch(ctx context.Context, intent *Intent[E]) {
	c.Metrics.MutationStaged(c.Collection, string(intent.Operation))

	c.wg.Add(1)
	go c.execute(ctx, intent)
}

// execute runs the remote call. Cancelling ctx fails the call, which rolls
// the optimistic change back.
func (c *Controller[E]) execute(ctx context.Context, intent *Intent[E]) {
	defer c.wg.Done()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	confirmed, err := c.call(ctx, intent)

	c.mu.Lock()
	c.store.Hold()
	var (
		res    Result[E]
		resync bool
	)
	if err != nil {
		res, resync = c.rollbackLocked(intent, err)
	} else {
		res, resync = c.reconcileLocked(intent, confirmed)
	}
	delete(c.inflight, intent.key())
	c.mu.Unlock()
	c.store.Release()

	c.Metrics.MutationResolved(c.Collection, string(intent.Operation), res.Outcome.String())
	intent.resolve(res)

	if resync {
		c.refreshAsync()
	}
}

func (c *Controller[E]) call(ctx context.Context, intent *Intent[E]) (E, error) {
	switch intent.Operation {
	case models.OperationCreate:
		return c.resource.Create(ctx, intent.Payload)
	case models.OperationUpdate:
		return c.resource.Update(ctx, intent.TargetID, intent.optimistic)
	default:
		var zero E
		return zero, c.resource.Delete(ctx, intent.TargetID)
	}
}

// currentLocked reports whether the entry the intent wrote is still exactly as
// the intent left it.
func (c *Controller[E]) currentLocked(intent *Intent[E]) bool {
	rev, ok := c.store.Revision(intent.key())
	if intent.Operation == models.OperationDelete {
		return !ok
	}
	return ok && rev == intent.revision
}

func (c *Controller[E]) discardLocked(intent *Intent[E], reason string) {
	c.logger.Info("mutation.Controller response discarded",
		"collection", c.Collection,
		"operation", string(intent.Operation),
		"id", intent.key(),
		"reason", reason,
		"error", constants.ErrStaleReconciliation,
	)
}

func (c *Controller[E]) reconcileLocked(intent *Intent[E], confirmed E) (Result[E], bool) {
	if !c.currentLocked(intent) {
		c.discardLocked(intent, "entity changed while the request was in flight")
		return Result[E]{Entity: confirmed, Outcome: OutcomeDiscarded}, true
	}

	if intent.Operation == models.OperationDelete {
		c.logger.Debug("mutation.Controller confirmed",
			"collection", c.Collection, "operation", string(intent.Operation), "id", intent.TargetID)
		return Result[E]{Outcome: OutcomeConfirmed}, false
	}

	if completer, ok := any(confirmed).(models.Completer[E]); ok {
		confirmed = completer.CompleteFrom(intent.optimistic)
	}

	key := intent.key()
	confirmedID := confirmed.EntityID()

	if intent.Operation == models.OperationUpdate && confirmedID != intent.TargetID {
		confirmed = confirmed.WithEntityID(intent.TargetID)
		confirmedID = intent.TargetID
	}

	if confirmedID == "" || rand.IsProvisional(confirmedID) {
		// Without a server id the entity cannot be addressed again; drop the
		// provisional entry and let a refresh bring the real one.
		_ = c.store.Apply(store.Remove[E](key))
		c.logger.Warn("mutation.Controller confirmed create has no server id",
			"collection", c.Collection, "provisional_id", key)
		return Result[E]{Entity: confirmed, Outcome: OutcomeConfirmed}, true
	}

	if confirmedID != key {
		if _, exists := c.store.Get(confirmedID); exists {
			// A push for the same entity got here first.
			_ = c.store.Apply(store.Remove[E](confirmedID))
		}
	}
	if err := c.store.Apply(store.Replace(key, confirmed)); err != nil {
		c.logger.Error("mutation.Controller reconcile",
			"collection", c.Collection, "id", key, "error", err)
		return Result[E]{Entity: confirmed, Outcome: OutcomeDiscarded}, true
	}

	c.logger.Debug("mutation.Controller confirmed",
		"collection", c.Collection,
		"operation", string(intent.Operation),
		"id", confirmedID,
	)
	return Result[E]{Entity: confirmed, Outcome: OutcomeConfirmed}, false
}

func (c *Controller[E]) rollbackLocked(intent *Intent[E], err error) (Result[E], bool) {
	failure := &RemoteFailure{
		Collection: c.Collection,
		Operation:  intent.Operation,
		EntityID:   intent.TargetID,
		Payload:    intent.Payload,
		Err:        err,
	}

	if !c.currentLocked(intent) {
		c.discardLocked(intent, "entity changed before the failure arrived")
		c.logger.Warn("mutation.Controller remote call failed after a server write",
			"collection", c.Collection,
			"operation", string(intent.Operation),
			"id", intent.key(),
			"error", failure,
		)
		return Result[E]{Outcome: OutcomeDiscarded}, false
	}

	c.store.Restore(intent.Preceding)
	c.logger.Warn("mutation.Controller rolled back",
		"collection", c.Collection,
		"operation", string(intent.Operation),
		"id", intent.key(),
		"error", err,
	)
	return Result[E]{Outcome: OutcomeRolledBack, Err: failure}, false
}

// ApplyRemote upserts an entity the server asserted, typically from a push
// event. Server assertions win over in-flight optimistic state: a pending
// reconciliation for the same id will find the entry changed and be discarded.
func (c *Controller[E]) ApplyRemote(entity E) error {
	id := entity.EntityID()
	if id == "" {
		return fmt.Errorf("%s apply remote: %w", c.Collection, constants.ErrMissingTarget)
	}

	c.mu.Lock()
	c.store.Hold()
	var err error
	if _, exists := c.store.Get(id); exists {
		err = c.store.Apply(store.Replace(id, entity))
	} else {
		err = c.store.Apply(store.Insert(entity))
	}
	if _, pending := c.inflight[id]; pending && err == nil {
		c.logger.Debug("mutation.Controller server write supersedes pending mutation",
			"collection", c.Collection, "id", id)
	}
	c.mu.Unlock()
	c.store.Release()

	return err
}

// RemoveRemote removes an entity the server reported deleted. Removing an
// unknown id is not an error.
func (c *Controller[E]) RemoveRemote(id string) error {
	if id == "" {
		return fmt.Errorf("%s remove remote: %w", c.Collection, constants.ErrMissingTarget)
	}

	c.mu.Lock()
	c.store.Hold()
	err := c.store.Apply(store.Remove[E](id))
	c.mu.Unlock()
	c.store.Release()

	if errors.Is(err, constants.ErrNotFound) {
		return nil
	}
	return err
}

// Refresh fetches the collection and loads it into the store.
func (c *Controller[E]) Refresh(ctx context.Context) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	list, err := c.resource.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%s fetch: %w", c.Collection, err)
	}
	c.Load(list)
	return nil
}

// Load replaces the collection with the server's list while keeping every
// in-flight optimistic change visible: provisional creates stay, pending
// updates keep their optimistic value and pending deletes stay removed.
func (c *Controller[E]) Load(list []E) {
	c.mu.Lock()
	c.store.Hold()

	merged := make([]E, 0, len(list)+len(c.inflight))
	for _, e := range list {
		intent, pending := c.inflight[e.EntityID()]
		switch {
		case !pending:
			merged = append(merged, e)
		case intent.Operation == models.OperationUpdate:
			merged = append(merged, intent.optimistic)
		}
	}
	// Provisional entries keep their relative order at the end.
	for _, e := range c.store.List() {
		if intent, pending := c.inflight[e.EntityID()]; pending && intent.Operation == models.OperationCreate {
			merged = append(merged, e)
		}
	}

	c.store.Load(merged)
	for key, intent := range c.inflight {
		if intent.Operation != models.OperationDelete {
			intent.revision, _ = c.store.Revision(key)
		}
	}

	c.mu.Unlock()
	c.store.Release()

	c.logger.Debug("mutation.Controller loaded",
		"collection", c.Collection, "count", len(merged))
}

// refreshAsync schedules a background refresh, coalescing concurrent requests.
func (c *Controller[E]) refreshAsync() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.refreshing.Store(false)

		if err := c.Refresh(context.Background()); err != nil {
			c.logger.Warn("mutation.Controller resync failed",
				"collection", c.Collection, "error", err)
		}
	}()
}

// Wait blocks until every dispatched remote call and background refresh has
// finished.
func (c *Controller[E]) Wait() {
	c.wg.Wait()
}
