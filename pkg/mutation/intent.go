package mutation

import (
	"context"

	"github.com/storefront/adminsync/pkg/models"
	"github.com/storefront/adminsync/pkg/store"
)

type Outcome int

const (
	OutcomePending Outcome = iota
	// OutcomeConfirmed: the server accepted the mutation and the store holds
	// the confirmed entity.
	OutcomeConfirmed
	// OutcomeRolledBack: the remote call failed and the entity was restored
	// to its pre-mutation state.
	OutcomeRolledBack
	// OutcomeDiscarded: the response arrived for an entity that had changed
	// in the meantime and was not applied.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRolledBack:
		return "rolled_back"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "invalid"
	}
}

type Result[E any] struct {
	// Entity is the server-confirmed entity for confirmed creates and updates.
	Entity  E
	Outcome Outcome
	// Err is a *RemoteFailure when the remote call failed, nil otherwise.
	Err error
}

// Intent is one in-flight mutation.
type Intent[E models.Entity[E]] struct {
	// ProvisionalID is set for creates only.
	ProvisionalID string
	Operation     models.OperationKind
	// TargetID is empty for creates.
	TargetID string
	Payload  E
	// Preceding is the entity's state (or absence) captured before the
	// optimistic change, used verbatim for rollback.
	Preceding store.Snapshot[E]

	optimistic E
	revision   uint64

	done   chan struct{}
	result Result[E]
}

func newIntent[E models.Entity[E]](op models.OperationKind, targetID, provisionalID string, payload E, preceding store.Snapshot[E]) *Intent[E] {
	return &Intent[E]{
		ProvisionalID: provisionalID,
		Operation:     op,
		TargetID:      targetID,
		Payload:       payload,
		Preceding:     preceding,
		done:          make(chan struct{}),
	}
}

// key is the store id the intent currently occupies.
func (i *Intent[E]) key() string {
	if i.Operation == models.OperationCreate {
		return i.ProvisionalID
	}
	return i.TargetID
}

func (i *Intent[E]) resolve(res Result[E]) {
	i.result = res
	close(i.done)
}

// Done is closed once the intent has been confirmed, rolled back or discarded.
func (i *Intent[E]) Done() <-chan struct{} {
	return i.done
}

// Result returns the outcome, and false while the intent is still in flight.
func (i *Intent[E]) Result() (Result[E], bool) {
	select {
	case <-i.done:
		return i.result, true
	default:
		return Result[E]{}, false
	}
}

// Wait blocks until the intent resolves. The returned error is the
// *RemoteFailure of a rolled back mutation, or ctx's error. Discarded
// outcomes carry no error.
func (i *Intent[E]) Wait(ctx context.Context) (Result[E], error) {
	select {
	case <-i.done:
		return i.result, i.result.Err
	case <-ctx.Done():
		return Result[E]{}, ctx.Err()
	}
}
