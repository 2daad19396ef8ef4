package mutation

import (
	"fmt"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/models"
)

// StageConflict is returned synchronously by Stage when the target entity
// already has a mutation in flight. The store is left untouched.
type StageConflict struct {
	Collection string
	EntityID   string
	// Pending is the operation currently in flight for the entity.
	Pending models.OperationKind
}

func (e *StageConflict) Error() string {
	return fmt.Sprintf("%s %q: %s already in flight", e.Collection, e.EntityID, e.Pending)
}

func (e *StageConflict) Is(target error) bool {
	return target == constants.ErrStageConflict
}

// RemoteFailure reports a remote call that failed after its optimistic change
// had been applied. By the time it is observed the change has been rolled
// back; Payload is what the user submitted, so the form can be re-filled.
type RemoteFailure struct {
	Collection string
	Operation  models.OperationKind
	EntityID   string
	Payload    any
	Err        error
}

func (e *RemoteFailure) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s %s failed: %v", e.Collection, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s %q failed: %v", e.Collection, e.Operation, e.EntityID, e.Err)
}

func (e *RemoteFailure) Unwrap() error {
	return e.Err
}

func (e *RemoteFailure) Is(target error) bool {
	return target == constants.ErrRemoteFailure
}
