package models

import "fmt"

// Entity is implemented by every record an admin screen manipulates.
//
// WithEntityID returns a copy carrying the given id. It is used to stamp a
// provisional id on an optimistic create, and to re-key a confirmed entity
// whose server response omitted its id.
type Entity[E any] interface {
	EntityID() string
	WithEntityID(id string) E
}

// Completer is implemented by entities that can fill fields a confirmed
// server response left empty, using the optimistic value the user entered.
type Completer[E any] interface {
	CompleteFrom(optimistic E) E
}

type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

func (k OperationKind) Valid() error {
	switch k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return nil
	default:
		return fmt.Errorf("unknown operation kind %q", string(k))
	}
}
