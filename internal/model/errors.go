package model

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalChild is returned when a child of the wrong kind is offered to a
	// container, or when a child already belongs to another parent.
	ErrIllegalChild = errors.New("illegal child")

	// ErrChildNotFound is returned when removing a child the node does not hold.
	ErrChildNotFound = errors.New("child not found")

	// ErrLockedColumn is returned when removing a column that is still the
	// child side of a live foreign key mapping. Remove the relationship first.
	ErrLockedColumn = errors.New("column is locked by a foreign key mapping")

	// ErrRemovalVetoed is returned when a pre-remove listener cancels a removal.
	ErrRemovalVetoed = errors.New("removal vetoed by listener")

	ErrNotAttached     = errors.New("relationship is not attached")
	ErrAlreadyAttached = errors.New("relationship is already attached")
	ErrSelfReference   = errors.New("self-referencing relationship cannot be identifying")
	ErrNoTransaction   = errors.New("no transaction in progress")
	ErrNoConnector     = errors.New("database has no connector")
)

// PopulateError records why the children of an object could not be fetched.
// It is stored on the object and returned to the caller of the failed populate.
type PopulateError struct {
	Path string // slash separated names from the root to the object
	Op   string // what was being populated: "catalogs", "columns", ...
	Err  error
}

func (e *PopulateError) Error() string {
	return fmt.Sprintf("populate %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *PopulateError) Unwrap() error {
	return e.Err
}
