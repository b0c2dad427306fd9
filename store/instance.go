package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a referenced instance does not exist.
	ErrNotFound = errors.New("store: instance not found")

	// ErrTypeMismatch is returned when a value violates a declared attribute
	// kind, an ownership is undeclared, or a role-player pairing violates the
	// schema's role typing.
	ErrTypeMismatch = errors.New("store: type mismatch")

	// ErrConstraint is returned when a key or uniqueness constraint would be
	// violated by a pending write.
	ErrConstraint = errors.New("store: key or uniqueness constraint violated")

	// ErrWriteConflict is returned at commit when a concurrent transaction
	// already committed a change to an overlapping instance. The caller
	// should retry the whole transaction.
	ErrWriteConflict = errors.New("store: write conflict, retry transaction")

	// ErrTxClosed is returned when a transaction is used after Commit,
	// Rollback, or Close.
	ErrTxClosed = errors.New("store: transaction closed")

	// ErrReadOnly is returned when a mutation is attempted on a read
	// transaction.
	ErrReadOnly = errors.New("store: read-only transaction")
)

// Instance is one stored concept: an entity, a relation instance, or an
// attribute node. Instances are immutable; mutating operations replace the
// surrounding state, never the instance.
type Instance struct {
	// IID is the permanent, globally unique instance identifier.
	IID string

	// Type is the exact (most specific) schema type label.
	Type string

	// Kind mirrors the schema kind of Type.
	Kind schema.TypeKind

	// Val is the carried value; set only for attribute instances.
	Val value.Value
}

// IsAttribute reports whether the instance is an attribute node.
func (i *Instance) IsAttribute() bool { return i.Kind == schema.KindAttribute }

// IsRelation reports whether the instance is a relation instance.
func (i *Instance) IsRelation() bool { return i.Kind == schema.KindRelation }

// newIID mints a fresh instance identifier. IIDs are never reused.
func newIID() string {
	return uuid.NewString()
}
