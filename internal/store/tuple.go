package store

import (
	"context"
	"time"
)

// SubjectType is the kind of principal a relation tuple grants a relation
// to. Userset subjects additionally carry SubjectRelation, letting a tuple
// say "members of group g1 can view doc:1" instead of naming a user.
type SubjectType string

const (
	SubjectUser        SubjectType = "user"
	SubjectApplication SubjectType = "application"
	SubjectGroup       SubjectType = "group"
	SubjectUserset     SubjectType = "userset"
)

// Tuple is the core AZ record: "subject has relation to namespace:object_id
// within tenant". The seven columns together (with SubjectRelation treated
// as NULL-equivalent when empty) form the uniqueness key; tuples are never
// updated in place, only created and deleted.
type Tuple struct {
	TenantID       string
	Namespace      string
	ObjectID       string
	Relation       string
	SubjectType    SubjectType
	SubjectID      string
	SubjectRelation string // empty unless SubjectType == SubjectUserset
	CreatedAt      time.Time
}

// TupleQuery selects tuples by any subset of columns; zero-value fields are
// wildcards. TenantID is always required — cross-tenant queries are never
// permitted at the store layer.
type TupleQuery struct {
	TenantID    string
	Namespace   string
	ObjectID    string
	Relation    string
	SubjectType SubjectType
	SubjectID   string
}

// TupleStore is the relation-tuple persistence interface the authorization
// engine is built against.
type TupleStore interface {
	// WriteTuple inserts t if it does not already exist (by the composite
	// uniqueness key); writing a duplicate is a no-op, not an error.
	WriteTuple(ctx context.Context, t Tuple) error
	// DeleteTuple removes the tuple matching the composite key exactly. It
	// is not an error to delete a tuple that does not exist.
	DeleteTuple(ctx context.Context, t Tuple) error
	// QueryTuples returns every tuple matching q, most recently created
	// first.
	QueryTuples(ctx context.Context, q TupleQuery) ([]Tuple, error)
	// TupleExists reports whether a tuple matching q's non-zero fields
	// exists, skipping the overhead of materializing matches.
	TupleExists(ctx context.Context, q TupleQuery) (bool, error)
}
