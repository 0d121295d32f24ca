package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coreauth/coreauth/internal/store"
)

var _ store.TupleStore = (*TupleStore)(nil)

type tupleKey struct {
	tenantID, namespace, objectID, relation string
	subjectType                             store.SubjectType
	subjectID, subjectRelation              string
}

// TupleStore is a mutex-protected, map-backed store.TupleStore.
type TupleStore struct {
	mu     sync.Mutex
	tuples map[tupleKey]store.Tuple
}

// NewTupleStore returns an empty in-memory tuple store.
func NewTupleStore() *TupleStore {
	return &TupleStore{tuples: make(map[tupleKey]store.Tuple)}
}

func keyOf(t store.Tuple) tupleKey {
	return tupleKey{t.TenantID, t.Namespace, t.ObjectID, t.Relation, t.SubjectType, t.SubjectID, t.SubjectRelation}
}

func (ts *TupleStore) WriteTuple(ctx context.Context, t store.Tuple) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	k := keyOf(t)
	if _, ok := ts.tuples[k]; ok {
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	ts.tuples[k] = t
	return nil
}

func (ts *TupleStore) DeleteTuple(ctx context.Context, t store.Tuple) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.tuples, keyOf(t))
	return nil
}

func (ts *TupleStore) QueryTuples(ctx context.Context, q store.TupleQuery) ([]store.Tuple, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var out []store.Tuple
	for _, t := range ts.tuples {
		if matches(t, q) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (ts *TupleStore) TupleExists(ctx context.Context, q store.TupleQuery) (bool, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, t := range ts.tuples {
		if matches(t, q) {
			return true, nil
		}
	}
	return false, nil
}

func matches(t store.Tuple, q store.TupleQuery) bool {
	if t.TenantID != q.TenantID {
		return false
	}
	if q.Namespace != "" && t.Namespace != q.Namespace {
		return false
	}
	if q.ObjectID != "" && t.ObjectID != q.ObjectID {
		return false
	}
	if q.Relation != "" && t.Relation != q.Relation {
		return false
	}
	if q.SubjectType != "" && t.SubjectType != q.SubjectType {
		return false
	}
	if q.SubjectID != "" && t.SubjectID != q.SubjectID {
		return false
	}
	return true
}
