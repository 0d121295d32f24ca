package az

import (
	"context"

	"github.com/coreauth/coreauth/internal/store"
)

// Expand returns the flat set of direct subjects with the given relation on
// namespace:object_id, plus any userset references with their subject
// relation. It does not recursively flatten usersets; callers that need a
// fully materialized view iterate Expand themselves.
func (e *Engine) Expand(ctx context.Context, tenantID, namespace, objectID, relation string) ([]SubjectInfo, error) {
	if err := validateIdentifier("tenant_id", tenantID); err != nil {
		return nil, err
	}
	tuples, err := e.tuples.QueryTuples(ctx, store.TupleQuery{
		TenantID: tenantID, Namespace: namespace, ObjectID: objectID, Relation: relation,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SubjectInfo, len(tuples))
	for i, t := range tuples {
		out[i] = SubjectInfo{SubjectType: t.SubjectType, SubjectID: t.SubjectID, ViaRelation: t.SubjectRelation}
	}
	return out, nil
}
