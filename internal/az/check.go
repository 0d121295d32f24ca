package az

import (
	"context"
	"fmt"

	"github.com/coreauth/coreauth/internal/store"
)

// Check answers a relationship-based permission question: does the subject
// have the relation to namespace:object_id within tenant. Results are
// cached for cacheTTL unless BypassCache is set.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if err := validateIdentifier("tenant_id", req.TenantID); err != nil {
		return CheckResult{}, err
	}

	key := cacheKey(req.TenantID, req.Namespace, req.ObjectID, req.Relation, string(req.SubjectType), req.SubjectID)
	if !req.BypassCache {
		if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			return CheckResult{Allowed: len(raw) > 0 && raw[0] == 1, Reason: "from-cache"}, nil
		}
	}

	allowed, err := e.checkRecursive(ctx, req.TenantID, req.SubjectType, req.SubjectID, req.Relation, req.Namespace, req.ObjectID, make(map[string]bool))
	if err != nil {
		return CheckResult{}, err
	}

	val := []byte{0}
	if allowed {
		val = []byte{1}
	}
	if err := e.cache.Set(ctx, key, val, e.cacheTTL); err != nil {
		e.logger.Warn("az cache write failed", "error", err)
	}

	reason := "permission denied"
	if allowed {
		reason = "permission granted"
	}
	return CheckResult{Allowed: allowed, Reason: reason}, nil
}

// checkRecursive implements the four-step algorithm from the component
// design: direct hit, group membership traversal, userset expansion, then
// deny. visited guards against cycles by refusing re-entry into a visit key
// already visited during this Check.
func (e *Engine) checkRecursive(ctx context.Context, tenantID string, st store.SubjectType, subjectID, relation, namespace, objectID string, visited map[string]bool) (bool, error) {
	visitKey := fmt.Sprintf("%s:%s:%s:%s:%s", st, subjectID, relation, namespace, objectID)
	if visited[visitKey] {
		return false, nil
	}
	visited[visitKey] = true

	// 1. Direct hit.
	direct, err := e.tuples.TupleExists(ctx, store.TupleQuery{
		TenantID: tenantID, Namespace: namespace, ObjectID: objectID, Relation: relation,
		SubjectType: st, SubjectID: subjectID,
	})
	if err != nil {
		return false, err
	}
	if direct {
		return true, nil
	}

	// 2. Group membership traversal: only meaningful for user subjects.
	// Every tuple naming this user as a subject is a candidate "the user is
	// a member of object_id-as-a-group"; recurse treating that object as a
	// group subject of the original relation.
	if st == store.SubjectUser {
		memberships, err := e.tuples.QueryTuples(ctx, store.TupleQuery{TenantID: tenantID, SubjectType: store.SubjectUser, SubjectID: subjectID})
		if err != nil {
			return false, err
		}
		for _, m := range memberships {
			ok, err := e.checkRecursive(ctx, tenantID, store.SubjectGroup, m.ObjectID, relation, namespace, objectID, visited)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}

	// 3. Userset expansion: tuples granting the relation to a userset
	// reference (e.g. doc:f1#member as viewer of doc:d1); the userset's
	// object is looked up in the same namespace.
	usersets, err := e.tuples.QueryTuples(ctx, store.TupleQuery{
		TenantID: tenantID, Namespace: namespace, ObjectID: objectID, Relation: relation, SubjectType: store.SubjectUserset,
	})
	if err != nil {
		return false, err
	}
	for _, us := range usersets {
		if us.SubjectRelation == "" {
			continue
		}
		ok, err := e.checkRecursive(ctx, tenantID, st, subjectID, us.SubjectRelation, namespace, us.SubjectID, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	// 4. Optional CEL rewrite, evaluated only after the tuple-only
	// algorithm has had its say, so existing deployments without a model
	// see identical behavior.
	if rewrite, ok := e.rewriteFor(storeIDFromContext(ctx), namespace, relation); ok {
		return e.evalRewrite(ctx, rewrite, tenantID, st, subjectID, namespace, objectID, visited)
	}

	return false, nil
}

// storeIDFromContext reads the store id set by WithStoreID. The base engine
// is store-agnostic; rewrite evaluation only activates for callers that
// scope their context to a store carrying an AuthorizationModel.
func storeIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(storeIDContextKey{}).(string); ok {
		return v
	}
	return ""
}

type storeIDContextKey struct{}

// WithStoreID returns a context carrying the store id used to select an
// AuthorizationModel's CEL rewrites during Check.
func WithStoreID(ctx context.Context, storeID string) context.Context {
	return context.WithValue(ctx, storeIDContextKey{}, storeID)
}

func (e *Engine) rewriteFor(storeID, namespace, relation string) (string, bool) {
	if storeID == "" {
		return "", false
	}
	model, ok := e.models[storeID]
	if !ok {
		return "", false
	}
	ns, ok := model.Namespaces[namespace]
	if !ok {
		return "", false
	}
	rel, ok := ns.Relations[relation]
	if !ok || rel.Rewrite == "" {
		return "", false
	}
	return rel.Rewrite, true
}
