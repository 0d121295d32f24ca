package az

import (
	"fmt"
)

// cacheKey mirrors the reference engine's
// "authz:check:{tenant}:{namespace}:{object_id}:{relation}:{subject_type}:{subject_id}"
// format. Ordering namespace/object before relation/subject keeps
// cacheKeyPrefix a valid prefix of every key for a given object, which is
// the invalidation granularity tuple writes need.
func cacheKey(tenantID, namespace, objectID, relation, subjectType, subjectID string) string {
	return fmt.Sprintf("authz:check:%s:%s:%s:%s:%s:%s", tenantID, namespace, objectID, relation, subjectType, subjectID)
}

// cacheKeyPrefix returns the prefix matching every cached check result
// touching (tenant, namespace, object_id). Invalidation by subject identity
// is not indexed separately: per the concurrency model, cache coherence is
// best-effort and a stale positive/negative for a subject not directly
// targeted by the write self-heals within one TTL.
func cacheKeyPrefix(tenantID, namespace, objectID string) string {
	return fmt.Sprintf("authz:check:%s:%s:%s:", tenantID, namespace, objectID)
}
