package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/store"
)

var _ store.TupleStore = (*TupleStore)(nil)

// TupleStore is a Postgres-backed store.TupleStore. relation_tuples carries
// a unique constraint on (tenant_id, namespace, object_id, relation,
// subject_type, subject_id, COALESCE(subject_relation, '')), matching the
// composite-key semantics the authorization engine's data model calls for.
type TupleStore struct {
	db *sqlx.DB
}

// OpenTupleStore wraps an existing connection pool as a TupleStore, sharing
// it with a Store opened against the same DSN.
func OpenTupleStore(db *sqlx.DB) *TupleStore {
	return &TupleStore{db: db}
}

func (t *TupleStore) WriteTuple(ctx context.Context, tup store.Tuple) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO relation_tuples (tenant_id, namespace, object_id, relation, subject_type, subject_id, subject_relation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (tenant_id, namespace, object_id, relation, subject_type, subject_id, COALESCE(subject_relation, ''))
		DO NOTHING`,
		tup.TenantID, tup.Namespace, tup.ObjectID, tup.Relation, string(tup.SubjectType), tup.SubjectID, tup.SubjectRelation, tup.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "write tuple")
	}
	return nil
}

func (t *TupleStore) DeleteTuple(ctx context.Context, tup store.Tuple) error {
	_, err := t.db.ExecContext(ctx, `
		DELETE FROM relation_tuples
		WHERE tenant_id = $1 AND namespace = $2 AND object_id = $3 AND relation = $4
		  AND subject_type = $5 AND subject_id = $6
		  AND (subject_relation = NULLIF($7, '') OR (subject_relation IS NULL AND NULLIF($7, '') IS NULL))`,
		tup.TenantID, tup.Namespace, tup.ObjectID, tup.Relation, string(tup.SubjectType), tup.SubjectID, tup.SubjectRelation)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "delete tuple")
	}
	return nil
}

func (t *TupleStore) QueryTuples(ctx context.Context, q store.TupleQuery) ([]store.Tuple, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT tenant_id, namespace, object_id, relation, subject_type, subject_id, subject_relation, created_at
		FROM relation_tuples WHERE tenant_id = $1`)
	args := []any{q.TenantID}

	addFilter := func(col string, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		fmt.Fprintf(&query, " AND %s = $%d", col, len(args))
	}
	addFilter("namespace", q.Namespace)
	addFilter("object_id", q.ObjectID)
	addFilter("relation", q.Relation)
	addFilter("subject_type", string(q.SubjectType))
	addFilter("subject_id", q.SubjectID)
	query.WriteString(" ORDER BY created_at DESC")

	var rows []struct {
		TenantID        string         `db:"tenant_id"`
		Namespace       string         `db:"namespace"`
		ObjectID        string         `db:"object_id"`
		Relation        string         `db:"relation"`
		SubjectType     string         `db:"subject_type"`
		SubjectID       string         `db:"subject_id"`
		SubjectRelation sql.NullString `db:"subject_relation"`
		CreatedAt       time.Time      `db:"created_at"`
	}
	if err := t.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "query tuples")
	}
	out := make([]store.Tuple, len(rows))
	for i, r := range rows {
		out[i] = store.Tuple{
			TenantID: r.TenantID, Namespace: r.Namespace, ObjectID: r.ObjectID, Relation: r.Relation,
			SubjectType: store.SubjectType(r.SubjectType), SubjectID: r.SubjectID,
			SubjectRelation: r.SubjectRelation.String, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func (t *TupleStore) TupleExists(ctx context.Context, q store.TupleQuery) (bool, error) {
	tuples, err := t.QueryTuples(ctx, q)
	if err != nil {
		return false, err
	}
	return len(tuples) > 0, nil
}
