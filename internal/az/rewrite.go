package az

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/store"
)

// evalRewrite evaluates a relation's CEL rewrite expression, resolving
// Open Question (a) ("what language expresses userset rewrites beyond plain
// tuples") with CEL rather than a bespoke DSL: it's already a teacher-pack
// dependency (see stacklok-toolhive's claims engine) and gives operators a
// single familiar expression language for every rewrite rule instead of one
// more thing to learn.
//
// Two functions are exposed inside the expression, both scoped to the
// subject/namespace/object_id of the relation being evaluated:
//
//   - has_relation(relation) bool — true if the same subject directly holds
//     a different relation on the same object (relation hierarchies, e.g.
//     "owner implies editor implies viewer").
//   - via(namespace, object_id, relation) bool — recurses Check against a
//     different object entirely, sharing the caller's cycle-detection
//     visited set.
func (e *Engine) evalRewrite(ctx context.Context, expr string, tenantID string, st store.SubjectType, subjectID, namespace, objectID string, visited map[string]bool) (bool, error) {
	hasRelation := func(args ...ref.Val) ref.Val {
		if len(args) != 1 {
			return types.NewErr("has_relation expects 1 argument")
		}
		rel, ok := args[0].Value().(string)
		if !ok {
			return types.NewErr("has_relation argument must be a string")
		}
		exists, err := e.tuples.TupleExists(ctx, store.TupleQuery{
			TenantID: tenantID, Namespace: namespace, ObjectID: objectID, Relation: rel,
			SubjectType: st, SubjectID: subjectID,
		})
		if err != nil {
			return types.NewErr("has_relation: %v", err)
		}
		return types.Bool(exists)
	}

	via := func(args ...ref.Val) ref.Val {
		if len(args) != 3 {
			return types.NewErr("via expects 3 arguments")
		}
		ns, ok1 := args[0].Value().(string)
		oid, ok2 := args[1].Value().(string)
		rel, ok3 := args[2].Value().(string)
		if !ok1 || !ok2 || !ok3 {
			return types.NewErr("via arguments must be strings")
		}
		allowed, err := e.checkRecursive(ctx, tenantID, st, subjectID, rel, ns, oid, visited)
		if err != nil {
			return types.NewErr("via: %v", err)
		}
		return types.Bool(allowed)
	}

	env, err := cel.NewEnv(
		cel.Variable("subject_type", cel.StringType),
		cel.Variable("subject_id", cel.StringType),
		cel.Variable("namespace", cel.StringType),
		cel.Variable("object_id", cel.StringType),
		cel.Function("has_relation",
			cel.Overload("has_relation_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.FunctionBinding(hasRelation))),
		cel.Function("via",
			cel.Overload("via_string_string_string", []*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(via))),
	)
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindInternal, "build cel environment")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, apperr.New(apperr.KindInternal, "compile rewrite expression: %s", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindInternal, "build cel program")
	}

	out, _, err := prg.Eval(map[string]any{
		"subject_type": string(st),
		"subject_id":   subjectID,
		"namespace":    namespace,
		"object_id":    objectID,
	})
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindInternal, "evaluate rewrite")
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, apperr.New(apperr.KindInternal, "rewrite expression %q did not evaluate to bool", expr)
	}
	return b, nil
}
