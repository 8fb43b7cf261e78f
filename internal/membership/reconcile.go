// Package membership computes and applies the minimal add/remove operations
// needed to move a server-side association set to a client-selected one.
package membership

// Plan is the minimal mutation turning an existing membership set into the
// desired one. Immutable after construction; ToAdd keeps desired-input order
// and ToRemove keeps existing-input order, though no consumer relies on
// ordering.
type Plan struct {
	ToAdd    []string
	ToRemove []string
}

// IsEmpty reports whether applying the plan would be a no-op.
func (p Plan) IsEmpty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Size returns the total number of operations in the plan.
func (p Plan) Size() int {
	return len(p.ToAdd) + len(p.ToRemove)
}

// Reconcile computes the symmetric difference between the membership snapshot
// taken at session-open time and the user's final selection. Duplicates in
// either input are collapsed. Applying both halves of the plan to a set equal
// to existing yields exactly desired.
func Reconcile(existing, desired []string) Plan {
	existingSet := toSet(existing)
	desiredSet := toSet(desired)

	plan := Plan{ToAdd: []string{}, ToRemove: []string{}}
	seen := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := existingSet[id]; !ok {
			plan.ToAdd = append(plan.ToAdd, id)
		}
	}

	seen = make(map[string]struct{}, len(existing))
	for _, id := range existing {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := desiredSet[id]; !ok {
			plan.ToRemove = append(plan.ToRemove, id)
		}
	}

	return plan
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
