package membership

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ChangeKind distinguishes the two halves of a plan.
type ChangeKind string

const (
	// ChangeKindAdd attaches a member to the set.
	ChangeKindAdd ChangeKind = "add"
	// ChangeKindRemove detaches a member from the set.
	ChangeKindRemove ChangeKind = "remove"
)

// Change is one applied or failed plan operation.
type Change struct {
	Kind     ChangeKind
	MemberID string
}

// Applier persists membership mutations. ApplyBulk must attempt the whole
// plan atomically; AddMember and RemoveMember are the per-id primitives used
// when the bulk attempt fails. Both primitives must tolerate repeats: adding
// a present member or removing an absent one is a no-op, not an error.
type Applier interface {
	ApplyBulk(ctx context.Context, setID string, plan Plan) error
	AddMember(ctx context.Context, setID, memberID string) error
	RemoveMember(ctx context.Context, setID, memberID string) error
}

// Outcome reports which plan operations reached the server. Failed is the
// retryable residual; callers decide whether to retry it, nothing here does.
type Outcome struct {
	Applied []Change
	Failed  []Change
}

// PartialError reports that only part of a plan was applied.
type PartialError struct {
	SetID     string
	Succeeded int
	Total     int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("membership: %d of %d operations succeeded for set %s", e.Succeeded, e.Total, e.SetID)
}

// Apply pushes the plan through the applier. The bulk path is tried first;
// when it fails every operation is retried one at a time so partial progress
// is kept, and a PartialError describes the remainder.
func Apply(ctx context.Context, applier Applier, setID string, plan Plan, logger *zap.Logger) (Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if plan.IsEmpty() {
		return Outcome{Applied: []Change{}, Failed: []Change{}}, nil
	}

	if err := applier.ApplyBulk(ctx, setID, plan); err == nil {
		return Outcome{Applied: planChanges(plan), Failed: []Change{}}, nil
	} else {
		logger.Warn("bulk membership apply failed, falling back to sequential",
			zap.String("set_id", setID),
			zap.Int("operations", plan.Size()),
			zap.Error(err))
	}

	outcome := Outcome{Applied: []Change{}, Failed: []Change{}}
	for _, change := range planChanges(plan) {
		var err error
		switch change.Kind {
		case ChangeKindAdd:
			err = applier.AddMember(ctx, setID, change.MemberID)
		case ChangeKindRemove:
			err = applier.RemoveMember(ctx, setID, change.MemberID)
		}
		if err != nil {
			logger.Warn("membership operation failed",
				zap.String("set_id", setID),
				zap.String("member_id", change.MemberID),
				zap.String("kind", string(change.Kind)),
				zap.Error(err))
			outcome.Failed = append(outcome.Failed, change)
			continue
		}
		outcome.Applied = append(outcome.Applied, change)
	}

	if len(outcome.Failed) > 0 {
		return outcome, &PartialError{
			SetID:     setID,
			Succeeded: len(outcome.Applied),
			Total:     plan.Size(),
		}
	}
	return outcome, nil
}

func planChanges(plan Plan) []Change {
	changes := make([]Change, 0, plan.Size())
	for _, id := range plan.ToAdd {
		changes = append(changes, Change{Kind: ChangeKindAdd, MemberID: id})
	}
	for _, id := range plan.ToRemove {
		changes = append(changes, Change{Kind: ChangeKindRemove, MemberID: id})
	}
	return changes
}
