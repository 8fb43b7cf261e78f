// Package panel owns the "exactly one edit panel is active" state machine for
// one admin session and orchestrates drafts, persistence and membership
// reconciliation around it.
package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenworks/backoffice/internal/draft"
	"github.com/lumenworks/backoffice/internal/membership"
)

// Mode distinguishes a create session from an edit session.
type Mode string

const (
	// ModeCreate edits the reserved not-yet-persisted draft.
	ModeCreate Mode = "create"
	// ModeEdit edits a persisted record.
	ModeEdit Mode = "edit"
)

// Status is the controller's visible state.
type Status string

const (
	// StatusClosed means no panel is active. Drafts survive in the store.
	StatusClosed Status = "closed"
	// StatusOpen means one create or edit panel is active.
	StatusOpen Status = "open"
)

var (
	errMissingSaver     = errors.New("saver dependency is required")
	errMissingTemplates = errors.New("template source is required")

	// ErrNoActivePanel indicates an operation that needs an open panel.
	ErrNoActivePanel = errors.New("panel: no active panel")
	// ErrSubmitInFlight indicates the active record already has a pending
	// submission; the requested transition is suppressed.
	ErrSubmitInFlight = errors.New("panel: submit in flight")
	// ErrMembershipUnavailable indicates a selection was supplied but no
	// membership source is configured.
	ErrMembershipUnavailable = errors.New("panel: membership source not configured")
)

// PersistedRecord is what the saver hands back after a successful write.
type PersistedRecord struct {
	ID     string
	Kind   string
	Fields draft.Fields
}

// Saver persists a draft field map. The reserved id "create" allocates a new
// record; the call must be idempotent under retry for the same fields.
type Saver interface {
	Save(ctx context.Context, recordID, kind string, fields draft.Fields) (PersistedRecord, error)
}

// MembershipSource supplies the snapshot taken at session open and the
// mutation primitives used at submit.
type MembershipSource interface {
	membership.Applier
	ListMembers(ctx context.Context, setID string) ([]string, error)
}

// Config describes controller dependencies.
type Config struct {
	Saver      Saver
	Membership MembershipSource
	// TemplateFor returns the canonical empty field map for a kind.
	TemplateFor func(kind string) draft.Fields
	Drafts      *draft.Store
	Clock       func() time.Time
	Logger      *zap.Logger
}

// EditSeed describes the record an edit panel opens on.
type EditSeed struct {
	ID     string
	Kind   string
	Fields draft.Fields
	// WithMembership requests a membership snapshot for the record's
	// association set (the record id doubles as the set id).
	WithMembership bool
}

// SubmitResult reports what a submit persisted.
type SubmitResult struct {
	Record     PersistedRecord
	Membership membership.Outcome
}

// Controller hosts the session state machine. The draft store may hold many
// drafts at once; exactly zero or one of them is the active panel. Methods
// are safe for concurrent use because requests for one admin session may
// interleave; per-record writer discipline remains the caller's concern.
type Controller struct {
	saver    Saver
	members  MembershipSource
	template func(kind string) draft.Fields
	drafts   *draft.Store
	clock    func() time.Time
	logger   *zap.Logger

	mu         sync.Mutex
	status     Status
	mode       Mode
	activeID   string
	activeKind string

	// createKind is the kind the reserved create draft was last seeded for.
	createKind string

	// membership context for the active panel; snapshot is taken at open
	// time, desired is the user's selection at submit time.
	snapshot    []string
	desired     []string
	hasSnapshot bool
	hasDesired  bool

	inFlight map[string]bool
}

// NewController validates dependencies and constructs a closed controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	if cfg.TemplateFor == nil {
		return nil, errMissingTemplates
	}
	drafts := cfg.Drafts
	if drafts == nil {
		drafts = draft.NewStore(draft.StoreConfig{})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		saver:    cfg.Saver,
		members:  cfg.Membership,
		template: cfg.TemplateFor,
		drafts:   drafts,
		clock:    clock,
		logger:   logger,
		status:   StatusClosed,
		inFlight: make(map[string]bool),
	}, nil
}

// OpenCreate activates a create panel for the given kind. The reserved
// "create" draft is seeded from the kind template unless an unsaved create
// draft for the same kind already exists, so reopening shows earlier unsaved
// input. An abandoned create draft of a different kind is replaced, never
// surfaced under the new kind's form.
func (c *Controller) OpenCreate(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.drafts.Has(draft.CreateKey) || c.createKind != kind {
		c.drafts.Seed(draft.CreateKey, c.template(kind))
		c.createKind = kind
	}
	c.status = StatusOpen
	c.mode = ModeCreate
	c.activeID = draft.CreateKey
	c.activeKind = kind
	c.resetMembershipLocked()
}

// OpenEdit activates an edit panel seeded from a persisted record. When the
// seed requests membership, the current server-side set is snapshotted now so
// submit can reconcile against it.
func (c *Controller) OpenEdit(ctx context.Context, seed EditSeed) error {
	var snapshot []string
	if seed.WithMembership {
		if c.members == nil {
			return ErrMembershipUnavailable
		}
		members, err := c.members.ListMembers(ctx, seed.ID)
		if err != nil {
			return err
		}
		snapshot = members
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.drafts.Seed(seed.ID, seed.Fields)
	c.status = StatusOpen
	c.mode = ModeEdit
	c.activeID = seed.ID
	c.activeKind = seed.Kind
	c.resetMembershipLocked()
	if seed.WithMembership {
		c.snapshot = snapshot
		c.hasSnapshot = true
	}
	return nil
}

// Close deactivates the panel without clearing any draft, so reopening the
// same record shows unsaved edits. While the active record's submission is
// pending the transition is suppressed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		return nil
	}
	if c.inFlight[c.activeID] {
		return ErrSubmitInFlight
	}
	c.closeLocked()
	return nil
}

// SetField records one field edit on the active draft. Fields the seed does
// not define degrade to a silent no-op.
func (c *Controller) SetField(field string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		return ErrNoActivePanel
	}
	c.drafts.SetField(c.activeID, field, value)
	return nil
}

// SetSelection replaces the desired membership selection for the active
// panel. Reconciliation runs at submit time against the open-time snapshot.
func (c *Controller) SetSelection(memberIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		return ErrNoActivePanel
	}
	if c.members == nil {
		return ErrMembershipUnavailable
	}
	c.desired = append([]string(nil), memberIDs...)
	c.hasDesired = true
	return nil
}

// Reset discards the active draft's edits, restoring its seed.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		return ErrNoActivePanel
	}
	c.drafts.Reset(c.activeID)
	if c.hasSnapshot {
		c.desired = nil
		c.hasDesired = false
	}
	return nil
}

// Draft returns the active panel's current field map.
func (c *Controller) Draft() (draft.Fields, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		return nil, ErrNoActivePanel
	}
	return c.drafts.Get(c.activeID), nil
}

// CurrentStatus reports the state machine position.
func (c *Controller) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ActivePanel reports the open panel's mode and record id.
func (c *Controller) ActivePanel() (Mode, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen {
		return "", "", false
	}
	return c.mode, c.activeID, true
}

// IsSubmitting reports whether the active record has a pending submission.
// The guard inside Submit and Close is authoritative; this accessor only
// feeds the UI affordance.
func (c *Controller) IsSubmitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen {
		return false
	}
	return c.inFlight[c.activeID]
}

// Submit persists the active draft and, when a selection was made, applies
// the membership reconciliation plan. A second submit for the same record is
// refused while the first is pending; submits for different records may
// overlap. On success the draft is re-seeded from the persisted record and
// the panel closes; when the panel was closed or switched mid-flight the
// result is still applied (stale writes are accepted, not rejected). On
// failure the draft is retained unchanged so the user can retry.
func (c *Controller) Submit(ctx context.Context) (SubmitResult, error) {
	c.mu.Lock()
	if c.status != StatusOpen {
		c.mu.Unlock()
		return SubmitResult{}, ErrNoActivePanel
	}
	recordID := c.activeID
	kind := c.activeKind
	if c.inFlight[recordID] {
		c.mu.Unlock()
		return SubmitResult{}, ErrSubmitInFlight
	}
	c.inFlight[recordID] = true
	fields := c.drafts.Get(recordID)
	snapshot := append([]string(nil), c.snapshot...)
	desired := append([]string(nil), c.desired...)
	reconcileNeeded := c.hasSnapshot && c.hasDesired
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, recordID)
		c.mu.Unlock()
	}()

	saved, err := c.saver.Save(ctx, recordID, kind, fields)
	if err != nil {
		c.logger.Error("panel submit failed",
			zap.String("record_id", recordID),
			zap.String("kind", kind),
			zap.Error(err))
		return SubmitResult{}, err
	}

	result := SubmitResult{Record: saved}
	if reconcileNeeded {
		plan := membership.Reconcile(snapshot, desired)
		outcome, applyErr := membership.Apply(ctx, c.members, saved.ID, plan, c.logger)
		result.Membership = outcome
		if applyErr != nil {
			// Record write landed; membership is a retryable residual.
			// Keep the panel open so the user can retry the remainder.
			return result, applyErr
		}
	}

	c.mu.Lock()
	c.drafts.Seed(saved.ID, saved.Fields)
	if recordID == draft.CreateKey {
		c.drafts.Clear(draft.CreateKey)
	}
	if c.status == StatusOpen && c.activeID == recordID {
		c.closeLocked()
	}
	c.mu.Unlock()

	c.logger.Info("panel submit applied",
		zap.String("record_id", saved.ID),
		zap.String("kind", saved.Kind))
	return result, nil
}

func (c *Controller) closeLocked() {
	c.status = StatusClosed
	c.mode = ""
	c.activeID = ""
	c.activeKind = ""
	c.resetMembershipLocked()
}

func (c *Controller) resetMembershipLocked() {
	c.snapshot = nil
	c.desired = nil
	c.hasSnapshot = false
	c.hasDesired = false
}
