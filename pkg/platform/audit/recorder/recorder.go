// Package recorder turns a guarded call into exactly one audit entry and hands
// it to the synchronous or asynchronous publisher.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

const defaultSyncTimeout = 3 * time.Second

// Mode selects how an entry is delivered.
type Mode int

const (
	// ModeSync blocks until the entry is persisted; failure is reported to the caller.
	ModeSync Mode = iota
	// ModeAsync enqueues and returns; failure is logged only.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Spec is the audit half of a guarded operation's declaration.
type Spec struct {
	Operation   string
	TargetClass string
	// EntityIDArg is the 1-based position of the argument holding the entity
	// id. Zero means none.
	EntityIDArg int
	// OldValueArg is the 1-based position of the argument holding the prior
	// state. Zero means none.
	OldValueArg int
	// ParamNames names the arguments in order. Unnamed arguments are keyed argN.
	ParamNames []string
	// IncludeResult records the result, or the error, as the new value.
	IncludeResult bool
	Mode          Mode
	// Pending records a successful call as PENDING because its side effects are
	// confirmed later through Reconcile.
	Pending bool
	// OptOut suppresses the completion entry. Denials are still recorded.
	OptOut bool
}

// Actor is the caller recorded on the entry.
type Actor struct {
	UserID    string
	OrgID     string
	Territory domain.Territory
}

// Completion describes a call that passed the guard and ran.
type Completion struct {
	Args     []any
	Result   any
	Err      error
	Duration time.Duration
}

// Publisher delivers a sealed entry.
type Publisher interface {
	Publish(ctx context.Context, entry audit.Entry) error
}

// PublishingFailure reports a synchronous audit write that did not persist. It
// is returned alongside the guarded operation's own result, never instead of it.
type PublishingFailure struct {
	EntryID   domain.EntryID
	Operation string
	Err       error
}

func (e *PublishingFailure) Error() string {
	return fmt.Sprintf("audit entry %s for %s not persisted: %v", e.EntryID, e.Operation, e.Err)
}

func (e *PublishingFailure) Unwrap() []error {
	return []error{dErrors.New(dErrors.CodeAuditPublishing, "audit publishing failed"), e.Err}
}

// Recorder builds, seals and publishes audit entries.
type Recorder struct {
	sync        Publisher
	async       Publisher
	reader      audit.Reader
	sealer      *audit.Sealer
	territories domain.TerritorySet
	clock       func() time.Time
	syncTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Recorder)

// WithAsync sets the publisher for ModeAsync entries. Without one, async
// entries are written through the sync publisher but failures are still only logged.
func WithAsync(p Publisher) Option {
	return func(r *Recorder) {
		r.async = p
	}
}

// WithReader enables Reconcile.
func WithReader(reader audit.Reader) Option {
	return func(r *Recorder) {
		r.reader = reader
	}
}

func WithSealer(s *audit.Sealer) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sealer = s
		}
	}
}

// WithTerritories sets the jurisdictions stored in the territory column.
func WithTerritories(set domain.TerritorySet) Option {
	return func(r *Recorder) {
		r.territories = set
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSyncTimeout bounds a synchronous write, retries included.
func WithSyncTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.syncTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// New creates a recorder publishing synchronous entries through sync.
func New(sync Publisher, opts ...Option) *Recorder {
	r := &Recorder{
		sync:        sync,
		sealer:      audit.NewSealer(nil),
		territories: domain.NewTerritorySet(domain.DefaultTerritories...),
		clock:       time.Now,
		syncTimeout: defaultSyncTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordDenied writes the SECURITY_DENIED entry for a call the guard rejected.
// The operation never ran, so there is no duration and no new value.
func (r *Recorder) RecordDenied(ctx context.Context, actor Actor, spec Spec, permission string, args []any) (audit.Entry, error) {
	params := r.parameters(spec, args)
	if permission != "" {
		params[audit.ParamPermission] = permission
	}
	entry := r.newEntry(ctx, actor, operationName(spec, permission), spec.TargetClass, audit.OutcomeSecurityDenied, params)
	return entry, r.publish(ctx, spec.Mode, entry)
}

// RecordCompletion writes the entry for a call that ran. It returns a zero
// entry and no error when the spec opts out.
func (r *Recorder) RecordCompletion(ctx context.Context, actor Actor, spec Spec, c Completion) (audit.Entry, error) {
	if spec.OptOut {
		return audit.Entry{}, nil
	}
	params := r.parameters(spec, c.Args)
	outcome := audit.OutcomeSuccess
	switch {
	case c.Err != nil:
		outcome = audit.OutcomeError
	case spec.Pending:
		outcome = audit.OutcomePending
	}
	if spec.IncludeResult {
		if c.Err != nil {
			params[audit.ParamNewValue] = audit.SanitizeError(c.Err)
		} else if c.Result != nil {
			params[audit.ParamNewValue] = audit.SanitizeValue(c.Result)
		}
	}

	entry := r.newEntry(ctx, actor, operationName(spec, ""), spec.TargetClass, outcome, params)
	entry.ErrorDetails = audit.SanitizeError(c.Err)
	entry.DurationMs = max(c.Duration.Milliseconds(), 0)
	return entry, r.publish(ctx, spec.Mode, entry)
}

// Reconcile appends the terminal follow-up of a PENDING entry. Entries are
// never updated; the follow-up carries the original's identity fields and the
// reconciling actor in its parameters.
func (r *Recorder) Reconcile(ctx context.Context, actor Actor, pendingID domain.EntryID, outcome audit.Outcome, details string) (audit.Entry, error) {
	if outcome != audit.OutcomeSuccess && outcome != audit.OutcomeError {
		return audit.Entry{}, dErrors.New(dErrors.CodeInvalidInput, "reconciliation outcome must be SUCCESS or ERROR")
	}
	if r.reader == nil {
		return audit.Entry{}, dErrors.New(dErrors.CodeInternal, "reconciliation is not configured")
	}

	pending, err := r.reader.Get(ctx, pendingID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return audit.Entry{}, dErrors.New(dErrors.CodeNotFound, "audit entry not found")
	}
	if err != nil {
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "load pending audit entry")
	}
	if pending.Outcome != audit.OutcomePending {
		return audit.Entry{}, dErrors.New(dErrors.CodeConflict, "audit entry is not PENDING")
	}
	_, err = r.reader.FindReconciliation(ctx, pendingID)
	switch {
	case err == nil:
		return audit.Entry{}, dErrors.New(dErrors.CodeConflict, "audit entry already reconciled")
	case !errors.Is(err, sentinel.ErrNotFound):
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "look up reconciliation")
	}

	params := map[string]any{"reconciled_by": actor.UserID}
	if id, ok := pending.Parameters[audit.ParamEntityID]; ok {
		params[audit.ParamEntityID] = id
	}
	if pending.Territory == "" {
		if declared, ok := pending.Parameters[audit.ParamDeclaredTerritory]; ok {
			params[audit.ParamDeclaredTerritory] = declared
		}
	}
	entry := r.newEntry(ctx, Actor{UserID: pending.UserID, OrgID: pending.OrgID, Territory: pending.Territory},
		pending.Operation, pending.TargetClass, outcome, params)
	entry.ReconcilesID = &pending.ID
	entry.DurationMs = max(entry.CreatedAt.Sub(pending.CreatedAt).Milliseconds(), 0)
	if outcome == audit.OutcomeError {
		entry.ErrorDetails = audit.SanitizeError(errors.New(details))
	}

	if err := r.publish(ctx, ModeSync, entry); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyReconciled) || errors.Is(err, sentinel.ErrConflict) {
			return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeConflict, "audit entry already reconciled")
		}
		return audit.Entry{}, err
	}
	return entry, nil
}

func (r *Recorder) newEntry(ctx context.Context, actor Actor, operation, targetClass string, outcome audit.Outcome, params map[string]any) audit.Entry {
	now := r.clock().UTC().Truncate(time.Microsecond)
	entry := audit.Entry{
		ID:             domain.NewEntryID(),
		UserID:         audit.CleanText(actor.UserID),
		OrgID:          audit.CleanText(actor.OrgID),
		Operation:      audit.CleanText(operation),
		TargetClass:    audit.CleanText(targetClass),
		Parameters:     params,
		Outcome:        outcome,
		CreatedAt:      now,
		RetentionUntil: audit.RetentionUntil(now),
		RequestID:      audit.CleanText(requestcontext.RequestID(ctx)),
	}
	switch {
	case r.territories.Contains(actor.Territory):
		entry.Territory = actor.Territory
	case actor.Territory != "":
		params[audit.ParamDeclaredTerritory] = string(actor.Territory)
	}
	entry.Parameters = audit.CleanParameters(params)
	return entry
}

// parameters extracts the declared argument positions and the redacted
// argument map.
func (r *Recorder) parameters(spec Spec, args []any) map[string]any {
	params := make(map[string]any)
	if len(args) > 0 {
		named := make(map[string]any, len(args))
		for i, arg := range args {
			named[argName(spec.ParamNames, i)] = arg
		}
		params[audit.ParamArguments] = audit.SanitizeValue(named)
	}
	if v, ok := argAt(args, spec.EntityIDArg); ok && v != nil {
		if audit.IsSecretKey(argName(spec.ParamNames, spec.EntityIDArg-1)) {
			params[audit.ParamEntityID] = audit.Redacted
		} else {
			params[audit.ParamEntityID] = fmt.Sprint(v)
		}
	}
	if v, ok := argAt(args, spec.OldValueArg); ok {
		params[audit.ParamOldValue] = audit.SanitizeValue(v)
	}
	return params
}

func (r *Recorder) publish(ctx context.Context, mode Mode, entry audit.Entry) error {
	if err := r.sealer.Seal(&entry); err != nil {
		r.metrics.IncPublishFailure(mode)
		r.logger.ErrorContext(ctx, "CRITICAL: audit entry could not be sealed",
			"operation", entry.Operation, "error", err)
		if mode == ModeAsync {
			return nil
		}
		return &PublishingFailure{EntryID: entry.ID, Operation: entry.Operation, Err: err}
	}

	if mode == ModeAsync {
		pub := r.async
		if pub == nil {
			pub = r.sync
		}
		if err := pub.Publish(ctx, entry); err != nil {
			r.metrics.IncPublishFailure(mode)
			r.logger.WarnContext(ctx, "async audit publish failed",
				"entry_id", entry.ID, "operation", entry.Operation, "error", err)
			return nil
		}
		r.metrics.IncRecorded(mode, entry.Outcome)
		return nil
	}

	// The write outlives a cancelled caller so the cancellation itself is audited.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.syncTimeout)
	defer cancel()
	if err := r.sync.Publish(writeCtx, entry); err != nil {
		r.metrics.IncPublishFailure(mode)
		return &PublishingFailure{EntryID: entry.ID, Operation: entry.Operation, Err: err}
	}
	r.metrics.IncRecorded(mode, entry.Outcome)
	return nil
}

func operationName(spec Spec, permission string) string {
	if spec.Operation != "" {
		return spec.Operation
	}
	return permission
}

func argName(names []string, i int) string {
	if i >= 0 && i < len(names) && names[i] != "" {
		return names[i]
	}
	return "arg" + strconv.Itoa(i+1)
}

func argAt(args []any, pos int) (any, bool) {
	if pos < 1 || pos > len(args) {
		return nil, false
	}
	return args[pos-1], true
}
