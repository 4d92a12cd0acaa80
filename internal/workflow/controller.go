// SPDX-License-Identifier: Apache-2.0

// Package workflow drives a review session through its stages. Each stage
// runs only when every earlier stage is complete, replaces its own artifact
// with a new version, and invalidates every later stage. Stage execution is
// serialized per session; a reset cancels whatever that session is running.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gemaraproj/registry-review/internal/catalog"
	"github.com/gemaraproj/registry-review/internal/classify"
	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/discovery"
	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/evidence/parsers"
	"github.com/gemaraproj/registry-review/internal/mapping"
	"github.com/gemaraproj/registry-review/internal/metrics"
	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/store"
	"github.com/gemaraproj/registry-review/internal/validation"
)

// ErrCancelled is the cause attached to stage work cancelled by a reset.
var ErrCancelled = errors.New("cancelled by session reset")

// Completer is the text-completion oracle shared by extraction and
// validation.
type Completer interface {
	Available() bool
	Complete(ctx context.Context, req oracle.Request) (oracle.Response, error)
}

// stageKinds maps each stage to the artifact it produces.
var stageKinds = map[review.Stage]store.Kind{
	review.StageDocumentDiscovery:  store.KindDocuments,
	review.StageRequirementMapping: store.KindMappings,
	review.StageEvidenceExtraction: store.KindEvidence,
	review.StageCrossValidation:    store.KindValidation,
	review.StageReportGeneration:   store.KindReport,
	review.StageHumanReview:        store.KindReview,
}

// Controller implements every session operation.
type Controller struct {
	store      *store.Store
	catalogs   *catalog.Registry
	discoverer *discovery.Discoverer
	mapper     *mapping.Mapper
	extractor  *evidence.Extractor
	validator  *validation.Validator
	oracle     Completer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller and its stages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithOracle enables oracle field extraction and advisory validation.
func WithOracle(o Completer) Option {
	return func(c *Controller) {
		c.oracle = o
	}
}

// WithClock overrides the time source for session and artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDFunc overrides session and document ID generation.
func WithIDFunc(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

// New builds a Controller and its stage components from cfg.
func New(st *store.Store, catalogs *catalog.Registry, cfg *config.Config, opts ...Option) (*Controller, error) {
	c := &Controller{
		store:    st,
		catalogs: catalogs,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		locks:    make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.discoverer = discovery.New(cfg.Discovery,
		evidence.NewRenderer(parsers.Default()...),
		classify.Default(),
		discovery.WithLogger(c.logger),
		discovery.WithIDFunc(c.newID))
	if err := c.discoverer.Validate(); err != nil {
		return nil, fmt.Errorf("discovery config: %w", err)
	}

	c.mapper = mapping.New(cfg.Mapping, mapping.WithLogger(c.logger))

	extractorOpts := []evidence.ExtractorOption{
		evidence.WithLogger(c.logger),
		evidence.WithVerificationObserver(metrics.RecordVerification),
	}
	validatorOpts := []validation.Option{
		validation.WithLogger(c.logger),
		validation.WithClock(c.now),
	}
	if c.oracle != nil {
		extractorOpts = append(extractorOpts, evidence.WithOracle(c.oracle))
		validatorOpts = append(validatorOpts, validation.WithOracle(c.oracle))
	}
	c.extractor = evidence.NewExtractor(cfg.Extraction, cfg.Verification, extractorOpts...)

	v, err := validation.New(cfg.Validation, validatorOpts...)
	if err != nil {
		return nil, fmt.Errorf("validation config: %w", err)
	}
	c.validator = v
	return c, nil
}

// ---------------------------------------------------------------------------
// Per-session locking and cancellation
// ---------------------------------------------------------------------------

type sessionLock struct {
	// mu serializes stage transitions of one session.
	mu sync.Mutex

	runMu   sync.Mutex
	running review.Stage
	cancel  context.CancelCauseFunc
}

func (c *Controller) lockFor(sessionID string) *sessionLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		c.locks[sessionID] = l
	}
	return l
}

func (l *sessionLock) start(ctx context.Context, stage review.Stage) (context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	l.runMu.Lock()
	l.running, l.cancel = stage, cancel
	l.runMu.Unlock()
	return runCtx, func() {
		l.runMu.Lock()
		l.running, l.cancel = "", nil
		l.runMu.Unlock()
		cancel(nil)
	}
}

// cancelFrom cancels the running stage if it is stage or a later one.
func (l *sessionLock) cancelFrom(stage review.Stage) bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel == nil || l.running.Index() < stage.Index() {
		return false
	}
	l.cancel(ErrCancelled)
	return true
}

// ---------------------------------------------------------------------------
// Stage execution
// ---------------------------------------------------------------------------

// stageWork computes a stage artifact. version is the version the artifact
// receives when committed.
type stageWork func(ctx context.Context, sess *review.Session, version int) (any, error)

func missingPredecessors(sess *review.Session, stage review.Stage) []review.Stage {
	var missing []review.Stage
	for _, p := range stage.Predecessors() {
		if !sess.IsComplete(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// execute runs one stage under the session lock and commits its artifact,
// invalidating every later stage.
func (c *Controller) execute(ctx context.Context, sessionID string, stage review.Stage, work stageWork) (*review.Session, error) {
	lock := c.lockFor(sessionID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if missing := missingPredecessors(sess, stage); len(missing) > 0 {
		metrics.RecordStage(string(stage), metrics.ResultBlocked, 0)
		return nil, &StageDependencyError{Stage: stage, Missing: missing}
	}

	log := c.logger.With("session_id", sessionID, "stage", stage)
	runCtx, done := lock.start(ctx, stage)
	defer done()

	started := time.Now()
	version := sess.Versions[stage] + 1
	artifact, err := work(runCtx, sess, version)
	if err == nil {
		err = context.Cause(runCtx)
	}
	if err != nil {
		metrics.RecordStage(string(stage), metrics.ResultError, time.Since(started))
		if errors.Is(context.Cause(runCtx), ErrCancelled) {
			err = fmt.Errorf("stage %s: %w", stage, ErrCancelled)
		}
		log.Warn("stage failed", "error", err)
		return nil, err
	}

	var committed *review.Session
	err = c.store.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if kind, ok := stageKinds[stage]; ok {
			if err := tx.PutArtifact(sessionID, kind, artifact); err != nil {
				return err
			}
		}
		if err := c.invalidate(tx, current, stage.Downstream()); err != nil {
			return err
		}
		c.markComplete(current, stage, version)
		committed = current
		return tx.PutSession(current)
	})
	if err != nil {
		metrics.RecordStage(string(stage), metrics.ResultError, time.Since(started))
		return nil, fmt.Errorf("commit stage %s: %w", stage, err)
	}

	metrics.RecordStage(string(stage), metrics.ResultOK, time.Since(started))
	log.Info("stage completed", "version", version, "duration", time.Since(started))
	return committed, nil
}

// invalidate deletes the artifacts of stages and clears their completion.
func (c *Controller) invalidate(tx *store.Tx, sess *review.Session, stages []review.Stage) error {
	var kinds []store.Kind
	drop := make(map[review.Stage]bool, len(stages))
	for _, s := range stages {
		drop[s] = true
		if kind, ok := stageKinds[s]; ok {
			kinds = append(kinds, kind)
		}
	}
	if err := tx.DeleteArtifacts(sess.ID, kinds...); err != nil {
		return err
	}
	kept := sess.CompletedStages[:0]
	for _, s := range sess.CompletedStages {
		if !drop[s] {
			kept = append(kept, s)
		}
	}
	sess.CompletedStages = kept
	return nil
}

func (c *Controller) markComplete(sess *review.Session, stage review.Stage, version int) {
	if !sess.IsComplete(stage) {
		sess.CompletedStages = append(sess.CompletedStages, stage)
	}
	if sess.Versions == nil {
		sess.Versions = make(map[review.Stage]int)
	}
	sess.Versions[stage] = version
	sess.CurrentStage = stage
	if next := stage.Downstream(); len(next) > 0 {
		sess.CurrentStage = next[0]
	}
	sess.UpdatedAt = c.now().UTC()
}

// ---------------------------------------------------------------------------
// Session operations
// ---------------------------------------------------------------------------

func (c *Controller) session(ctx context.Context, id string) (*review.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// CreateSession starts a session. The methodology must be a known catalog
// key; an empty scope means all requirements.
func (c *Controller) CreateSession(ctx context.Context, projectName, methodology, scope string) (*review.Session, error) {
	if projectName == "" {
		return nil, invalid("project name is required")
	}
	sc, ok := review.ParseScope(scope)
	if !ok {
		return nil, invalid("unknown scope %q (want farm, meta or all)", scope)
	}
	reqs, err := c.catalogs.Requirements(methodology, sc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if len(reqs) == 0 {
		return nil, invalid("methodology %s has no %s requirements", methodology, sc)
	}

	now := c.now().UTC()
	sess := &review.Session{
		ID:              c.newID(),
		ProjectName:     projectName,
		Methodology:     methodology,
		Scope:           sc,
		CurrentStage:    review.StageDocumentDiscovery,
		CompletedStages: []review.Stage{review.StageInitialize},
		Versions:        map[review.Stage]int{review.StageInitialize: 1},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("session created", "session_id", sess.ID, "methodology", methodology, "scope", sc, "requirements", len(reqs))
	return sess, nil
}

// ListSessions returns every session, oldest first.
func (c *Controller) ListSessions(ctx context.Context) ([]review.Session, error) {
	return c.store.ListSessions(ctx)
}

// DeleteSession cancels running work and removes a session entirely.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	lock := c.lockFor(sessionID)
	lock.cancelFrom(review.StageInitialize)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	err := c.store.DeleteSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.locks, sessionID)
	c.mu.Unlock()
	c.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Complete marks the session complete. Completing a complete session is a
// no-op.
func (c *Controller) Complete(ctx context.Context, sessionID string) (*review.Session, error) {
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsComplete(review.StageCompletion) {
		return sess, nil
	}
	return c.execute(ctx, sessionID, review.StageCompletion, func(context.Context, *review.Session, int) (any, error) {
		return nil, nil
	})
}

// Reset reopens the session at stage, discarding that stage and everything
// after it. Work in flight for those stages is cancelled rather than
// awaited to completion.
func (c *Controller) Reset(ctx context.Context, sessionID string, stage review.Stage) (*review.Session, error) {
	if stage.Index() < 1 {
		return nil, invalid("cannot reset to stage %q", stage)
	}

	lock := c.lockFor(sessionID)
	if lock.cancelFrom(stage) {
		c.logger.Info("cancelling in-flight stage for reset", "session_id", sessionID, "stage", stage)
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()

	var reset *review.Session
	err := c.store.Update(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return err
		}
		if stage.Index() > sess.CurrentStage.Index() {
			return invalid("stage %s is after the current stage %s", stage, sess.CurrentStage)
		}
		if err := c.invalidate(tx, sess, append([]review.Stage{stage}, stage.Downstream()...)); err != nil {
			return err
		}
		sess.CurrentStage = stage
		sess.UpdatedAt = c.now().UTC()
		reset = sess
		return tx.PutSession(sess)
	})
	if err != nil {
		return nil, err
	}
	if stage == review.StageDocumentDiscovery {
		if err := c.store.DeleteTexts(ctx, sessionID); err != nil {
			c.logger.Warn("could not delete document renderings", "session_id", sessionID, "error", err)
		}
	}
	c.logger.Info("session reset", "session_id", sessionID, "stage", stage)
	return reset, nil
}
