// Package wizard drives one questionnaire session: it owns the answers, the
// step position and the save policy, and is the single access point the
// HTTP layer talks to.
package wizard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"advisory-portal/internal/common/config"
	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/common/metrics"
	"advisory-portal/internal/questionnaire/answers"
	"advisory-portal/internal/questionnaire/persistence"
	"advisory-portal/internal/questionnaire/progress"
	"advisory-portal/internal/questionnaire/qualification"
	"advisory-portal/internal/questionnaire/steps"
)

const (
	defaultEventBuffer       = 16
	defaultCheckpointTimeout = 10 * time.Second
	notifyTimeout            = 30 * time.Second
)

// Store is the persistence surface the engine needs.
type Store interface {
	NewSnapshot(sessionID string, state answers.State) *persistence.Snapshot
	ScheduleAutosave(sessionID string, snap *persistence.Snapshot)
	Checkpoint(ctx context.Context, sessionID, identity string, snap *persistence.Snapshot, completed bool) (*persistence.CheckpointResult, error)
	Flush(sessionID string)
}

type Config struct {
	Table             *steps.Table
	Catalog           []answers.CatalogEntry
	Milestones        []int
	EventBuffer       int
	Weights           progress.Weights
	CheckpointTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Table:             steps.DefaultTable(),
		Catalog:           answers.DefaultCatalog,
		Milestones:        []int{5, 10, 15},
		EventBuffer:       defaultEventBuffer,
		Weights:           progress.DefaultWeights(),
		CheckpointTimeout: defaultCheckpointTimeout,
	}
}

// ConfigFrom maps the wizard section of the service configuration.
func ConfigFrom(wc config.WizardConfig, table *steps.Table) Config {
	c := DefaultConfig()
	c.Table = table
	if len(wc.Milestones) > 0 {
		c.Milestones = wc.Milestones
	}
	c.EventBuffer = wc.EventBuffer
	c.CheckpointTimeout = wc.CheckpointTimeout()
	c.Weights = progress.Weights{
		Answer:             wc.ProgressWeights.Answer,
		GoalSelection:      wc.ProgressWeights.GoalSelection,
		GoalPrioritization: wc.ProgressWeights.GoalPrioritization,
		GoalDetails:        wc.ProgressWeights.GoalDetails,
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Table == nil {
		c.Table = d.Table
	}
	if c.Catalog == nil {
		c.Catalog = d.Catalog
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Weights == (progress.Weights{}) {
		c.Weights = d.Weights
	}
	if c.CheckpointTimeout <= 0 {
		c.CheckpointTimeout = d.CheckpointTimeout
	}
	return c
}

// StepResult is the outcome of Next or Previous.
type StepResult struct {
	Kind       steps.TransitionKind          `json:"kind"`
	From       steps.Position                `json:"from"`
	To         steps.Position                `json:"to"`
	Current    steps.CurrentStep             `json:"current"`
	Progress   progress.Progress             `json:"progress"`
	Events     []Event                       `json:"events,omitempty"`
	Submission *persistence.CheckpointResult `json:"submission,omitempty"`
}

// Engine is one wizard session. All methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	sessionID string
	identity  string
	cfg       Config
	agg       *answers.Aggregate
	seq       *steps.Sequencer
	completed bool

	store    Store
	notifier Notifier
	log      logger.Logger
	events   chan Event

	retryCheckpoint atomic.Bool
	bg              sync.WaitGroup
	now             func() time.Time
}

// NewEngine starts a session from a loaded snapshot, or from an empty
// aggregate when loaded is nil. The position always starts at ordinal 1.
func NewEngine(sessionID, identity string, loaded *persistence.Snapshot, store Store, notifier Notifier, log logger.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		sessionID: sessionID,
		identity:  identity,
		cfg:       cfg,
		store:     store,
		notifier:  notifier,
		log:       log.WithFields(map[string]interface{}{"session_id": sessionID}),
		events:    make(chan Event, cfg.EventBuffer),
		now:       time.Now,
	}

	if loaded != nil {
		e.agg = answers.FromState(loaded.State, cfg.Catalog)
		e.completed = loaded.Completed
	} else {
		e.agg = answers.New(cfg.Catalog)
	}
	e.seq = steps.NewSequencer(cfg.Table, e.qualifiedLocked, cfg.Milestones)
	return e
}

// qualifiedLocked is the sequencer's view of the qualified goals; it runs
// with e.mu held.
func (e *Engine) qualifiedLocked() []answers.Goal {
	return qualification.Qualified(e.agg.Goals())
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

func (e *Engine) Identity() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// SetIdentity attaches an identity after sign-in so later checkpoints reach
// the remote store.
func (e *Engine) SetIdentity(identity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity != identity {
		e.log.Info("Session identity attached", nil)
	}
	e.identity = identity
}

// Events delivers milestone and finished events. Events are dropped when
// nobody drains the channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.Finished()
}

func (e *Engine) CurrentStep() steps.CurrentStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.Current()
}

func (e *Engine) Position() steps.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.Position()
}

// ==========================
// Navigation
// ==========================

// Next advances the wizard. On the last step it submits: the answers are
// checkpointed with the completion flag and, when that reached the remote
// store, the session finishes. A failed submission returns the error and
// leaves the session where it was so Next can be retried.
func (e *Engine) Next(ctx context.Context) (*StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq.Finished() {
		return nil, apperrors.NewSessionFinishedError(e.sessionID)
	}

	tr := e.seq.Next()
	metrics.WizardTransitions.WithLabelValues("next", string(tr.Kind)).Inc()

	var (
		events     []Event
		submission *persistence.CheckpointResult
	)
	switch tr.Kind {
	case steps.TransitionMoved:
		for _, m := range tr.Milestones {
			events = append(events, e.publishLocked(EventMilestone, m))
		}
		if tr.CheckpointDue || e.retryCheckpoint.Load() {
			e.checkpointAsyncLocked()
		}
	case steps.TransitionComplete:
		cp, ev, err := e.submitLocked(ctx)
		if err != nil {
			return nil, err
		}
		submission = cp
		events = ev
	}

	return e.resultLocked(tr, events, submission), nil
}

// Previous moves back one goal or one step. It is a no-op on the first step.
func (e *Engine) Previous() (*StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq.Finished() {
		return nil, apperrors.NewSessionFinishedError(e.sessionID)
	}

	tr := e.seq.Previous()
	metrics.WizardTransitions.WithLabelValues("previous", string(tr.Kind)).Inc()
	if tr.Kind == steps.TransitionMoved && e.retryCheckpoint.Load() {
		e.checkpointAsyncLocked()
	}
	return e.resultLocked(tr, nil, nil), nil
}

func (e *Engine) resultLocked(tr steps.Transition, events []Event, submission *persistence.CheckpointResult) *StepResult {
	return &StepResult{
		Kind:       tr.Kind,
		From:       tr.From,
		To:         tr.To,
		Current:    e.seq.Current(),
		Progress:   e.progressLocked(),
		Events:     events,
		Submission: submission,
	}
}

func (e *Engine) publishLocked(kind EventKind, ordinal int) Event {
	ev := Event{Kind: kind, SessionID: e.sessionID, Ordinal: ordinal, At: e.now().UTC()}
	metrics.WizardEvents.WithLabelValues(string(kind)).Inc()
	select {
	case e.events <- ev:
	default:
		e.log.Debug("Event dropped, no reader", map[string]interface{}{"event": kind})
	}
	return ev
}

// ==========================
// Answers
// ==========================

func (e *Engine) mutate(fn func(agg *answers.Aggregate) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq.Finished() {
		return apperrors.NewSessionFinishedError(e.sessionID)
	}
	if err := fn(e.agg); err != nil {
		return err
	}
	e.completed = false
	e.store.ScheduleAutosave(e.sessionID, e.snapshotLocked())
	return nil
}

func (e *Engine) UpdateAnswer(key string, value interface{}) error {
	return e.mutate(func(agg *answers.Aggregate) error {
		return agg.UpdateAnswer(key, value)
	})
}

func (e *Engine) UpdateNestedAnswer(key, subkey string, value interface{}) error {
	return e.mutate(func(agg *answers.Aggregate) error {
		return agg.UpdateNestedAnswer(key, subkey, value)
	})
}

func (e *Engine) UpdateGoalDetail(goalID, field, value string) error {
	return e.mutate(func(agg *answers.Aggregate) error {
		return agg.UpdateGoalDetail(goalID, field, value)
	})
}

func (e *Engine) SetGoalInterest(goalID string, level answers.InterestLevel) error {
	return e.mutate(func(agg *answers.Aggregate) error {
		return agg.SetGoalInterest(goalID, level)
	})
}

func (e *Engine) AddCustomGoal(name string, level answers.InterestLevel) (answers.Goal, error) {
	var g answers.Goal
	err := e.mutate(func(agg *answers.Aggregate) error {
		var err error
		g, err = agg.AddCustomGoal(name, level)
		return err
	})
	return g, err
}

func (e *Engine) RenameGoal(goalID, name string) error {
	return e.mutate(func(agg *answers.Aggregate) error {
		return agg.RenameGoal(goalID, name)
	})
}

func (e *Engine) RemoveGoal(goalID string) error {
	return e.mutate(func(agg *answers.Aggregate) error {
		return agg.RemoveGoal(goalID)
	})
}

// State returns a copy of the current answers.
func (e *Engine) State() answers.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.State()
}

// Snapshot returns the answers as they would be saved now.
func (e *Engine) Snapshot() *persistence.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &persistence.Snapshot{
		SessionID: e.sessionID,
		Completed: e.completed,
		UpdatedAt: e.now().UTC(),
		State:     e.agg.State(),
	}
}

func (e *Engine) QualifiedGoals() []answers.Goal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qualifiedLocked()
}

// ==========================
// Progress
// ==========================

// Progress is the step-based indicator shown inside the wizard.
func (e *Engine) Progress() progress.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

func (e *Engine) progressLocked() progress.Progress {
	return progress.StepBased(e.seq.Position(), e.cfg.Table.Len(), e.completed)
}

// Coverage estimates completeness from the answers alone.
func (e *Engine) Coverage() progress.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return progress.CoverageBased(e.agg.State(), e.cfg.Table.ExpectedAnswerKeys(), e.cfg.Weights, e.completed)
}

// ==========================
// Saving
// ==========================

func (e *Engine) snapshotLocked() *persistence.Snapshot {
	snap := e.store.NewSnapshot(e.sessionID, e.agg.State())
	snap.Completed = e.completed
	return snap
}

// Checkpoint saves the current answers now. With completed set it behaves
// like submitting from the last step.
func (e *Engine) Checkpoint(ctx context.Context, completed bool) (*persistence.CheckpointResult, []Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq.Finished() {
		return nil, nil, apperrors.NewSessionFinishedError(e.sessionID)
	}
	if completed {
		return e.submitLocked(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CheckpointTimeout)
	defer cancel()
	cp, err := e.store.Checkpoint(cctx, e.sessionID, e.identity, e.snapshotLocked(), false)
	if err != nil {
		e.retryCheckpoint.Store(true)
		return nil, nil, err
	}
	e.retryCheckpoint.Store(false)
	return cp, nil, nil
}

func (e *Engine) submitLocked(ctx context.Context) (*persistence.CheckpointResult, []Event, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CheckpointTimeout)
	defer cancel()

	cp, err := e.store.Checkpoint(cctx, e.sessionID, e.identity, e.snapshotLocked(), true)
	if err != nil {
		e.log.Error("Submission checkpoint failed", map[string]interface{}{"error": err})
		return nil, nil, err
	}
	if cp.Mode != persistence.ModeRemote {
		e.log.Warn("Submission saved on this device only, sign-in required", nil)
		return cp, nil, nil
	}

	e.retryCheckpoint.Store(false)
	e.completed = true
	e.seq.MarkFinished()
	ev := e.publishLocked(EventFinished, e.seq.Position().Ordinal)

	sub := Submission{
		SessionID:      e.sessionID,
		Identity:       e.identity,
		SubmittedAt:    cp.SavedAt,
		QualifiedGoals: e.qualifiedLocked(),
		AnswerCount:    len(e.agg.Answers()),
	}
	e.notifyAsync(sub)

	e.log.Info("Questionnaire submitted", map[string]interface{}{
		"qualified_goals": len(sub.QualifiedGoals),
	})
	return cp, []Event{ev}, nil
}

// checkpointAsyncLocked saves in the background; a failure is retried on the
// next transition.
func (e *Engine) checkpointAsyncLocked() {
	snap := e.snapshotLocked()
	identity := e.identity
	e.retryCheckpoint.Store(false)

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CheckpointTimeout)
		defer cancel()

		if _, err := e.store.Checkpoint(ctx, e.sessionID, identity, snap, false); err != nil {
			e.retryCheckpoint.Store(true)
			e.log.Warn("Intermediate checkpoint failed, will retry", map[string]interface{}{"error": err})
		}
	}()
}

func (e *Engine) notifyAsync(sub Submission) {
	if e.notifier == nil {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.NotifySubmitted(ctx, sub); err != nil {
			e.log.Error("Submission notification failed", map[string]interface{}{"error": err})
		}
	}()
}

// Flush writes any pending autosave and waits for background saves and
// notifications.
func (e *Engine) Flush() {
	e.mu.Lock()
	e.bg.Wait()
	e.mu.Unlock()
	e.store.Flush(e.sessionID)
}
