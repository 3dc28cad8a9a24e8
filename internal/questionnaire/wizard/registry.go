package wizard

import (
	"context"
	"sync"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/common/metrics"
	"advisory-portal/internal/questionnaire/persistence"
	"advisory-portal/internal/questionnaire/progress"

	"golang.org/x/sync/singleflight"
)

// SessionStore is Store plus the loading and cleanup the registry needs.
type SessionStore interface {
	Store
	Load(ctx context.Context, sessionID, identity string) *persistence.LoadResult
	Forget(sessionID string)
	Discard(ctx context.Context, sessionID string) error
}

// StartResult is returned by Start. Load is nil when the session was
// already active.
type StartResult struct {
	Engine *Engine
	Load   *persistence.LoadResult
}

// ResumeInfo backs the "resume where you left off" prompt.
type ResumeInfo struct {
	HasSavedAnswers bool                 `json:"hasSavedAnswers"`
	Active          bool                 `json:"active"`
	Source          persistence.Source   `json:"source"`
	Progress        progress.Progress    `json:"progress"`
	Notices         []persistence.Notice `json:"notices,omitempty"`
}

// Registry holds the active engines, one per session id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Engine
	// unclaimed holds load results whose caller went away before receiving
	// them; the next Start of the session returns it.
	unclaimed map[string]*persistence.LoadResult
	group     singleflight.Group

	store    SessionStore
	notifier Notifier
	log      logger.Logger
	cfg      Config
}

func NewRegistry(store SessionStore, notifier Notifier, log logger.Logger, cfg Config) *Registry {
	return &Registry{
		sessions:  make(map[string]*Engine),
		unclaimed: make(map[string]*persistence.LoadResult),
		store:    store,
		notifier: notifier,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// Start returns the engine for sessionID, loading saved answers the first
// time. Concurrent starts of the same session share one load, which runs to
// completion (bounded by the load timeout) even when the caller that began it
// goes away; that caller gets its context error and a later Start picks up
// the loaded session.
func (r *Registry) Start(ctx context.Context, sessionID, identity string) (*StartResult, error) {
	if sessionID == "" {
		return nil, apperrors.NewSessionIDRequiredError()
	}

	if e, ok := r.lookup(sessionID); ok {
		if identity != "" && e.Identity() == "" {
			e.SetIdentity(identity)
		}
		return &StartResult{Engine: e, Load: r.claim(sessionID)}, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (interface{}, error) {
		if e, ok := r.lookup(sessionID); ok {
			return &StartResult{Engine: e}, nil
		}

		// the load outlives a canceled caller; a read cut short would be
		// cached as an empty session and autosaved over the saved answers
		res := r.store.Load(context.WithoutCancel(ctx), sessionID, identity)
		e := NewEngine(sessionID, identity, res.Snapshot, r.store, r.notifier, r.log, r.cfg)

		r.mu.Lock()
		r.sessions[sessionID] = e
		r.mu.Unlock()
		metrics.WizardSessionsActive.Inc()

		return &StartResult{Engine: e, Load: res}, nil
	})
	if err != nil {
		return nil, err
	}
	res := v.(*StartResult)
	if err := ctx.Err(); err != nil {
		if res.Load != nil {
			r.mu.Lock()
			r.unclaimed[sessionID] = res.Load
			r.mu.Unlock()
		}
		return nil, err
	}
	return res, nil
}

func (r *Registry) claim(sessionID string) *persistence.LoadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.unclaimed[sessionID]
	if ok {
		delete(r.unclaimed, sessionID)
	}
	return res
}

func (r *Registry) lookup(sessionID string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	return e, ok
}

// Get returns an active engine.
func (r *Registry) Get(sessionID string) (*Engine, error) {
	if sessionID == "" {
		return nil, apperrors.NewSessionIDRequiredError()
	}
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(sessionID)
	}
	return e, nil
}

// End flushes and discards a session after submission or abandonment. The
// local cache keeps the answers so the client can resume later.
func (r *Registry) End(sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	delete(r.unclaimed, sessionID)
	r.mu.Unlock()

	if !ok {
		return apperrors.NewSessionNotFoundError(sessionID)
	}

	e.Flush()
	r.store.Forget(sessionID)
	metrics.WizardSessionsActive.Dec()
	r.log.Info("Wizard session ended", map[string]interface{}{
		"session_id": sessionID,
		"finished":   e.Finished(),
	})
	return nil
}

// Discard ends the session if it is active and deletes its saved answers
// from this device. The remote copy is untouched.
func (r *Registry) Discard(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperrors.NewSessionIDRequiredError()
	}
	if err := r.End(sessionID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound) {
		return err
	}
	return r.store.Discard(ctx, sessionID)
}

// Resume reports coverage-based progress without starting a session.
func (r *Registry) Resume(ctx context.Context, sessionID, identity string) (*ResumeInfo, error) {
	if sessionID == "" {
		return nil, apperrors.NewSessionIDRequiredError()
	}

	if e, ok := r.lookup(sessionID); ok {
		return &ResumeInfo{
			HasSavedAnswers: true,
			Active:          true,
			Source:          persistence.SourceLocal,
			Progress:        e.Coverage(),
		}, nil
	}

	res := r.store.Load(ctx, sessionID, identity)
	info := &ResumeInfo{Source: res.Source, Notices: res.Notices}
	if res.Snapshot == nil {
		info.Progress = progress.Progress{Mode: progress.ModeCoverage}
		return info, nil
	}

	info.HasSavedAnswers = true
	info.Progress = progress.CoverageBased(res.Snapshot.State, r.cfg.Table.ExpectedAnswerKeys(), r.cfg.Weights, res.Snapshot.Completed)
	return info, nil
}

// Close ends every active session.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.End(id)
	}
}

// Len is the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
