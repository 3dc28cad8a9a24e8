package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/common/metrics"
	"advisory-portal/internal/questionnaire/answers"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultDebounce    = 800 * time.Millisecond
	DefaultLoadTimeout = 2500 * time.Millisecond

	localWriteTimeout = 5 * time.Second
)

// Notice codes returned by Load.
const (
	NoticeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	NoticeRemoteTimeout     = "REMOTE_TIMEOUT"
	NoticeLocalDiscarded    = "LOCAL_DISCARDED"
	NoticeLocalTimeout      = "LOCAL_TIMEOUT"
)

type Options struct {
	Debounce    time.Duration
	LoadTimeout time.Duration
}

// Coordinator decides when and where answer snapshots are saved and how they
// are restored. The remote store is optional; without it every checkpoint is
// local only.
type Coordinator struct {
	local       LocalCache
	remote      RemoteStore
	codec       *Codec
	log         logger.Logger
	loadTimeout time.Duration

	autosave     *autosaver
	writer       *keyedWriter
	remoteWriter *keyedWriter
	seq          atomic.Uint64
	now          func() time.Time
}

func NewCoordinator(local LocalCache, remote RemoteStore, codec *Codec, log logger.Logger, opts Options) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}

	c := &Coordinator{
		local:        local,
		remote:       remote,
		codec:        codec,
		log:          log,
		loadTimeout:  opts.LoadTimeout,
		writer:       newKeyedWriter(),
		remoteWriter: newKeyedWriter(),
		now:          time.Now,
	}
	c.autosave = newAutosaver(opts.Debounce, c.autosaveWrite)
	return c
}

// Load restores the latest answers for a session. It never fails: local
// problems mean no local data, remote problems mean local data plus a notice.
func (c *Coordinator) Load(ctx context.Context, sessionID, identity string) *LoadResult {
	var (
		localSnap, remoteSnap *Snapshot
		localNotice           *Notice
		remoteNotice          *Notice
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		localSnap, localNotice = c.readLocal(gctx, sessionID)
		return nil
	})
	if identity != "" && c.remote != nil {
		g.Go(func() error {
			remoteSnap, remoteNotice = c.fetchRemote(gctx, identity)
			return nil
		})
	}
	_ = g.Wait()

	snap, source := Merge(localSnap, remoteSnap)
	if snap != nil {
		snap.SessionID = sessionID
	}

	result := &LoadResult{Snapshot: snap, Source: source}
	for _, n := range []*Notice{localNotice, remoteNotice} {
		if n != nil {
			result.Notices = append(result.Notices, *n)
		}
	}

	metrics.SnapshotLoads.WithLabelValues(string(source)).Inc()
	c.log.Info("Questionnaire snapshot loaded", map[string]interface{}{
		"session_id":    sessionID,
		"authenticated": identity != "",
		"source":        source,
		"notices":       len(result.Notices),
	})
	return result
}

type readResult struct {
	data []byte
	ok   bool
	err  error
}

// readLocal waits at most loadTimeout, even when the cache ignores ctx.
func (c *Coordinator) readLocal(ctx context.Context, sessionID string) (*Snapshot, *Notice) {
	lctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	ch := make(chan readResult, 1)
	go func() {
		data, ok, err := c.local.Read(lctx, sessionID)
		ch <- readResult{data: data, ok: ok, err: err}
	}()

	var res readResult
	select {
	case res = <-ch:
	case <-lctx.Done():
		res = readResult{err: lctx.Err()}
	}

	if errors.Is(res.err, context.DeadlineExceeded) {
		c.log.Warn("Local cache read timed out", map[string]interface{}{
			"session_id": sessionID,
			"timeout_ms": c.loadTimeout.Milliseconds(),
		})
		return nil, &Notice{Code: NoticeLocalTimeout, Message: "answers saved on this device could not be read in time"}
	}
	if res.err != nil {
		c.log.Warn("Local cache read failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      apperrors.NewLocalCacheReadFailedError(sessionID, res.err),
		})
		return nil, nil
	}
	if !res.ok {
		return nil, nil
	}

	snap, err := c.codec.Decode(res.data)
	if err != nil {
		c.log.Warn("Discarding corrupt local snapshot", map[string]interface{}{
			"session_id": sessionID,
			"error":      err,
		})
		return nil, &Notice{Code: NoticeLocalDiscarded, Message: "saved answers on this device could not be read"}
	}
	return snap, nil
}

type fetchResult struct {
	snap *Snapshot
	err  error
}

// fetchRemote waits at most loadTimeout, even when the store ignores ctx.
func (c *Coordinator) fetchRemote(ctx context.Context, identity string) (*Snapshot, *Notice) {
	rctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		snap, err := c.remote.FetchSnapshot(rctx, identity)
		ch <- fetchResult{snap: snap, err: err}
	}()

	var res fetchResult
	select {
	case res = <-ch:
	case <-rctx.Done():
		res = fetchResult{err: rctx.Err()}
	}

	switch {
	case res.err == nil:
		return res.snap, nil
	case errors.Is(res.err, ErrSnapshotNotFound):
		return nil, nil
	case errors.Is(res.err, context.DeadlineExceeded):
		stdErr := apperrors.NewRemoteFetchTimeoutError(c.loadTimeout)
		c.log.Warn("Remote snapshot fetch timed out", map[string]interface{}{
			"timeout_ms": c.loadTimeout.Milliseconds(),
			"error":      stdErr,
		})
		return nil, &Notice{Code: NoticeRemoteTimeout, Message: "your saved answers could not be fetched in time; showing answers from this device"}
	default:
		stdErr := apperrors.NewRemoteFetchFailedError(res.err)
		c.log.Warn("Remote snapshot fetch failed", map[string]interface{}{
			"error": stdErr,
		})
		return nil, &Notice{Code: NoticeRemoteUnavailable, Message: "your saved answers are unavailable right now; showing answers from this device"}
	}
}

// NewSnapshot wraps state in a snapshot that is ordered after every snapshot
// this coordinator created before it. Saves of older snapshots never
// overwrite newer ones.
func (c *Coordinator) NewSnapshot(sessionID string, state answers.State) *Snapshot {
	return &Snapshot{SessionID: sessionID, State: state, seq: c.seq.Add(1)}
}

func (c *Coordinator) sequence(snap *Snapshot) uint64 {
	if snap.seq == 0 {
		snap.seq = c.seq.Add(1)
	}
	return snap.seq
}

// ScheduleAutosave queues a local write of snap. Rapid calls for the same
// session collapse into one write of the latest snapshot.
func (c *Coordinator) ScheduleAutosave(sessionID string, snap *Snapshot) {
	seq := c.sequence(snap)
	c.autosave.schedule(sessionID, seq, snap)
}

func (c *Coordinator) autosaveWrite(sessionID string, seq uint64, snap *Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), localWriteTimeout)
	defer cancel()
	_ = c.writeLocal(ctx, sessionID, seq, snap)
}

// writeLocal logs and returns failures; callers treat them as non-fatal.
func (c *Coordinator) writeLocal(ctx context.Context, sessionID string, seq uint64, snap *Snapshot) error {
	snap.SessionID = sessionID
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = c.now().UTC()
	}
	data, err := c.codec.Encode(snap)
	if err != nil {
		c.log.Error("Snapshot encode failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err,
		})
		metrics.AutosaveWrites.WithLabelValues("failed").Inc()
		return err
	}

	written, err := c.writer.write(sessionID, seq, func() error {
		return c.local.Write(ctx, sessionID, data)
	})
	switch {
	case err != nil:
		c.log.Warn("Local cache write failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err,
		})
		metrics.AutosaveWrites.WithLabelValues("failed").Inc()
	case !written:
		metrics.AutosaveWrites.WithLabelValues("superseded").Inc()
	default:
		metrics.AutosaveWrites.WithLabelValues("written").Inc()
	}
	return err
}

// Checkpoint saves snap to the remote store (when there is an identity) and
// then to the local cache. The completion flag is only recorded when the
// remote save succeeded. Without identity the result is local only and no
// error is returned.
func (c *Coordinator) Checkpoint(ctx context.Context, sessionID, identity string, snap *Snapshot, completed bool) (*CheckpointResult, error) {
	start := c.now()
	seq := c.sequence(snap)
	saved := *snap
	saved.SessionID = sessionID
	saved.UpdatedAt = start.UTC()
	saved.Completed = false

	c.autosave.takeIfOlder(sessionID, seq)

	if identity == "" || c.remote == nil {
		_ = c.writeLocal(ctx, sessionID, seq, &saved)
		metrics.CheckpointsTotal.WithLabelValues(string(ModeLocalOnly), "success").Inc()
		c.log.Info("Checkpoint saved locally only", map[string]interface{}{
			"session_id": sessionID,
			"completed":  completed,
		})
		return &CheckpointResult{Mode: ModeLocalOnly, SavedAt: saved.UpdatedAt}, nil
	}

	remoteSnap := saved
	remoteSnap.Completed = completed
	written, err := c.remoteWriter.write(identity, seq, func() error {
		return c.remote.UpsertSnapshot(ctx, identity, &remoteSnap)
	})
	duration := c.now().Sub(start)

	switch {
	case err != nil:
		_ = c.writeLocal(ctx, sessionID, seq, &saved)
		metrics.CheckpointsTotal.WithLabelValues(string(ModeRemote), "failed").Inc()
		metrics.CheckpointDuration.WithLabelValues("failed").Observe(duration.Seconds())
		stdErr := apperrors.NewCheckpointFailedError(completed, err)
		c.log.Error("Remote checkpoint failed", map[string]interface{}{
			"session_id": sessionID,
			"completed":  completed,
			"error":      stdErr,
		})
		return nil, stdErr
	case !written:
		metrics.CheckpointsTotal.WithLabelValues(string(ModeRemote), "superseded").Inc()
		c.log.Debug("Checkpoint superseded by a newer snapshot", map[string]interface{}{
			"session_id": sessionID,
		})
		return &CheckpointResult{Mode: ModeRemote, SavedAt: saved.UpdatedAt, Superseded: true}, nil
	}

	_ = c.writeLocal(ctx, sessionID, seq, &remoteSnap)
	metrics.CheckpointsTotal.WithLabelValues(string(ModeRemote), "success").Inc()
	metrics.CheckpointDuration.WithLabelValues("success").Observe(duration.Seconds())
	c.log.Info("Checkpoint saved", map[string]interface{}{
		"session_id":  sessionID,
		"completed":   completed,
		"duration_ms": duration.Milliseconds(),
	})
	return &CheckpointResult{Mode: ModeRemote, Completed: completed, SavedAt: saved.UpdatedAt}, nil
}

// Flush writes a pending autosave for sessionID immediately.
func (c *Coordinator) Flush(sessionID string) {
	c.autosave.flush(sessionID)
}

// Forget flushes and releases per-session bookkeeping once no autosave for
// the session is still being written.
func (c *Coordinator) Forget(sessionID string) {
	c.autosave.flush(sessionID)
	c.autosave.wait(sessionID)
	c.writer.forget(sessionID)
}

// Discard removes the local cache entry for a session. A pending autosave is
// dropped and one already being written finishes before the delete.
func (c *Coordinator) Discard(ctx context.Context, sessionID string) error {
	c.autosave.take(sessionID)
	c.autosave.wait(sessionID)
	c.writer.forget(sessionID)
	return c.local.Delete(ctx, sessionID)
}

// Close flushes every pending autosave and stops the timers.
func (c *Coordinator) Close() {
	c.autosave.close()
}
