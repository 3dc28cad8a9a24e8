package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/questionnaire/answers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ==========================
// Test doubles
// ==========================

type memoryCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	writes   int
	writeErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Read(_ context.Context, sessionID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[sessionID]
	return d, ok, nil
}

func (m *memoryCache) Write(_ context.Context, sessionID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.data[sessionID] = data
	return nil
}

func (m *memoryCache) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionID)
	return nil
}

func (m *memoryCache) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type fakeRemote struct {
	mu        sync.Mutex
	snaps     map[string]*Snapshot
	fetchErr  error
	upsertErr error
	delay     time.Duration
	upserts   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{snaps: make(map[string]*Snapshot)}
}

func (f *fakeRemote) FetchSnapshot(ctx context.Context, identity string) (*Snapshot, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	snap, ok := f.snaps[identity]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

func (f *fakeRemote) UpsertSnapshot(_ context.Context, identity string, snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	cp := *snap
	f.snaps[identity] = &cp
	return nil
}

// stalledCache never answers reads until released, whatever the context says.
type stalledCache struct {
	*memoryCache
	release chan struct{}
}

func (s *stalledCache) Read(ctx context.Context, sessionID string) ([]byte, bool, error) {
	<-s.release
	return s.memoryCache.Read(ctx, sessionID)
}

// slowWriteCache holds every write until released and reports when one has
// started.
type slowWriteCache struct {
	*memoryCache
	started     chan struct{}
	startedOnce sync.Once
	release     chan struct{}
}

func (s *slowWriteCache) Write(ctx context.Context, sessionID string, data []byte) error {
	s.startedOnce.Do(func() { close(s.started) })
	<-s.release
	return s.memoryCache.Write(ctx, sessionID, data)
}

func createTestCoordinator(t *testing.T, local LocalCache, remote RemoteStore, opts Options) *Coordinator {
	c := NewCoordinator(local, remote, NewCodec(), logger.NewTestLogger(t), opts)
	t.Cleanup(c.Close)
	return c
}

func seedLocal(t *testing.T, cache *memoryCache, snap *Snapshot) {
	data, err := NewCodec().Encode(snap)
	require.NoError(t, err)
	cache.data[snap.SessionID] = data
}

func loadedAnswers(res *LoadResult) map[string]interface{} {
	return answers.FromState(res.Snapshot.State, nil).Answers()
}

// ==========================
// Load
// ==========================

func TestCoordinator_Load_Empty(t *testing.T) {
	c := createTestCoordinator(t, newMemoryCache(), newFakeRemote(), Options{})

	res := c.Load(context.Background(), "s1", "user-1")
	assert.Equal(t, SourceEmpty, res.Source)
	assert.Nil(t, res.Snapshot)
	assert.Empty(t, res.Notices)
}

func TestCoordinator_Load_AnonymousUsesLocalOnly(t *testing.T) {
	cache := newMemoryCache()
	seedLocal(t, cache, createTestSnapshot("s1", map[string]interface{}{"a": 1}))
	remote := newFakeRemote()
	remote.fetchErr = errors.New("must not be called")

	c := createTestCoordinator(t, cache, remote, Options{})
	res := c.Load(context.Background(), "s1", "")

	assert.Equal(t, SourceLocal, res.Source)
	assert.Equal(t, map[string]interface{}{"a": 1}, loadedAnswers(res))
	assert.Empty(t, res.Notices)
}

func TestCoordinator_Load_MergePrecedence(t *testing.T) {
	cache := newMemoryCache()
	seedLocal(t, cache, createTestSnapshot("s1", map[string]interface{}{"a": 1, "b": 2}))
	remote := newFakeRemote()
	remote.snaps["user-1"] = createTestSnapshot("s0", map[string]interface{}{"a": 9, "c": 3})

	c := createTestCoordinator(t, cache, remote, Options{})
	res := c.Load(context.Background(), "s1", "user-1")

	assert.Equal(t, SourceMerged, res.Source)
	assert.Equal(t, "s1", res.Snapshot.SessionID)
	assert.Equal(t, map[string]interface{}{"a": 9, "b": 2, "c": 3}, loadedAnswers(res))
}

func TestCoordinator_Load_RemoteProblemsDegradeToLocal(t *testing.T) {
	tests := []struct {
		name       string
		configure  func(r *fakeRemote)
		wantNotice string
	}{
		{
			name:       "fetch error",
			configure:  func(r *fakeRemote) { r.fetchErr = errors.New("connection refused") },
			wantNotice: NoticeRemoteUnavailable,
		},
		{
			name:       "fetch timeout",
			configure:  func(r *fakeRemote) { r.delay = 2 * time.Second },
			wantNotice: NoticeRemoteTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemoryCache()
			seedLocal(t, cache, createTestSnapshot("s1", map[string]interface{}{"b": 2}))
			remote := newFakeRemote()
			tt.configure(remote)

			c := createTestCoordinator(t, cache, remote, Options{LoadTimeout: 50 * time.Millisecond})

			start := time.Now()
			res := c.Load(context.Background(), "s1", "user-1")

			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, SourceLocal, res.Source)
			assert.Equal(t, map[string]interface{}{"b": 2}, loadedAnswers(res))
			require.Len(t, res.Notices, 1)
			assert.Equal(t, tt.wantNotice, res.Notices[0].Code)
		})
	}
}

func TestCoordinator_Load_CorruptLocalIsAbsent(t *testing.T) {
	cache := newMemoryCache()
	cache.data["s1"] = []byte(`{"sessionId": "s1", "answers": `)

	c := createTestCoordinator(t, cache, nil, Options{})
	res := c.Load(context.Background(), "s1", "")

	assert.Equal(t, SourceEmpty, res.Source)
	assert.Nil(t, res.Snapshot)
	require.Len(t, res.Notices, 1)
	assert.Equal(t, NoticeLocalDiscarded, res.Notices[0].Code)
}

// ==========================
// Autosave
// ==========================

func TestCoordinator_AutosaveDebouncesToLatest(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache := newMemoryCache()
	c := NewCoordinator(cache, nil, NewCodec(), logger.NewNoOpLogger(), Options{Debounce: 30 * time.Millisecond})

	for i := 1; i <= 3; i++ {
		c.ScheduleAutosave("s1", createTestSnapshot("s1", map[string]interface{}{"n": i}))
	}

	require.Eventually(t, func() bool { return cache.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, cache.writeCount())

	res := c.Load(context.Background(), "s1", "")
	assert.Equal(t, map[string]interface{}{"n": 3}, loadedAnswers(res))

	c.Close()
}

func TestCoordinator_FlushAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache := newMemoryCache()
	c := NewCoordinator(cache, nil, NewCodec(), logger.NewNoOpLogger(), Options{Debounce: time.Hour})

	c.ScheduleAutosave("s1", createTestSnapshot("s1", map[string]interface{}{"n": 1}))
	c.Flush("s1")
	assert.Equal(t, 1, cache.writeCount())

	c.ScheduleAutosave("s2", createTestSnapshot("s2", map[string]interface{}{"n": 2}))
	c.Close()
	assert.Equal(t, 2, cache.writeCount())

	// scheduling after close is ignored
	c.ScheduleAutosave("s3", createTestSnapshot("s3", nil))
	assert.Equal(t, 0, c.autosave.pendingCount())
}

func TestCoordinator_LocalWriteFailureIsSwallowed(t *testing.T) {
	cache := newMemoryCache()
	cache.writeErr = apperrors.NewLocalCacheWriteFailedError("s1", errors.New("quota exceeded"))
	c := createTestCoordinator(t, cache, nil, Options{})

	res, err := c.Checkpoint(context.Background(), "s1", "", createTestSnapshot("s1", nil), false)
	require.NoError(t, err)
	assert.Equal(t, ModeLocalOnly, res.Mode)
}

func TestKeyedWriter_DropsOlderWrites(t *testing.T) {
	w := newKeyedWriter()
	var order []uint64
	write := func(seq uint64) bool {
		ok, err := w.write("s1", seq, func() error {
			order = append(order, seq)
			return nil
		})
		require.NoError(t, err)
		return ok
	}

	assert.True(t, write(2))
	assert.False(t, write(1))
	assert.False(t, write(2))
	assert.True(t, write(3))
	assert.Equal(t, []uint64{2, 3}, order)

	// a failed write does not advance the sequence
	_, err := w.write("s1", 4, func() error { return errors.New("boom") })
	assert.Error(t, err)
	assert.True(t, write(4))
}

// ==========================
// Checkpoint
// ==========================

func TestCoordinator_Checkpoint_NoIdentityIsLocalOnly(t *testing.T) {
	cache := newMemoryCache()
	remote := newFakeRemote()
	c := createTestCoordinator(t, cache, remote, Options{})

	res, err := c.Checkpoint(context.Background(), "s1", "", createTestSnapshot("s1", map[string]interface{}{"a": 1}), true)
	require.NoError(t, err)
	assert.Equal(t, ModeLocalOnly, res.Mode)
	assert.False(t, res.Completed)
	assert.Equal(t, 0, remote.upserts)
	assert.Equal(t, 1, cache.writeCount())
}

func TestCoordinator_Checkpoint_RemoteSuccess(t *testing.T) {
	cache := newMemoryCache()
	remote := newFakeRemote()
	c := createTestCoordinator(t, cache, remote, Options{})
	c.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	res, err := c.Checkpoint(context.Background(), "s1", "user-1", createTestSnapshot("s1", map[string]interface{}{"a": 1}), true)
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, res.Mode)
	assert.True(t, res.Completed)

	saved := remote.snaps["user-1"]
	require.NotNil(t, saved)
	assert.True(t, saved.Completed)
	assert.Equal(t, "s1", saved.SessionID)
	assert.Equal(t, c.now(), saved.UpdatedAt)

	local := c.Load(context.Background(), "s1", "")
	assert.True(t, local.Snapshot.Completed)
}

func TestCoordinator_Checkpoint_RemoteFailure(t *testing.T) {
	cache := newMemoryCache()
	remote := newFakeRemote()
	remote.upsertErr = errors.New("connection reset by peer")
	c := createTestCoordinator(t, cache, remote, Options{})

	res, err := c.Checkpoint(context.Background(), "s1", "user-1", createTestSnapshot("s1", map[string]interface{}{"a": 1}), true)
	assert.Nil(t, res)
	require.Error(t, err)

	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeCheckpointFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)

	// answers are still cached on the device, but not marked complete
	local := c.Load(context.Background(), "s1", "")
	require.NotNil(t, local.Snapshot)
	assert.False(t, local.Snapshot.Completed)
}

func TestCoordinator_CheckpointSupersedesPendingAutosave(t *testing.T) {
	cache := newMemoryCache()
	c := createTestCoordinator(t, cache, nil, Options{Debounce: 20 * time.Millisecond})

	c.ScheduleAutosave("s1", createTestSnapshot("s1", map[string]interface{}{"n": 1}))
	_, err := c.Checkpoint(context.Background(), "s1", "", createTestSnapshot("s1", map[string]interface{}{"n": 2}), false)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, cache.writeCount())
	res := c.Load(context.Background(), "s1", "")
	assert.Equal(t, map[string]interface{}{"n": 2}, loadedAnswers(res))
}

func TestCoordinator_StaleCheckpointIsSkipped(t *testing.T) {
	cache := newMemoryCache()
	remote := newFakeRemote()
	c := createTestCoordinator(t, cache, remote, Options{})

	older := c.NewSnapshot("s1", answers.State{Answers: map[string]interface{}{"n": 1}})
	newer := c.NewSnapshot("s1", answers.State{Answers: map[string]interface{}{"n": 2}})

	_, err := c.Checkpoint(context.Background(), "s1", "user-1", newer, false)
	require.NoError(t, err)
	res, err := c.Checkpoint(context.Background(), "s1", "user-1", older, false)
	require.NoError(t, err)

	assert.True(t, res.Superseded)
	assert.Equal(t, 1, remote.upserts)
	assert.Equal(t, 2, remote.snaps["user-1"].Answers["n"])
}

func TestCoordinator_Discard(t *testing.T) {
	cache := newMemoryCache()
	seedLocal(t, cache, createTestSnapshot("s1", nil))
	c := createTestCoordinator(t, cache, nil, Options{})

	require.NoError(t, c.Discard(context.Background(), "s1"))
	assert.Equal(t, SourceEmpty, c.Load(context.Background(), "s1", "").Source)
}

func TestCoordinator_Load_StalledLocalCacheIsBounded(t *testing.T) {
	cache := &stalledCache{memoryCache: newMemoryCache(), release: make(chan struct{})}
	seedLocal(t, cache.memoryCache, createTestSnapshot("s1", map[string]interface{}{"a": "local"}))
	remote := newFakeRemote()
	remote.snaps["user-1"] = createTestSnapshot("s1", map[string]interface{}{"b": "remote"})
	c := createTestCoordinator(t, cache, remote, Options{LoadTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { close(cache.release) })

	start := time.Now()
	res := c.Load(context.Background(), "s1", "")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceEmpty, res.Source)
	require.Len(t, res.Notices, 1)
	assert.Equal(t, NoticeLocalTimeout, res.Notices[0].Code)

	start = time.Now()
	res = c.Load(context.Background(), "s1", "user-1")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, map[string]interface{}{"b": "remote"}, loadedAnswers(res))
	require.Len(t, res.Notices, 1)
	assert.Equal(t, NoticeLocalTimeout, res.Notices[0].Code)
}

func TestCoordinator_DiscardWaitsForRunningAutosave(t *testing.T) {
	cache := &slowWriteCache{
		memoryCache: newMemoryCache(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	c := createTestCoordinator(t, cache, nil, Options{Debounce: 5 * time.Millisecond})
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(cache.release) }) }
	t.Cleanup(release)

	c.ScheduleAutosave("s1", c.NewSnapshot("s1", answers.State{Answers: map[string]interface{}{"a": "x"}}))
	select {
	case <-cache.started:
	case <-time.After(time.Second):
		t.Fatal("autosave never started writing")
	}

	done := make(chan error, 1)
	go func() { done <- c.Discard(context.Background(), "s1") }()

	select {
	case <-done:
		t.Fatal("Discard returned while an autosave was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Discard never returned")
	}

	_, ok, err := cache.memoryCache.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_ForgetWaitsForRunningAutosave(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache := &slowWriteCache{
		memoryCache: newMemoryCache(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	c := NewCoordinator(cache, nil, NewCodec(), logger.NewTestLogger(t), Options{Debounce: 5 * time.Millisecond})
	defer c.Close()

	c.ScheduleAutosave("s1", c.NewSnapshot("s1", answers.State{Answers: map[string]interface{}{"a": "x"}}))
	<-cache.started

	done := make(chan struct{})
	go func() {
		c.Forget("s1")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Forget returned while an autosave was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(cache.release)
	<-done
	assert.Equal(t, 1, cache.writeCount())
}
