package wizard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/questionnaire/answers"
	"advisory-portal/internal/questionnaire/persistence"
	"advisory-portal/internal/questionnaire/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts loads and slows them down so concurrent starts overlap.
type countingStore struct {
	*persistence.Coordinator
	loads atomic.Int32
}

func (s *countingStore) Load(ctx context.Context, sessionID, identity string) *persistence.LoadResult {
	s.loads.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.Coordinator.Load(ctx, sessionID, identity)
}

func createTestRegistry(t *testing.T) (*Registry, *countingStore, *testEnv) {
	env := createTestEnv(t)
	store := &countingStore{Coordinator: env.coord}
	r := NewRegistry(store, env.notifier, logger.NewTestLogger(t), DefaultConfig())
	t.Cleanup(r.Close)
	return r, store, env
}

func TestRegistry_StartRequiresSessionID(t *testing.T) {
	r, _, _ := createTestRegistry(t)

	_, err := r.Start(context.Background(), "", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionIDRequired))
}

func TestRegistry_ConcurrentStartsShareOneLoad(t *testing.T) {
	r, store, _ := createTestRegistry(t)

	const callers = 8
	engines := make([]*Engine, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Start(context.Background(), "session-1", "")
			if assert.NoError(t, err) {
				engines[i] = res.Engine
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.loads.Load())
	for _, e := range engines {
		assert.Same(t, engines[0], e)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_StartReturnsLoadResultOnce(t *testing.T) {
	r, _, _ := createTestRegistry(t)

	first, err := r.Start(context.Background(), "session-1", "")
	require.NoError(t, err)
	require.NotNil(t, first.Load)
	assert.Equal(t, persistence.SourceEmpty, first.Load.Source)

	second, err := r.Start(context.Background(), "session-1", "")
	require.NoError(t, err)
	assert.Nil(t, second.Load)
	assert.Same(t, first.Engine, second.Engine)
}

func seedCache(t *testing.T, env *testEnv, sessionID string, values map[string]interface{}) {
	agg := answers.New(answers.DefaultCatalog)
	for k, v := range values {
		require.NoError(t, agg.UpdateAnswer(k, v))
	}
	data, err := persistence.NewCodec().Encode(&persistence.Snapshot{
		SessionID: sessionID,
		UpdatedAt: time.Now().UTC(),
		State:     agg.State(),
	})
	require.NoError(t, err)
	require.NoError(t, env.cache.Write(context.Background(), sessionID, data))
}

func TestRegistry_CanceledStartKeepsSavedAnswers(t *testing.T) {
	r, store, env := createTestRegistry(t)
	seedCache(t, env, "session-1", map[string]interface{}{"ageBand": "35-44"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Start(ctx, "session-1", "")
	require.ErrorIs(t, err, context.Canceled)

	res, err := r.Start(context.Background(), "session-1", "")
	require.NoError(t, err)
	require.NotNil(t, res.Load)
	assert.Equal(t, persistence.SourceLocal, res.Load.Source)
	assert.Equal(t, "35-44", res.Engine.State().Answers["ageBand"])
	assert.Equal(t, int32(1), store.loads.Load())

	// a mutation autosaves on top of the restored answers
	require.NoError(t, res.Engine.UpdateAnswer("maritalStatus", "single"))
	res.Engine.Flush()
	data, ok, err := env.cache.Read(context.Background(), "session-1")
	require.NoError(t, err)
	require.True(t, ok)
	snap, err := persistence.NewCodec().Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "35-44", snap.Answers["ageBand"])
	assert.Equal(t, "single", snap.Answers["maritalStatus"])

	again, err := r.Start(context.Background(), "session-1", "")
	require.NoError(t, err)
	assert.Nil(t, again.Load)
}

func TestRegistry_StartAttachesIdentity(t *testing.T) {
	r, _, _ := createTestRegistry(t)

	res, err := r.Start(context.Background(), "session-1", "")
	require.NoError(t, err)
	assert.Empty(t, res.Engine.Identity())

	res, err = r.Start(context.Background(), "session-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.Engine.Identity())
}

func TestRegistry_Get(t *testing.T) {
	r, _, _ := createTestRegistry(t)

	_, err := r.Get("missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))

	_, err = r.Get("")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionIDRequired))

	started, err := r.Start(context.Background(), "session-1", "")
	require.NoError(t, err)
	got, err := r.Get("session-1")
	require.NoError(t, err)
	assert.Same(t, started.Engine, got)
}

func TestRegistry_EndKeepsLocalAnswers(t *testing.T) {
	r, _, _ := createTestRegistry(t)
	ctx := context.Background()

	res, err := r.Start(ctx, "session-1", "")
	require.NoError(t, err)
	require.NoError(t, res.Engine.UpdateAnswer("ageBand", "35-44"))

	require.NoError(t, r.End("session-1"))
	assert.Equal(t, 0, r.Len())
	assert.True(t, apperrors.HasCode(r.End("session-1"), apperrors.ErrCodeSessionNotFound))

	again, err := r.Start(ctx, "session-1", "")
	require.NoError(t, err)
	assert.NotSame(t, res.Engine, again.Engine)
	assert.Equal(t, persistence.SourceLocal, again.Load.Source)
	assert.Equal(t, "35-44", again.Engine.State().Answers["ageBand"])
}

func TestRegistry_Resume(t *testing.T) {
	r, _, _ := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Resume(ctx, "session-1", "")
	require.NoError(t, err)
	assert.False(t, info.HasSavedAnswers)
	assert.Equal(t, persistence.SourceEmpty, info.Source)
	assert.Equal(t, progress.ModeCoverage, info.Progress.Mode)
	assert.Equal(t, 0, info.Progress.Percent)

	res, err := r.Start(ctx, "session-1", "")
	require.NoError(t, err)
	require.NoError(t, res.Engine.UpdateAnswer("ageBand", "35-44"))

	active, err := r.Resume(ctx, "session-1", "")
	require.NoError(t, err)
	assert.True(t, active.Active)
	assert.Greater(t, active.Progress.Percent, 0)

	require.NoError(t, r.End("session-1"))
	saved, err := r.Resume(ctx, "session-1", "")
	require.NoError(t, err)
	assert.True(t, saved.HasSavedAnswers)
	assert.False(t, saved.Active)
	assert.Equal(t, persistence.SourceLocal, saved.Source)
	assert.Equal(t, active.Progress.Percent, saved.Progress.Percent)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DiscardDeletesLocalAnswers(t *testing.T) {
	r, _, _ := createTestRegistry(t)
	ctx := context.Background()

	res, err := r.Start(ctx, "session-1", "")
	require.NoError(t, err)
	require.NoError(t, res.Engine.UpdateAnswer("ageBand", "35-44"))

	require.NoError(t, r.Discard(ctx, "session-1"))
	assert.Equal(t, 0, r.Len())

	info, err := r.Resume(ctx, "session-1", "")
	require.NoError(t, err)
	assert.False(t, info.HasSavedAnswers)

	// discarding an inactive session only clears the cache
	assert.NoError(t, r.Discard(ctx, "session-1"))
}

func TestRegistry_CloseEndsAllSessions(t *testing.T) {
	r, _, _ := createTestRegistry(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Start(context.Background(), id, "")
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Len())

	r.Close()
	assert.Equal(t, 0, r.Len())
}
