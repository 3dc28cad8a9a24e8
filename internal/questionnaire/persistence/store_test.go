package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/questionnaire/answers"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestSnapshot(sessionID string, values map[string]interface{}) *Snapshot {
	return &Snapshot{
		SessionID: sessionID,
		UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		State: answers.State{
			Answers: values,
			Goals: []answers.Goal{
				{ID: "retirement", Name: "Retirement", Interest: answers.InterestStronglyInterested},
			},
			GoalDetails: map[string]answers.GoalDetail{
				"retirement": {Timeline: "10+ years"},
			},
		},
	}
}

func createTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "", ttl), mr
}

// ==========================
// Redis local cache
// ==========================

func TestRedisCache_ReadWriteDelete(t *testing.T) {
	cache, mr := createTestRedisCache(t, time.Hour)
	ctx := context.Background()

	_, ok, err := cache.Read(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Write(ctx, "s1", []byte(`{"x":1}`)))
	assert.True(t, mr.Exists("questionnaire:answers:s1"))
	assert.Equal(t, time.Hour, mr.TTL("questionnaire:answers:s1"))

	data, ok, err := cache.Read(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(data))

	require.NoError(t, cache.Delete(ctx, "s1"))
	assert.False(t, mr.Exists("questionnaire:answers:s1"))
}

func TestRedisCache_Failures(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer client.Close()
	cache := NewRedisCache(client, "qa:", 0)
	ctx := context.Background()

	mock.ExpectGet("qa:s1").SetErr(errors.New("connection refused"))
	_, _, err := cache.Read(ctx, "s1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeLocalCacheReadFailed))

	data := []byte(`{}`)
	mock.ExpectSet("qa:s1", data, 0).SetErr(errors.New("OOM command not allowed"))
	err = cache.Write(ctx, "s1", data)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeLocalCacheWriteFailed))

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Postgres remote store
// ==========================

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS questionnaire_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db, NewCodec())
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Fetch(t *testing.T) {
	codec := NewCodec()
	payload, err := codec.Encode(createTestSnapshot("s1", map[string]interface{}{"a": 1}))
	require.NoError(t, err)

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
		check   func(t *testing.T, snap *Snapshot)
	}{
		{
			name: "row found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT payload FROM questionnaire_snapshots").
					WithArgs("user-1").
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
			},
			check: func(t *testing.T, snap *Snapshot) {
				assert.Equal(t, "s1", snap.SessionID)
				assert.Equal(t, "10+ years", snap.GoalDetails["retirement"].Timeline)
			},
		},
		{
			name: "no row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT payload FROM questionnaire_snapshots").
					WithArgs("user-1").
					WillReturnRows(sqlmock.NewRows([]string{"payload"}))
			},
			wantErr: ErrSnapshotNotFound,
		},
		{
			name: "corrupt payload",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT payload FROM questionnaire_snapshots").
					WithArgs("user-1").
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{"answers":[]}`)))
			},
			wantErr: ErrInvalidSnapshot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			snap, err := NewPostgresStore(db, codec).FetchSnapshot(context.Background(), "user-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				tt.check(t, snap)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	snap := createTestSnapshot("s1", map[string]interface{}{"a": 1})
	snap.Completed = true

	mock.ExpectExec(`(?s)INSERT INTO questionnaire_snapshots.*ON CONFLICT \(identity\) DO UPDATE`).
		WithArgs("user-1", "s1", true, sqlmock.AnyArg(), snap.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO questionnaire_snapshots").
		WillReturnError(errors.New("connection reset"))

	store := NewPostgresStore(db, NewCodec())
	require.NoError(t, store.UpsertSnapshot(context.Background(), "user-1", snap))
	assert.Error(t, store.UpsertSnapshot(context.Background(), "user-1", snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Memory store
// ==========================

func TestMemoryStore_DoesNotShareMemory(t *testing.T) {
	store := NewMemoryStore(NewCodec())
	ctx := context.Background()

	_, err := store.FetchSnapshot(ctx, "user-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	snap := createTestSnapshot("s1", map[string]interface{}{"a": "x"})
	require.NoError(t, store.UpsertSnapshot(ctx, "user-1", snap))
	snap.Answers["a"] = "mutated"

	got, err := store.FetchSnapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Answers["a"])
}

// ==========================
// Merge
// ==========================

func TestMerge_RemoteWinsLocalOnlyKeysSurvive(t *testing.T) {
	local := createTestSnapshot("s1", map[string]interface{}{"a": 1, "b": 2})
	remote := createTestSnapshot("old-session", map[string]interface{}{"a": 9, "c": 3})

	merged, source := Merge(local, remote)
	assert.Equal(t, SourceMerged, source)
	assert.Equal(t, map[string]interface{}{"a": 9, "b": 2, "c": 3}, merged.Answers)
	assert.Equal(t, "s1", merged.SessionID)
}

func TestMerge_GoalsAndDetails(t *testing.T) {
	local := createTestSnapshot("s1", nil)
	local.Goals = []answers.Goal{
		{ID: "retirement", Interest: answers.InterestLessLikely},
		{ID: "custom-1", Name: "Boat", Interest: answers.InterestWouldConsider, Custom: true},
	}
	local.GoalDetails = map[string]answers.GoalDetail{
		"retirement": {Timeline: "local"},
		"custom-1":   {RiskAppetite: "high"},
	}
	remote := createTestSnapshot("s1", nil)
	remote.Goals = []answers.Goal{
		{ID: "home_purchase", Interest: answers.InterestAlreadyPlanned},
		{ID: "retirement", Interest: answers.InterestStronglyInterested},
	}

	merged, _ := Merge(local, remote)

	ids := make([]string, len(merged.Goals))
	for i, g := range merged.Goals {
		ids[i] = g.ID
	}
	assert.Equal(t, []string{"home_purchase", "retirement", "custom-1"}, ids)
	assert.Equal(t, answers.InterestStronglyInterested, merged.Goals[1].Interest)
	assert.Equal(t, "10+ years", merged.GoalDetails["retirement"].Timeline)
	assert.Equal(t, "high", merged.GoalDetails["custom-1"].RiskAppetite)
}

func TestMerge_SingleSources(t *testing.T) {
	snap := createTestSnapshot("s1", nil)

	got, source := Merge(nil, nil)
	assert.Nil(t, got)
	assert.Equal(t, SourceEmpty, source)

	got, source = Merge(snap, nil)
	assert.Same(t, snap, got)
	assert.Equal(t, SourceLocal, source)

	got, source = Merge(nil, snap)
	assert.Same(t, snap, got)
	assert.Equal(t, SourceRemote, source)
}
