package status

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/stacklok/reposync/internal/repo"
)

const testRepo = "acme/widgets"

func TestFileSink_AttemptLifecycle(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sink := NewFileSink(tmpDir, WithClock(clocktesting.NewFakePassiveClock(now)))
	ctx := context.Background()

	started := Attempt{Session: "s1", Repo: testRepo, Number: 1, StartedAt: now, Status: AttemptInProgress}
	sink.RecordAttempt(ctx, started)

	st, err := sink.LoadStatus(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, SyncPhaseSyncing, st.Phase)
	assert.Equal(t, 1, st.AttemptCount)

	failed := started
	failed.Status = AttemptFailed
	failed.Error = "connection reset"
	failed.CompletedAt = ptr.To(now.Add(time.Second))
	sink.RecordAttempt(ctx, failed)

	st, err = sink.LoadStatus(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, SyncPhaseFailed, st.Phase)
	assert.Equal(t, "connection reset", st.Message)

	second := Attempt{Session: "s1", Repo: testRepo, Number: 2, StartedAt: now.Add(2 * time.Second),
		CompletedAt: ptr.To(now.Add(3 * time.Second)), Status: AttemptSuccess}
	sink.RecordAttempt(ctx, second)

	st, err = sink.LoadStatus(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, SyncPhaseComplete, st.Phase)
	assert.Equal(t, 2, st.AttemptCount)
	assert.Empty(t, st.Message)
	require.NotNil(t, st.LastSyncTime)
	assert.True(t, st.LastSyncTime.Equal(now.Add(3*time.Second)))

	events, err := sink.Events(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, EventAttempt, ev.Type)
		require.NotNil(t, ev.Attempt)
		if i > 0 {
			assert.GreaterOrEqual(t, ev.Attempt.Number, events[i-1].Attempt.Number)
		}
	}

	_, err = os.Stat(filepath.Join(tmpDir, "acme", "widgets", StatusFileName))
	require.NoError(t, err)
}

func TestFileSink_ErrorsWarningsAndBroken(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakePassiveClock(now)
	sink := NewFileSink(t.TempDir(), WithClock(clk))
	ctx := context.Background()

	sink.RecordError(ctx, testRepo, "repository_not_found", "the repository was deleted or renamed")
	sink.RecordWarning(ctx, testRepo, "repository not found")
	sink.MarkBroken(ctx, testRepo)

	clk.SetTime(now.Add(time.Hour))
	sink.MarkBroken(ctx, testRepo)

	st, err := sink.LoadStatus(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, SyncPhaseFailed, st.Phase)
	assert.Equal(t, "repository_not_found", st.LastErrorKind)
	assert.Equal(t, []string{"repository not found"}, st.Warnings)
	assert.True(t, st.Broken)
	require.NotNil(t, st.BrokenSince)
	assert.True(t, st.BrokenSince.Equal(now), "first broken time is kept")

	require.NoError(t, sink.ClearBroken(ctx, testRepo))
	st, err = sink.LoadStatus(ctx, testRepo)
	require.NoError(t, err)
	assert.False(t, st.Broken)
	assert.Nil(t, st.BrokenSince)
}

func TestFileSink_WarningsAreBounded(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())
	ctx := context.Background()

	for i := 0; i < maxWarnings+5; i++ {
		sink.RecordWarning(ctx, testRepo, "warning")
	}

	st, err := sink.LoadStatus(ctx, testRepo)
	require.NoError(t, err)
	assert.Len(t, st.Warnings, maxWarnings)
}

func TestFileSink_LoadNonExistent(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())

	loaded, err := sink.LoadStatus(context.Background(), testRepo)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, SyncPhase(""), loaded.Phase)

	events, err := sink.Events(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFileSink_RejectsInvalidRepo(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())

	_, err := sink.LoadStatus(context.Background(), "../../etc")
	require.ErrorIs(t, err, repo.ErrInvalidRef)

	err = sink.SaveStatus(context.Background(), "nope", &RepoStatus{})
	require.ErrorIs(t, err, repo.ErrInvalidRef)

	// Notification methods never fail the caller
	assert.NotPanics(t, func() {
		sink.RecordWarning(context.Background(), "../escape", "ignored")
	})
}

func TestFileSink_SaveAndLoadAll(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())
	ctx := context.Background()

	require.NoError(t, sink.SaveStatus(ctx, "acme/widgets", &RepoStatus{Phase: SyncPhaseComplete}))
	require.NoError(t, sink.SaveStatus(ctx, "acme/gadgets", &RepoStatus{Phase: SyncPhaseFailed, Broken: true}))

	all, err := sink.LoadAllStatus(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, SyncPhaseComplete, all["acme/widgets"].Phase)
	assert.True(t, all["acme/gadgets"].Broken)
}

func TestFileSink_LoadAllMissingBase(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(filepath.Join(t.TempDir(), "missing"))
	all, err := sink.LoadAllStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileSink_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sink.RecordAttempt(ctx, Attempt{Session: "s", Repo: testRepo, Number: n, StartedAt: time.Now(), Status: AttemptInProgress})
		}(i)
	}
	wg.Wait()

	events, err := sink.Events(ctx, testRepo)
	require.NoError(t, err)
	assert.Len(t, events, writers)
}
