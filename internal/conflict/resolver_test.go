package conflict_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/reposync/internal/conflict"
	"github.com/stacklok/reposync/internal/conflict/mocks"
	"github.com/stacklok/reposync/internal/syncerr"
)

// fakeWorkspace keeps both sides of each conflicted file in memory
type fakeWorkspace struct {
	mu       sync.Mutex
	ours     map[string]string
	theirs   map[string]string
	files    map[string]string
	unmerged map[string]bool
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		ours:     map[string]string{},
		theirs:   map[string]string{},
		files:    map[string]string{},
		unmerged: map[string]bool{},
	}
}

func (f *fakeWorkspace) conflict(path, ours, theirs string) {
	f.ours[path] = ours
	f.theirs[path] = theirs
	f.files[path] = "<<<<<<< ours\n" + ours + "=======\n" + theirs + ">>>>>>> theirs\n"
	f.unmerged[path] = true
}

func (f *fakeWorkspace) Conflicts(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Collect(maps.Keys(f.unmerged)), nil
}

func (f *fakeWorkspace) Version(_ context.Context, path string, side conflict.Side) ([]byte, error) {
	src := f.ours
	if side == conflict.SideTheirs {
		src = f.theirs
	}
	c, ok := src[path]
	if !ok {
		return nil, conflict.ErrSideMissing
	}
	return []byte(c), nil
}

func (*fakeWorkspace) Author(_ context.Context, _ string, side conflict.Side) (string, error) {
	if side == conflict.SideOurs {
		return "local@example.com", nil
	}
	return "remote@example.com", nil
}

func (f *fakeWorkspace) Write(_ context.Context, path string, content []byte) error {
	f.files[path] = string(content)
	return nil
}

func (f *fakeWorkspace) Remove(_ context.Context, path string) error {
	delete(f.files, path)
	return nil
}

func (f *fakeWorkspace) MarkResolved(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unmerged, path)
	return nil
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]conflict.Strategy{
		"ours": conflict.StrategyOurs, "THEIRS": conflict.StrategyTheirs, " manual ": conflict.StrategyManual,
	} {
		got, err := conflict.ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := conflict.ParseStrategy("newest")
	require.ErrorIs(t, err, syncerr.ErrInvalidInput)
}

func TestResolver_Detect(t *testing.T) {
	t.Parallel()

	ws := newFakeWorkspace()
	ws.conflict("b.txt", "ours\n", "theirs\n")
	ws.conflict("a.txt", "ours\n", "theirs\n")
	r := conflict.NewResolver()

	got, err := r.DetectAll(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, got)

	// Restartable: a second pass observes resolutions made in between
	_, err = r.ResolveOne(context.Background(), ws, "a.txt", conflict.StrategyOurs)
	require.NoError(t, err)
	got, err = r.DetectAll(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, got)
}

func TestResolver_DetectAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action func(t *testing.T, r *conflict.Resolver, ws conflict.Workspace)
		want   []string
	}{
		{
			name:   "unchanged workspace",
			action: func(*testing.T, *conflict.Resolver, conflict.Workspace) {},
			want:   []string{"a.txt", "b.txt", "c/d.txt"},
		},
		{
			name: "resolve all with ours",
			action: func(t *testing.T, r *conflict.Resolver, ws conflict.Workspace) {
				res, err := r.ResolveAll(context.Background(), ws, conflict.StrategyOurs)
				require.NoError(t, err)
				require.Len(t, res.Resolved, 3)
			},
			want: []string{},
		},
		{
			name: "resolve all with theirs",
			action: func(t *testing.T, r *conflict.Resolver, ws conflict.Workspace) {
				_, err := r.ResolveAll(context.Background(), ws, conflict.StrategyTheirs)
				require.NoError(t, err)
			},
			want: []string{},
		},
		{
			name: "resolve all with manual",
			action: func(t *testing.T, r *conflict.Resolver, ws conflict.Workspace) {
				_, err := r.ResolveAll(context.Background(), ws, conflict.StrategyManual)
				require.NoError(t, err)
			},
			want: []string{"a.txt", "b.txt", "c/d.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ws := newFakeWorkspace()
			ws.conflict("c/d.txt", "ours d\n", "theirs d\n")
			ws.conflict("b.txt", "ours b\n", "theirs b\n")
			ws.conflict("a.txt", "ours a\n", "theirs a\n")
			r := conflict.NewResolver()

			first, err := r.DetectAll(context.Background(), ws)
			require.NoError(t, err)
			assert.Equal(t, []string{"a.txt", "b.txt", "c/d.txt"}, first)

			tt.action(t, r, ws)

			got, err := r.DetectAll(context.Background(), ws)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestResolver_Detect_EarlyBreak(t *testing.T) {
	t.Parallel()

	ws := newFakeWorkspace()
	ws.conflict("a", "1", "2")
	ws.conflict("b", "1", "2")
	ws.conflict("c", "1", "2")

	var seen []string
	for p, err := range conflict.NewResolver().Detect(context.Background(), ws) {
		require.NoError(t, err)
		seen = append(seen, p)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestResolver_Detect_NotVersioned(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	ws := mocks.NewMockWorkspace(ctrl)
	ws.EXPECT().Conflicts(gomock.Any()).Return(nil, conflict.ErrNotVersioned)

	got, err := conflict.NewResolver().DetectAll(context.Background(), ws)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolver_Detect_Error(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	ws := mocks.NewMockWorkspace(ctrl)
	ws.EXPECT().Conflicts(gomock.Any()).Return(nil, errors.New("index corrupt"))

	_, err := conflict.NewResolver().DetectAll(context.Background(), ws)
	require.Error(t, err)
}

func TestResolver_ResolveAll_Ours(t *testing.T) {
	t.Parallel()

	ws := newFakeWorkspace()
	ws.conflict("docs/readme.md", "local\n", "remote\n")

	res, err := conflict.NewResolver().ResolveAll(context.Background(), ws, conflict.StrategyOurs)
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/readme.md"}, res.Resolved)
	assert.Empty(t, res.ManualRequired)
	assert.Equal(t, "local\n", ws.files["docs/readme.md"])
	assert.Empty(t, ws.unmerged)

	rec := res.Records["docs/readme.md"]
	require.NotNil(t, rec)
	assert.True(t, rec.Resolved)
	assert.Equal(t, "local@example.com", rec.LocalAuthor)
	assert.Equal(t, "remote@example.com", rec.RemoteAuthor)
	assert.Empty(t, res.Records.Pending())
}

func TestResolver_ResolveAll_Theirs(t *testing.T) {
	t.Parallel()

	ws := newFakeWorkspace()
	ws.conflict("a.txt", "local a\n", "remote a\n")
	ws.conflict("b.txt", "local b\n", "remote b\n")

	res, err := conflict.NewResolver().ResolveAll(context.Background(), ws, conflict.StrategyTheirs)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Resolved)
	assert.Equal(t, "remote a\n", ws.files["a.txt"])
	assert.Equal(t, "remote b\n", ws.files["b.txt"])
	assert.NotContains(t, ws.files["a.txt"], "<<<<<<<")
}

func TestResolver_ResolveAll_Manual(t *testing.T) {
	t.Parallel()

	ws := newFakeWorkspace()
	ws.conflict("a.txt", "local\n", "remote\n")
	before := ws.files["a.txt"]

	res, err := conflict.NewResolver().ResolveAll(context.Background(), ws, conflict.StrategyManual)
	require.NoError(t, err)

	assert.Empty(t, res.Resolved)
	assert.Equal(t, []string{"a.txt"}, res.ManualRequired)
	assert.Equal(t, before, ws.files["a.txt"], "manual strategy never touches the file")
	assert.True(t, ws.unmerged["a.txt"])
	assert.Equal(t, []string{"a.txt"}, res.Records.Manual())
	assert.Empty(t, res.Records.Pending())
}

func TestResolver_ResolveAll_Empty(t *testing.T) {
	t.Parallel()

	res, err := conflict.NewResolver().ResolveAll(context.Background(), newFakeWorkspace(), conflict.StrategyTheirs)
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Empty(t, res.ManualRequired)
	assert.Empty(t, res.Records)
}

func TestResolver_ResolveOne_DeletedOnWinningSide(t *testing.T) {
	t.Parallel()

	ws := newFakeWorkspace()
	ws.conflict("gone.txt", "local\n", "remote\n")
	delete(ws.theirs, "gone.txt")

	ok, err := conflict.NewResolver().ResolveOne(context.Background(), ws, "gone.txt", conflict.StrategyTheirs)
	require.NoError(t, err)
	assert.True(t, ok)
	_, exists := ws.files["gone.txt"]
	assert.False(t, exists)
	assert.Empty(t, ws.unmerged)
}

func TestResolver_ResolveOne_Failures(t *testing.T) {
	t.Parallel()

	ioErr := errors.New("permission denied")

	tests := []struct {
		name  string
		setup func(ws *mocks.MockWorkspace)
	}{
		{
			name: "read fails",
			setup: func(ws *mocks.MockWorkspace) {
				ws.EXPECT().Version(gomock.Any(), "a.txt", conflict.SideTheirs).Return(nil, ioErr)
			},
		},
		{
			name: "write fails",
			setup: func(ws *mocks.MockWorkspace) {
				ws.EXPECT().Version(gomock.Any(), "a.txt", conflict.SideTheirs).Return([]byte("x"), nil)
				ws.EXPECT().Write(gomock.Any(), "a.txt", []byte("x")).Return(ioErr)
			},
		},
		{
			name: "mark resolved fails",
			setup: func(ws *mocks.MockWorkspace) {
				ws.EXPECT().Version(gomock.Any(), "a.txt", conflict.SideTheirs).Return([]byte("x"), nil)
				ws.EXPECT().Write(gomock.Any(), "a.txt", []byte("x")).Return(nil)
				ws.EXPECT().MarkResolved(gomock.Any(), "a.txt").Return(ioErr)
			},
		},
		{
			name: "remove fails",
			setup: func(ws *mocks.MockWorkspace) {
				ws.EXPECT().Version(gomock.Any(), "a.txt", conflict.SideTheirs).Return(nil, conflict.ErrSideMissing)
				ws.EXPECT().Remove(gomock.Any(), "a.txt").Return(ioErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			ws := mocks.NewMockWorkspace(ctrl)
			tt.setup(ws)

			ok, err := conflict.NewResolver().ResolveOne(context.Background(), ws, "a.txt", conflict.StrategyTheirs)
			assert.False(t, ok)
			require.ErrorIs(t, err, syncerr.ErrConflictResolution)
			assert.ErrorIs(t, err, ioErr)
			se, isSyncErr := syncerr.As(err)
			require.True(t, isSyncErr)
			assert.Equal(t, "a.txt", se.Path)
		})
	}
}

func TestResolver_ResolveOne_UnknownStrategy(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	ws := mocks.NewMockWorkspace(ctrl)

	_, err := conflict.NewResolver().ResolveOne(context.Background(), ws, "a.txt", conflict.Strategy("newest"))
	require.ErrorIs(t, err, syncerr.ErrInvalidInput)
}

func TestResolver_ResolveAll_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	ws := mocks.NewMockWorkspace(ctrl)
	ws.EXPECT().Conflicts(gomock.Any()).Return([]string{"b.txt", "a.txt"}, nil)
	ws.EXPECT().Author(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("no log")).AnyTimes()
	ws.EXPECT().Version(gomock.Any(), "a.txt", conflict.SideOurs).Return([]byte("a"), nil)
	ws.EXPECT().Write(gomock.Any(), "a.txt", []byte("a")).Return(nil)
	ws.EXPECT().MarkResolved(gomock.Any(), "a.txt").Return(nil)
	ws.EXPECT().Version(gomock.Any(), "b.txt", conflict.SideOurs).Return(nil, errors.New("blob missing"))

	res, err := conflict.NewResolver().ResolveAll(context.Background(), ws, conflict.StrategyOurs)
	require.ErrorIs(t, err, syncerr.ErrConflictResolution)
	assert.Equal(t, []string{"a.txt"}, res.Resolved)
	assert.Equal(t, []string{"b.txt"}, res.Records.Pending())
	assert.Empty(t, res.Records["a.txt"].LocalAuthor)
}
