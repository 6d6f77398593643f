package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/pipeline-console/pkg/unit/pipeline"
)

type watchFixture struct {
	api      *fakeManager
	app      *App
	snaps    chan pipeline.Snapshot
	failures chan pollErrorMsg
	model    watchModel
}

func newWatchFixture(t *testing.T) *watchFixture {
	t.Helper()
	f := &watchFixture{
		api:      seededManager(),
		snaps:    make(chan pipeline.Snapshot, 1),
		failures: make(chan pollErrorMsg, 1),
	}

	app, err := NewApp(testConfig(t), WithAPI(f.api))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	f.app = app

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.model = newWatchModel(ctx, app, f.snaps, f.failures)
	return f
}

// load polls once and feeds the snapshot through the model.
func (f *watchFixture) load(t *testing.T) {
	t.Helper()
	snap, err := f.app.Reconciler.Poll(context.Background())
	require.NoError(t, err)
	f.snaps <- snap

	msg := f.model.waitForSnapshot()()
	f.update(t, msg)
}

func (f *watchFixture) update(t *testing.T, msg tea.Msg) tea.Cmd {
	t.Helper()
	next, cmd := f.model.Update(msg)
	m, ok := next.(watchModel)
	require.True(t, ok)
	f.model = m
	return cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatchModel_Snapshot(t *testing.T) {
	f := newWatchFixture(t)
	assert.Contains(t, f.model.View(), "waiting for the first poll")

	f.load(t)

	require.Len(t, f.model.rows, 3)
	assert.Equal(t, "billing", f.model.rows[0].Name)
	assert.Empty(t, f.model.status)
	assert.False(t, f.model.polledAt.IsZero())

	view := f.model.View()
	assert.Contains(t, view, "Pipelines")
	assert.Contains(t, view, "orders")
	assert.Contains(t, view, "Compiling")
	assert.Contains(t, view, "q quit")
}

func TestWatchModel_Cursor(t *testing.T) {
	f := newWatchFixture(t)
	f.load(t)

	f.update(t, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, f.model.cursor)

	for i := 0; i < 5; i++ {
		f.update(t, tea.KeyMsg{Type: tea.KeyDown})
	}
	assert.Equal(t, 2, f.model.cursor)

	f.update(t, runes("k"))
	assert.Equal(t, 1, f.model.cursor)
}

func TestWatchModel_UnavailableAction(t *testing.T) {
	f := newWatchFixture(t)
	f.load(t)

	// billing is compiling: only edit and delete are offered
	cmd := f.update(t, runes("p"))
	assert.Nil(t, cmd)
	assert.Equal(t, "pause is not available while Compiling", f.model.status)
	assert.Empty(t, f.api.recorded())
}

func TestWatchModel_TriggerAction(t *testing.T) {
	f := newWatchFixture(t)
	f.load(t)
	f.model.cursor = 2 // orders, running

	cmd := f.update(t, runes("p"))
	require.NotNil(t, cmd)
	assert.Equal(t, "pause p1...", f.model.status)

	msg := f.model.trigger(pipeline.ActionPause, "p1")()
	done, ok := msg.(actionDoneMsg)
	require.True(t, ok)
	assert.True(t, done.fired)
	assert.NoError(t, done.err)
	assert.Equal(t, []string{"pause"}, f.api.recorded())

	refresh := f.update(t, done)
	assert.Equal(t, "pause p1 sent", f.model.status)
	require.NotNil(t, refresh)

	f.update(t, refresh())
	assert.Equal(t, pipeline.StatusPausing, f.model.rows[2].Status)
	assert.Contains(t, f.model.View(), "…")
}

func TestWatchModel_ActionOutcomes(t *testing.T) {
	f := newWatchFixture(t)

	f.update(t, actionDoneMsg{kind: pipeline.ActionStart, id: "p3", fired: false})
	assert.Equal(t, "start skipped for p3", f.model.status)

	f.update(t, actionDoneMsg{kind: pipeline.ActionStart, id: "p3", fired: true, err: assert.AnError})
	assert.Equal(t, "start p3 failed", f.model.status)
}

func TestWatchModel_Quit(t *testing.T) {
	f := newWatchFixture(t)

	cmd := f.update(t, runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, f.model.quitting)
	assert.Empty(t, f.model.View())
}

func TestWatchModel_PollFailureMarksTableStale(t *testing.T) {
	f := newWatchFixture(t)
	f.load(t)

	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)
	f.failures <- pollErrorMsg{err: errors.New("connection refused"), at: at}
	msg := f.model.waitForPollError()()
	cmd := f.update(t, msg)
	require.NotNil(t, cmd)

	assert.True(t, f.model.stale())
	require.Len(t, f.model.rows, 3)
	view := f.model.View()
	assert.Contains(t, view, "poll failed at 15:04:05: connection refused")
	assert.Contains(t, view, "orders")

	// the next successful poll clears the marker
	f.load(t)
	assert.False(t, f.model.stale())
	assert.NotContains(t, f.model.View(), "poll failed")
}

func TestWatchModel_ReceivesReconcilerErrors(t *testing.T) {
	app, err := NewApp(testConfig(t), WithAPI(failingList{seededManager()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	failures := make(chan pollErrorMsg, 1)
	unsubscribe := app.Reconciler.SubscribeErrors(func(err error) {
		select {
		case failures <- pollErrorMsg{err: err, at: time.Now()}:
		default:
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = app.Reconciler.Run(ctx) }()

	m := newWatchModel(ctx, app, make(chan pipeline.Snapshot), failures)
	next, _ := m.Update(m.waitForPollError()())
	m = next.(watchModel)
	assert.Contains(t, m.View(), "manager unavailable")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
