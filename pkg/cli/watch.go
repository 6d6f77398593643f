package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jguan/pipeline-console/pkg/unit/pipeline"
)

const watchNotifications = 3

func NewWatchCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live pipeline table with lifecycle controls",
		Long: `Show the pipeline list and keep it reconciled with the manager.

Keys: up/down select, s start, p pause, x shutdown, d delete, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), root)
		},
	}
}

func runWatch(ctx context.Context, root *RootCommand) error {
	app, err := root.App()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	snaps := make(chan pipeline.Snapshot, 1)
	unsubscribe := app.Reconciler.Subscribe(func(s pipeline.Snapshot) {
		// keep only the newest snapshot
		select {
		case <-snaps:
		default:
		}
		select {
		case snaps <- s:
		default:
		}
	})
	defer unsubscribe()

	failures := make(chan pollErrorMsg, 1)
	unsubscribeErrors := app.Reconciler.SubscribeErrors(func(err error) {
		select {
		case <-failures:
		default:
		}
		select {
		case failures <- pollErrorMsg{err: err, at: time.Now()}:
		default:
		}
	})
	defer unsubscribeErrors()

	prog := tea.NewProgram(newWatchModel(gctx, app, snaps, failures), tea.WithAltScreen(), tea.WithOutput(root.OutputOptions().Writer))

	g.Go(func() error {
		return app.Reconciler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		prog.Quit()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		_, err := prog.Run()
		return err
	})

	return g.Wait()
}

// Messages

type snapshotMsg struct {
	rows pipelineTable
	at   time.Time
}

// pollErrorMsg reports a failed poll; the table is stale until the next
// snapshot.
type pollErrorMsg struct {
	err error
	at  time.Time
}

// refreshMsg carries rows rebuilt outside the poll loop.
type refreshMsg struct {
	rows pipelineTable
}

type actionDoneMsg struct {
	kind  pipeline.ActionKind
	id    string
	fired bool
	err   error
}

type watchModel struct {
	ctx      context.Context
	app      *App
	snaps    <-chan pipeline.Snapshot
	failures <-chan pollErrorMsg

	rows      pipelineTable
	cursor    int
	width     int
	polledAt  time.Time
	pollErr   string
	pollErrAt time.Time
	status    string
	quitting  bool
}

func newWatchModel(ctx context.Context, app *App, snaps <-chan pipeline.Snapshot, failures <-chan pollErrorMsg) watchModel {
	return watchModel{ctx: ctx, app: app, snaps: snaps, failures: failures, status: "waiting for the first poll"}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), m.waitForPollError())
}

func (m watchModel) stale() bool {
	return m.pollErr != ""
}

func (m watchModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case snap := <-m.snaps:
			return snapshotMsg{rows: buildRows(m.ctx, m.app, snap), at: snap.FetchedAt}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m watchModel) waitForPollError() tea.Cmd {
	return func() tea.Msg {
		select {
		case f := <-m.failures:
			return f
		case <-m.ctx.Done():
			return nil
		}
	}
}

// refresh rebuilds the rows from the last snapshot so optimistic writes
// show up before the next poll.
func (m watchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		snap, ok := m.app.Reconciler.Last()
		if !ok {
			return nil
		}
		return refreshMsg{rows: buildRows(m.ctx, m.app, snap)}
	}
}

func (m watchModel) trigger(kind pipeline.ActionKind, id string) tea.Cmd {
	return func() tea.Msg {
		fired, err := m.app.Actions.Trigger(m.ctx, kind, id)
		return actionDoneMsg{kind: kind, id: id, fired: fired, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.rows = msg.rows
		m.polledAt = msg.at
		m.pollErr = ""
		m.pollErrAt = time.Time{}
		if m.cursor >= len(m.rows) {
			m.cursor = max(len(m.rows)-1, 0)
		}
		if m.status == "waiting for the first poll" {
			m.status = ""
		}
		return m, m.waitForSnapshot()

	case pollErrorMsg:
		m.pollErr = pipeline.ErrorMessage(msg.err)
		m.pollErrAt = msg.at
		return m, m.waitForPollError()

	case refreshMsg:
		m.rows = msg.rows
		if m.cursor >= len(m.rows) {
			m.cursor = max(len(m.rows)-1, 0)
		}

	case actionDoneMsg:
		switch {
		case !msg.fired:
			m.status = fmt.Sprintf("%s skipped for %s", msg.kind, msg.id)
		case msg.err != nil:
			m.status = fmt.Sprintf("%s %s failed", msg.kind, msg.id)
		default:
			m.status = fmt.Sprintf("%s %s sent", msg.kind, msg.id)
		}
		return m, m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}

		default:
			action, ok := actionForKey(msg.String())
			if !ok || len(m.rows) == 0 {
				return m, nil
			}
			row := m.rows[m.cursor]
			if !offers(row.Actions, action) {
				m.status = fmt.Sprintf("%s is not available while %s", action, row.Label)
				return m, nil
			}
			kind, _ := action.Kind()
			m.status = fmt.Sprintf("%s %s...", kind, row.ID)
			return m, tea.Batch(m.trigger(kind, row.ID), m.refresh())
		}
	}

	return m, nil
}

func offers(actions []pipeline.UIAction, a pipeline.UIAction) bool {
	for _, have := range actions {
		if have == a {
			return true
		}
	}
	return false
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Pipelines"))
	if !m.polledAt.IsZero() {
		b.WriteString(mutedStyle.Render("  polled " + m.polledAt.Format(time.TimeOnly)))
	}
	b.WriteString("\n")
	if m.stale() {
		b.WriteString(errorStyle.Render(fmt.Sprintf("poll failed at %s: %s", m.pollErrAt.Format(time.TimeOnly), m.pollErr)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(mutedStyle.Render("No pipelines"))
		b.WriteString("\n")
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-24s %-16s %s", "NAME", "STATUS", "ACTIONS")))
		b.WriteString("\n")
		for i, r := range m.rows {
			chip := pipeline.StatusChip(r.Status, r.ProgramReady)
			cursor := " "
			if i == m.cursor {
				cursor = selectedStyle.Render(">")
			}
			var line string
			if m.stale() {
				// dimmed rows carry no chip colors
				line = cursor + mutedStyle.Render(fmt.Sprintf(" %-24s %-16s %s", truncate(r.Name, 24), chip.Label, joinActions(r.Actions)))
			} else {
				label := RenderChip(chip) + strings.Repeat(" ", max(16-len(chip.Label), 0))
				line = cursor + fmt.Sprintf(" %-24s %s %s", truncate(r.Name, 24), label, RenderActions(r.Actions))
			}
			b.WriteString(line)
			b.WriteString("\n")
			if r.Error != "" && r.Status == pipeline.StatusFailed {
				b.WriteString("    " + errorStyle.Render(r.Error) + "\n")
			}
		}
	}

	items := m.app.Notifications.Items()
	if len(items) > watchNotifications {
		items = items[len(items)-watchNotifications:]
	}
	if len(items) > 0 {
		b.WriteString("\n")
		for _, n := range items {
			b.WriteString(RenderNotification(n))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ select • s start • p pause • x shutdown • d delete • q quit"))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
