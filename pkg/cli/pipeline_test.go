package cli

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/infra/notify"
	"github.com/jguan/pipeline-console/pkg/unit/pipeline"
)

// seededManager has a running pipeline with a compiled program, an inactive
// one whose program is still compiling and an inactive ready one.
func seededManager() *fakeManager {
	api := newFakeManager()
	api.add("p1", "orders", manager.PipelineStatusRunning, manager.PipelineStatusRunning, true)
	api.add("p2", "billing", manager.PipelineStatusShutdown, manager.PipelineStatusShutdown, false)
	api.add("p3", "events", manager.PipelineStatusShutdown, manager.PipelineStatusShutdown, true)
	return api
}

func TestNewPipelineCommand(t *testing.T) {
	root := &RootCommand{opts: NewOutputOptions()}
	cmd := NewPipelineCommand(root)

	assert.Equal(t, "pipeline", cmd.Use)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"list", "status", "describe", "start", "pause", "shutdown", "delete", "update", "stats"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestPipelineActionCommand_WaitFlags(t *testing.T) {
	root := &RootCommand{opts: NewOutputOptions()}

	for _, kind := range pipeline.ActionKinds() {
		cmd := NewPipelineActionCommand(root, kind)
		_, waits := awaitTargets[kind]
		assert.Equal(t, waits, cmd.Flags().Lookup("wait") != nil, string(kind))
		assert.Equal(t, waits, cmd.Flags().Lookup("timeout") != nil, string(kind))
	}
}

func TestPipelineList_JSON(t *testing.T) {
	root, out, _ := newTestRoot(t, testConfig(t), seededManager())

	require.NoError(t, execute(root, "pipeline", "list", "-o", "json"))

	rows := decodeJSON[[]map[string]any](t, out.Bytes())
	require.Len(t, rows, 3)

	// sorted by name
	assert.Equal(t, "billing", rows[0]["name"])
	assert.Equal(t, "events", rows[1]["name"])
	assert.Equal(t, "orders", rows[2]["name"])

	assert.Equal(t, "INACTIVE", rows[0]["status"])
	assert.Equal(t, "Compiling", rows[0]["label"])
	assert.Equal(t, false, rows[0]["program_ready"])
	assert.Equal(t, []any{"edit", "delete"}, rows[0]["actions"])

	assert.Equal(t, []any{"start", "edit", "delete"}, rows[1]["actions"])

	assert.Equal(t, "RUNNING", rows[2]["status"])
	assert.Equal(t, "Running", rows[2]["current_status"])
	assert.Equal(t, []any{"pause", "shutdown", "edit"}, rows[2]["actions"])
}

func TestPipelineList_Table(t *testing.T) {
	root, out, _ := newTestRoot(t, testConfig(t), seededManager())

	require.NoError(t, execute(root, "pipeline", "list"))

	s := out.String()
	assert.Contains(t, s, "NAME")
	assert.Contains(t, s, "orders")
	assert.Contains(t, s, "Compiling")
	assert.Contains(t, s, "pause,shutdown,edit")
}

func TestPipelineList_Empty(t *testing.T) {
	root, out, _ := newTestRoot(t, testConfig(t), newFakeManager())

	require.NoError(t, execute(root, "pipeline", "list"))
	assert.Equal(t, "No items\n", out.String())
}

func TestPipelineStart(t *testing.T) {
	api := seededManager()
	root, out, _ := newTestRoot(t, testConfig(t), api)
	app, err := root.App()
	require.NoError(t, err)

	require.NoError(t, execute(root, "pipeline", "start", "p3"))

	assert.Equal(t, []string{"start"}, api.recorded())
	assert.Contains(t, out.String(), "Pipeline p3: start requested (STARTING)")
	// optimistic status holds until the next poll
	assert.Equal(t, pipeline.StatusStarting, app.Store.Get("p3"))
}

func TestPipelineStart_Wait(t *testing.T) {
	api := seededManager()
	root, out, _ := newTestRoot(t, testConfig(t), api)
	app, err := root.App()
	require.NoError(t, err)

	require.NoError(t, execute(root, "pipeline", "start", "p3", "--wait"))

	assert.Contains(t, out.String(), "Pipeline p3 is RUNNING")
	assert.Equal(t, pipeline.StatusRunning, app.Store.Get("p3"))
}

func TestPipelinePause_WaitTimesOut(t *testing.T) {
	api := seededManager()
	api.hold = true
	root, _, _ := newTestRoot(t, testConfig(t), api)
	app, err := root.App()
	require.NoError(t, err)

	err = execute(root, "pipeline", "pause", "p1", "--wait", "--timeout", "50ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for pipeline p1")

	// the manager still reports running towards paused, so the optimistic
	// status is kept
	assert.Equal(t, manager.PipelineStatusPaused, api.state("p1").DesiredStatus)
	assert.Equal(t, pipeline.StatusPausing, app.Store.Get("p1"))
}

func TestPipelineAction_NotApplicable(t *testing.T) {
	api := seededManager()
	root, _, _ := newTestRoot(t, testConfig(t), api)

	err := execute(root, "pipeline", "pause", "p2")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNotApplicable)
	assert.Contains(t, err.Error(), "while it is INACTIVE")
	assert.Empty(t, api.recorded())
}

func TestPipelineAction_FailureRollsBack(t *testing.T) {
	api := seededManager()
	api.actionErr = errors.New("connection refused")
	root, _, _ := newTestRoot(t, testConfig(t), api)
	app, err := root.App()
	require.NoError(t, err)

	err = execute(root, "pipeline", "pause", "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, pipeline.StatusRunning, app.Store.Get("p1"))

	items := app.Notifications.Items()
	require.Len(t, items, 1)
	assert.Equal(t, notify.SeverityError, items[0].Severity)
	assert.Contains(t, items[0].Message, "connection refused")
}

func TestPipelineDelete(t *testing.T) {
	api := seededManager()
	root, out, _ := newTestRoot(t, testConfig(t), api)
	app, err := root.App()
	require.NoError(t, err)

	require.NoError(t, execute(root, "pipeline", "delete", "p2"))

	assert.Equal(t, []string{"p2"}, api.deleted)
	assert.Contains(t, out.String(), "Pipeline p2 deleted")
	_, tracked := app.Store.Snapshot()["p2"]
	assert.False(t, tracked)
}

func TestPipelineUpdate(t *testing.T) {
	t.Run("requires a field", func(t *testing.T) {
		root, _, _ := newTestRoot(t, testConfig(t), seededManager())

		err := execute(root, "pipeline", "update", "p2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nothing to update")
	})

	t.Run("rename keeps description", func(t *testing.T) {
		api := seededManager()
		root, out, _ := newTestRoot(t, testConfig(t), api)

		require.NoError(t, execute(root, "pipeline", "update", "p2", "--name", "invoices"))

		require.Len(t, api.updates, 1)
		assert.Equal(t, "invoices", api.updates[0].Name)
		assert.Equal(t, "billing description", api.updates[0].Description)
		assert.Contains(t, out.String(), "Pipeline p2 updated (version 2)")
	})

	t.Run("unknown pipeline", func(t *testing.T) {
		root, _, _ := newTestRoot(t, testConfig(t), seededManager())

		err := execute(root, "pipeline", "update", "nope", "--description", "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown pipeline id 'nope'")
	})
}

func TestPipelineStatus(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		root, out, _ := newTestRoot(t, testConfig(t), seededManager())

		require.NoError(t, execute(root, "pipeline", "status", "p1", "-o", "json"))

		view := decodeJSON[map[string]any](t, out.Bytes())
		assert.Equal(t, "orders", view["name"])
		assert.Equal(t, "RUNNING", view["status"])
		assert.Equal(t, "Running", view["desired_status"])
	})

	t.Run("missing", func(t *testing.T) {
		root, _, _ := newTestRoot(t, testConfig(t), seededManager())

		err := execute(root, "pipeline", "status", "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown pipeline id 'nope'")
	})
}

func TestPipelineDescribe(t *testing.T) {
	api := seededManager()
	api.revisions["p1"] = &manager.PipelineRevision{
		Revision: "r7",
		Pipeline: manager.PipelineDescr{
			PipelineID: "p1",
			AttachedConnectors: []manager.AttachedConnector{
				{Name: "a1", IsInput: true, ConnectorID: "c1", RelationName: "orders_in"},
			},
		},
		Connectors: []manager.ConnectorDescr{{ConnectorID: "c1", Name: "kafka"}},
		Program: manager.ProgramDescr{
			Name: "orders-program",
			Schema: &manager.ProgramSchema{
				Inputs:  []manager.Relation{{Name: "orders_in"}},
				Outputs: []manager.Relation{{Name: "totals"}},
			},
		},
	}

	t.Run("json", func(t *testing.T) {
		root, out, _ := newTestRoot(t, testConfig(t), api)

		require.NoError(t, execute(root, "pipeline", "describe", "p1", "-o", "json"))

		desc := decodeJSON[map[string]any](t, out.Bytes())
		assert.Equal(t, "r7", desc["revision"])
		assert.Equal(t, "workers: 8\n", desc["config"])

		inputs := desc["inputs"].([]any)
		require.Len(t, inputs, 1)
		assert.Equal(t, "orders_in", inputs[0].(map[string]any)["relation"])
		assert.Equal(t, []any{"kafka"}, inputs[0].(map[string]any)["connectors"])

		outputs := desc["outputs"].([]any)
		require.Len(t, outputs, 1)
		assert.Equal(t, []any{}, outputs[0].(map[string]any)["connectors"])
	})

	t.Run("table", func(t *testing.T) {
		root, out, _ := newTestRoot(t, testConfig(t), api)

		require.NoError(t, execute(root, "pipeline", "describe", "p1"))

		s := out.String()
		assert.Contains(t, s, "orders (p1)")
		assert.Contains(t, s, "revision: r7")
		assert.Contains(t, s, "DIRECTION")
		assert.Contains(t, s, "kafka")
	})

	t.Run("never deployed", func(t *testing.T) {
		root, out, _ := newTestRoot(t, testConfig(t), api)

		require.NoError(t, execute(root, "pipeline", "describe", "p2", "-o", "json"))

		desc := decodeJSON[map[string]any](t, out.Bytes())
		assert.Empty(t, desc["inputs"])
		assert.NotContains(t, desc, "revision")
	})
}

func TestPipelineStats(t *testing.T) {
	api := seededManager()
	api.stats["p1"] = &manager.PipelineStats{
		GlobalMetrics: manager.GlobalMetrics{TotalProcessedRecords: 42},
		Inputs: []manager.InputEndpointStatus{
			{EndpointName: "kafka-in", Config: manager.EndpointConfig{Stream: "orders_in"}, Metrics: manager.InputEndpointMetrics{TotalRecords: 10}},
		},
		Outputs: []manager.OutputEndpointStatus{
			{EndpointName: "file-out", Config: manager.EndpointConfig{Stream: "totals"}, Metrics: manager.OutputEndpointMetrics{TransmittedRecords: 3}},
		},
	}

	t.Run("running", func(t *testing.T) {
		root, out, _ := newTestRoot(t, testConfig(t), api)

		require.NoError(t, execute(root, "pipeline", "stats", "p1", "-o", "json"))

		view := decodeJSON[map[string]any](t, out.Bytes())
		assert.Equal(t, float64(42), view["global"].(map[string]any)["total_processed_records"])
		endpoints := view["endpoints"].([]any)
		require.Len(t, endpoints, 2)
		assert.Equal(t, "orders_in", endpoints[0].(map[string]any)["stream"])
		assert.Equal(t, float64(10), endpoints[0].(map[string]any)["records"])
		assert.Equal(t, "totals", endpoints[1].(map[string]any)["stream"])
	})

	t.Run("not running", func(t *testing.T) {
		root, _, _ := newTestRoot(t, testConfig(t), api)

		err := execute(root, "pipeline", "stats", "p2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only served while running or paused")
	})

	t.Run("missing", func(t *testing.T) {
		root, _, _ := newTestRoot(t, testConfig(t), api)

		err := execute(root, "pipeline", "stats", "nope")
		assert.ErrorIs(t, err, pipeline.ErrPipelineNotFound)
	})
}

func TestChangedString(t *testing.T) {
	flags := pflag.NewFlagSet("update", pflag.ContinueOnError)
	flags.String("name", "", "")
	flags.String("description", "", "")
	require.NoError(t, flags.Parse([]string{"--name", ""}))

	got := changedString(flags, "name")
	require.NotNil(t, got)
	assert.Equal(t, "", *got)
	assert.Nil(t, changedString(flags, "description"))
	assert.Nil(t, changedString(flags, "missing"))
}
