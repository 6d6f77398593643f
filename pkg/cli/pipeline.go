package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/unit/pipeline"
)

func NewPipelineCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"pipelines", "pl"},
		Short:   "Pipeline lifecycle commands",
		Long: `Inspect pipelines and drive their lifecycle.

Actions are applied optimistically: the local status changes as soon as the
request is sent and is rolled back if the manager rejects it.`,
	}

	cmd.AddCommand(NewPipelineListCommand(root))
	cmd.AddCommand(NewPipelineStatusCommand(root))
	cmd.AddCommand(NewPipelineDescribeCommand(root))
	for _, kind := range pipeline.ActionKinds() {
		cmd.AddCommand(NewPipelineActionCommand(root, kind))
	}
	cmd.AddCommand(NewPipelineUpdateCommand(root))
	cmd.AddCommand(NewPipelineStatsCommand(root))

	return cmd
}

// pipelineRow is one line of the pipeline list.
type pipelineRow struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Status       pipeline.ClientStatus `json:"status"`
	Label        string                `json:"label"`
	Current      pipeline.ServerStatus `json:"current_status"`
	Desired      pipeline.ServerStatus `json:"desired_status"`
	ProgramReady bool                  `json:"program_ready"`
	Actions      []pipeline.UIAction   `json:"actions"`
	Error        string                `json:"error,omitempty"`
}

type pipelineTable []pipelineRow

func (t pipelineTable) Header() []string {
	return []string{"ID", "NAME", "STATUS", "SERVER", "ACTIONS"}
}

func (t pipelineTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		server := r.Current.String()
		if r.Current != r.Desired {
			server += " -> " + r.Desired.String()
		}
		rows = append(rows, []string{r.ID, r.Name, r.Label, server, joinActions(r.Actions)})
	}
	return rows
}

func joinActions(actions []pipeline.UIAction) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ",")
}

// buildRows joins the snapshot with the store. Program readiness failures
// are logged and treated as not ready.
func buildRows(ctx context.Context, app *App, snap pipeline.Snapshot) pipelineTable {
	rows := make(pipelineTable, 0, len(snap.Pipelines))
	for _, p := range snap.Pipelines {
		id := p.Descriptor.PipelineID
		ready, err := app.Queries.ProgramReady(ctx, p)
		if err != nil {
			logger.Debug("program status unavailable", "pipeline_id", id, "error", err)
		}
		status := app.Store.Get(id)
		row := pipelineRow{
			ID:           id,
			Name:         p.Descriptor.Name,
			Status:       status,
			Label:        pipeline.StatusChip(status, ready).Label,
			Current:      p.State.CurrentStatus,
			Desired:      p.State.DesiredStatus,
			ProgramReady: ready,
			Actions:      pipeline.AvailableActions(status, ready),
		}
		if p.State.Error != nil {
			row.Error = p.State.Error.Message
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func NewPipelineListCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pipelines",
		Example: `  pcon pipeline list
  pcon pipeline list -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineList(cmd.Context(), root)
		},
	}
	return cmd
}

func runPipelineList(ctx context.Context, root *RootCommand) error {
	app, err := root.App()
	if err != nil {
		return err
	}

	snap, err := app.Reconciler.Poll(ctx)
	if err != nil {
		return fmt.Errorf("list pipelines: %s", pipeline.ErrorMessage(err))
	}

	return PrintOutput(buildRows(ctx, app, snap), root.OutputOptions())
}

type pipelineStatusView struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Version     int64                 `json:"version"`
	Status      pipeline.ClientStatus `json:"status"`
	Current     pipeline.ServerStatus `json:"current_status"`
	Desired     pipeline.ServerStatus `json:"desired_status"`
	Location    string                `json:"location,omitempty"`
	Since       *time.Time            `json:"status_since,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func NewPipelineStatusCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "status <pipeline-id>",
		Short: "Show the status of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineStatus(cmd.Context(), root, args[0])
		},
	}
}

func runPipelineStatus(ctx context.Context, root *RootCommand, id string) error {
	app, err := root.App()
	if err != nil {
		return err
	}

	if _, err := app.Reconciler.Poll(ctx); err != nil {
		return fmt.Errorf("list pipelines: %s", pipeline.ErrorMessage(err))
	}
	rec, err := app.Queries.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline status: %s", pipeline.ErrorMessage(err))
	}

	view := pipelineStatusView{
		ID:          rec.Descriptor.PipelineID,
		Name:        rec.Descriptor.Name,
		Description: rec.Descriptor.Description,
		Version:     rec.Descriptor.Version,
		Status:      app.Store.Get(id),
		Current:     rec.State.CurrentStatus,
		Desired:     rec.State.DesiredStatus,
		Location:    rec.State.Location,
		Since:       rec.State.StatusSince,
	}
	if rec.State.Error != nil {
		view.Error = rec.State.Error.Message
	}
	return PrintOutput(view, root.OutputOptions())
}

type connectorRow struct {
	Direction  pipeline.Direction `json:"direction"`
	Relation   string             `json:"relation"`
	Connectors []string           `json:"connectors"`
}

type pipelineDescription struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Revision string         `json:"revision,omitempty"`
	Program  string         `json:"program,omitempty"`
	Config   string         `json:"config"`
	Inputs   []connectorRow `json:"inputs"`
	Outputs  []connectorRow `json:"outputs"`
}

func (d pipelineDescription) Header() []string {
	return []string{"DIRECTION", "RELATION", "CONNECTORS"}
}

func (d pipelineDescription) Rows() [][]string {
	rows := make([][]string, 0, len(d.Inputs)+len(d.Outputs))
	for _, group := range [][]connectorRow{d.Inputs, d.Outputs} {
		for _, c := range group {
			rows = append(rows, []string{string(c.Direction), c.Relation, strings.Join(c.Connectors, ",")})
		}
	}
	return rows
}

func NewPipelineDescribeCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <pipeline-id>",
		Short: "Show the deployed revision of a pipeline and its connectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineDescribe(cmd.Context(), root, args[0])
		},
	}
}

func runPipelineDescribe(ctx context.Context, root *RootCommand, id string) error {
	app, err := root.App()
	if err != nil {
		return err
	}

	rec, err := app.Queries.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline status: %s", pipeline.ErrorMessage(err))
	}
	cfg, err := app.Queries.Config(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline config: %s", pipeline.ErrorMessage(err))
	}
	rev, err := app.Queries.LastRevision(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline revision: %s", pipeline.ErrorMessage(err))
	}

	desc := pipelineDescription{
		ID:     id,
		Name:   rec.Descriptor.Name,
		Config: cfg,
	}
	if rev != nil {
		desc.Revision = rev.Revision
		desc.Program = rev.Program.Name
	}
	if desc.Inputs, err = connectorRows(rev, pipeline.DirectionInput); err != nil {
		return err
	}
	if desc.Outputs, err = connectorRows(rev, pipeline.DirectionOutput); err != nil {
		return err
	}

	opts := root.OutputOptions()
	if opts.Format == OutputTable && !opts.Quiet {
		fmt.Fprintf(opts.Writer, "%s (%s)\n", desc.Name, desc.ID)
		if desc.Revision != "" {
			fmt.Fprintf(opts.Writer, "revision: %s  program: %s\n", desc.Revision, desc.Program)
		}
		fmt.Fprintln(opts.Writer)
	}
	return PrintOutput(desc, opts)
}

func connectorRows(rev *manager.PipelineRevision, dir pipeline.Direction) ([]connectorRow, error) {
	data, err := pipeline.JoinConnectors(rev, dir)
	if err != nil {
		return nil, fmt.Errorf("%s connectors: %w", dir, err)
	}
	rows := make([]connectorRow, 0, len(data))
	for _, d := range data {
		rows = append(rows, connectorRow{Direction: dir, Relation: d.Relation.Name, Connectors: d.ConnectorNames()})
	}
	return rows, nil
}

// awaitTargets are the statuses that end --wait for each action.
var awaitTargets = map[pipeline.ActionKind]pipeline.ClientStatus{
	pipeline.ActionStart:    pipeline.StatusRunning,
	pipeline.ActionPause:    pipeline.StatusPaused,
	pipeline.ActionShutdown: pipeline.StatusInactive,
}

var actionShort = map[pipeline.ActionKind]string{
	pipeline.ActionStart:    "Start or resume a pipeline",
	pipeline.ActionPause:    "Pause a running pipeline",
	pipeline.ActionShutdown: "Shut a pipeline down",
	pipeline.ActionDelete:   "Delete a pipeline",
}

func NewPipelineActionCommand(root *RootCommand, kind pipeline.ActionKind) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   string(kind) + " <pipeline-id>",
		Short: actionShort[kind],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineAction(cmd.Context(), root, kind, args[0], wait, timeout)
		},
	}

	if _, ok := awaitTargets[kind]; ok {
		cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the manager reports the target status")
		cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Maximum time to wait")
	}

	return cmd
}

func runPipelineAction(ctx context.Context, root *RootCommand, kind pipeline.ActionKind, id string, wait bool, timeout time.Duration) error {
	app, err := root.App()
	if err != nil {
		return err
	}
	opts := root.OutputOptions()

	// seed the store so the guard sees the current status
	if _, err := app.Reconciler.Poll(ctx); err != nil {
		return fmt.Errorf("list pipelines: %s", pipeline.ErrorMessage(err))
	}

	fired, err := app.Actions.Trigger(ctx, kind, id)
	if !fired {
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot %s pipeline %s while it is %s",
			pipeline.ErrNotApplicable, kind, id, app.Store.Get(id))
	}
	if err != nil {
		return fmt.Errorf("%s pipeline %s: %s", kind, id, pipeline.ErrorMessage(err))
	}

	if kind == pipeline.ActionDelete {
		PrintSuccess(fmt.Sprintf("Pipeline %s deleted", id), opts)
		return nil
	}

	if !wait {
		PrintSuccess(fmt.Sprintf("Pipeline %s: %s requested (%s)", id, kind, app.Store.Get(id)), opts)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	got, err := app.Reconciler.Await(waitCtx, id, awaitTargets[kind])
	if err != nil {
		return fmt.Errorf("%s pipeline %s: %s", kind, id, pipeline.ErrorMessage(err))
	}
	PrintSuccess(fmt.Sprintf("Pipeline %s is %s", id, got), opts)
	return nil
}

func NewPipelineUpdateCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <pipeline-id>",
		Short: "Rename a pipeline or change its description",
		Example: `  pcon pipeline update 0b5e --name orders
  pcon pipeline update 0b5e --description "nightly rollup"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edit := pipeline.DescriptorEdit{
				Name:        changedString(cmd.Flags(), "name"),
				Description: changedString(cmd.Flags(), "description"),
			}
			return runPipelineUpdate(cmd.Context(), root, args[0], edit)
		},
	}

	cmd.Flags().String("name", "", "New pipeline name")
	cmd.Flags().String("description", "", "New pipeline description")

	return cmd
}

// changedString returns the flag value only when it was set on the command
// line, so an explicit empty string still reaches validation.
func changedString(flags *pflag.FlagSet, name string) *string {
	if !flags.Changed(name) {
		return nil
	}
	v, err := flags.GetString(name)
	if err != nil {
		return nil
	}
	return &v
}

func runPipelineUpdate(ctx context.Context, root *RootCommand, id string, edit pipeline.DescriptorEdit) error {
	if edit.Name == nil && edit.Description == nil {
		return fmt.Errorf("nothing to update: set --name or --description")
	}

	app, err := root.App()
	if err != nil {
		return err
	}

	version, err := app.Editor.Update(ctx, id, edit)
	if err != nil {
		return fmt.Errorf("update pipeline %s: %s", id, pipeline.ErrorMessage(err))
	}

	PrintSuccess(fmt.Sprintf("Pipeline %s updated (version %d)", id, version), root.OutputOptions())
	return nil
}

type endpointRow struct {
	Direction string `json:"direction"`
	Stream    string `json:"stream"`
	Records   uint64 `json:"records"`
	Bytes     uint64 `json:"bytes"`
	Buffered  uint64 `json:"buffered"`
	Errors    uint64 `json:"errors"`
}

type pipelineStatsView struct {
	ID         string                `json:"id"`
	Global     manager.GlobalMetrics `json:"global"`
	Throughput float64               `json:"throughput"`
	Endpoints  []endpointRow         `json:"endpoints"`
	SampledAt  time.Time             `json:"sampled_at"`
}

func (v pipelineStatsView) Header() []string {
	return []string{"DIRECTION", "STREAM", "RECORDS", "BYTES", "BUFFERED", "ERRORS"}
}

func (v pipelineStatsView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Endpoints))
	for _, e := range v.Endpoints {
		rows = append(rows, []string{
			e.Direction, e.Stream,
			fmt.Sprint(e.Records), fmt.Sprint(e.Bytes), fmt.Sprint(e.Buffered), fmt.Sprint(e.Errors),
		})
	}
	return rows
}

func newStatsView(id string, m pipeline.PipelineMetrics) pipelineStatsView {
	v := pipelineStatsView{ID: id, Global: m.Global, Throughput: m.Throughput, SampledAt: m.SampledAt}
	for _, stream := range sortedKeys(m.Input) {
		in := m.Input[stream]
		v.Endpoints = append(v.Endpoints, endpointRow{
			Direction: string(pipeline.DirectionInput), Stream: stream,
			Records: in.TotalRecords, Bytes: in.TotalBytes, Buffered: in.BufferedRecs, Errors: in.NumParseErrors,
		})
	}
	for _, stream := range sortedKeys(m.Output) {
		out := m.Output[stream]
		v.Endpoints = append(v.Endpoints, endpointRow{
			Direction: string(pipeline.DirectionOutput), Stream: stream,
			Records: out.TransmittedRecords, Bytes: out.TransmittedBytes, Buffered: out.BufferedRecords, Errors: out.NumEncodeErrors,
		})
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func NewPipelineStatsCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <pipeline-id>",
		Short: "Show the runtime metrics of a running or paused pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineStats(cmd.Context(), root, args[0])
		},
	}
}

func runPipelineStats(ctx context.Context, root *RootCommand, id string) error {
	app, err := root.App()
	if err != nil {
		return err
	}

	snap, err := app.Reconciler.Poll(ctx)
	if err != nil {
		return fmt.Errorf("list pipelines: %s", pipeline.ErrorMessage(err))
	}
	rec, found := snap.Find(id)
	if !found {
		return fmt.Errorf("%w: %s", pipeline.ErrPipelineNotFound, id)
	}

	poller := app.NewMetricsPoller(id)
	sampled, err := poller.Sample(ctx)
	if err != nil {
		return fmt.Errorf("pipeline stats: %s", pipeline.ErrorMessage(err))
	}
	if !sampled {
		return fmt.Errorf("pipeline %s is %s; stats are only served while running or paused", id, rec.State.CurrentStatus)
	}

	m, _ := poller.Latest()
	view := newStatsView(id, m)

	opts := root.OutputOptions()
	if opts.Format == OutputTable && !opts.Quiet {
		fmt.Fprintf(opts.Writer, "processed: %d  input: %d  buffered: %d  rss: %d bytes\n\n",
			m.Global.TotalProcessedRecords, m.Global.TotalInputRecords, m.Global.BufferedInputRecords, m.Global.RSSBytes)
	}
	return PrintOutput(view, opts)
}
