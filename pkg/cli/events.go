package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jguan/pipeline-console/pkg/infra/eventbus"
)

type eventTable []eventbus.StoredEvent

func (t eventTable) Header() []string {
	return []string{"TIME", "TYPE", "PIPELINE", "CORRELATION", "PAYLOAD"}
}

func (t eventTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			e.At.Local().Format(time.DateTime),
			e.EventType,
			e.Pipeline,
			shortID(e.Correlation),
			string(e.Data),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func NewEventsCommand(root *RootCommand) *cobra.Command {
	var filter eventbus.EventQueryFilter
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded pipeline events",
		Long: `Show the action and status history recorded by earlier commands.

History is kept in the database configured under [history].`,
		Example: `  pcon events --pipeline 0b5e --limit 20
  pcon events --type pipeline.action_failed --since 1h
  pcon events --correlation 5f7c9a1e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				filter.StartTime = time.Now().Add(-since)
			}
			return runEvents(cmd.Context(), root, filter)
		},
	}

	cmd.Flags().StringVarP(&filter.PipelineID, "pipeline", "p", "", "Only events of this pipeline")
	cmd.Flags().StringVarP(&filter.Type, "type", "t", "", "Only events of this type")
	cmd.Flags().StringVar(&filter.CorrelationID, "correlation", "", "Only events of one action")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum number of events")

	return cmd
}

func runEvents(ctx context.Context, root *RootCommand, filter eventbus.EventQueryFilter) error {
	app, err := root.App()
	if err != nil {
		return err
	}
	if app.History == nil {
		return fmt.Errorf("event history is disabled (history.enabled = false)")
	}

	events, err := app.History.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	return PrintOutput(eventTable(events), root.OutputOptions())
}
