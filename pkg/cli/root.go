package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jguan/pipeline-console/pkg/config"
	"github.com/jguan/pipeline-console/pkg/infra/logger"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	app       *App
	appOpts   []AppOption
	opts      *OutputOptions
	formatStr string
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts: NewOutputOptions(),
	}

	cmd := &cobra.Command{
		Use:   "pcon",
		Short: "pcon - pipeline manager console",
		Long: `pcon is a terminal console for a streaming pipeline manager.

It lists pipelines, runs lifecycle actions (start, pause, shutdown,
delete) with immediate local feedback, and reconciles that local view
with the status the manager reports.`,
		PersistentPreRunE:  root.persistentPreRunE,
		PersistentPostRunE: root.persistentPostRunE,
		SilenceUsage:       true,
		SilenceErrors:      true,
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (default: built-in defaults)")
	pflags.String("api-url", "", "Pipeline manager URL (overrides api.base_url)")
	pflags.String("log-level", "", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("output", pflags.Lookup("output"))
	_ = viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	_ = viper.BindPFlag("config", pflags.Lookup("config"))
	_ = viper.BindPFlag("api_url", pflags.Lookup("api-url"))
	_ = viper.BindPFlag("log_level", pflags.Lookup("log-level"))

	root.cmd = cmd

	root.addSubCommands()

	return root
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	if r.cfg == nil {
		cfg, err := r.loadConfig()
		if err != nil {
			return err
		}
		r.cfg = cfg
	}

	if err := logger.Init(logger.Config{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
		File:   r.cfg.Logging.File,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	return nil
}

func (r *RootCommand) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := viper.GetString("api_url"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (r *RootCommand) persistentPostRunE(cmd *cobra.Command, args []string) error {
	return r.closeApp()
}

// closeApp is safe to call more than once. Cobra skips post-run hooks when
// a command fails, so Execute calls it as well.
func (r *RootCommand) closeApp() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewPipelineCommand(r))
	r.cmd.AddCommand(NewWatchCommand(r))
	r.cmd.AddCommand(NewEventsCommand(r))
	r.cmd.AddCommand(NewMetricsServeCommand(r))
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

// App returns the wired components, building them on first use so
// commands like version never touch the manager or the history database.
func (r *RootCommand) App() (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	if r.cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	app, err := NewApp(r.cfg, r.appOpts...)
	if err != nil {
		return nil, err
	}
	r.app = app
	return app, nil
}

func (r *RootCommand) Config() *config.Config {
	return r.cfg
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w io.Writer) {
	r.opts.Writer = w
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

func Execute() {
	root := NewRootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if cerr := root.closeApp(); cerr != nil {
		logger.Warn("close console", "error", cerr)
	}
	if err != nil {
		PrintError(err, root.OutputOptions())
		stop()
		os.Exit(1)
	}
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func GetVersion() string {
	return cliVersion
}

func GetBuildDate() string {
	return cliBuildDate
}

func GetGitCommit() string {
	return cliGitCommit
}
