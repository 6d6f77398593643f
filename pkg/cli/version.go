package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:   cliVersion,
		BuildDate: cliBuildDate,
		GitCommit: cliGitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func NewVersionCommand(root *RootCommand) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version, build date, and git commit of pcon.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(root.OutputOptions(), short)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}

func printVersion(opts *OutputOptions, short bool) error {
	info := currentVersion()

	switch {
	case short:
		fmt.Fprintln(opts.Writer, info.Version)
	case opts.Format == OutputJSON || opts.Format == OutputYAML:
		return PrintOutput(info, opts)
	default:
		fmt.Fprintf(opts.Writer, "pcon version %s\n", info.Version)
		fmt.Fprintf(opts.Writer, "  Commit: %s\n", info.GitCommit)
		fmt.Fprintf(opts.Writer, "  Built:  %s\n", info.BuildDate)
		fmt.Fprintf(opts.Writer, "  Go:     %s %s\n", info.GoVersion, info.Platform)
	}
	return nil
}
