package main

import (
	"github.com/jguan/pipeline-console/pkg/cli"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	cli.SetVersion(version, buildDate, gitCommit)
	cli.Execute()
}
