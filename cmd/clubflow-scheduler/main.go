// Package main provides the Clubflow scheduler binary: the tick loop that
// fires due time-based workflows, resumes suspended executions and advances
// drip sequence enrollments, plus operator utilities for validating stored
// workflows and injecting events by hand.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "clubflow-scheduler",
		Usage:                 "Run and operate the automation tick loop",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewValidateCommand(),
			NewFireCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
