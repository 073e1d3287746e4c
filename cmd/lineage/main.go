// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lineage analyzes COBOL sources: call graph, data lineage,
// where-used, business rules, control flow and change impact.
//
// Exit codes:
//
//	0 - success
//	1 - `impact` risk exceeds the threshold
//	2 - any error
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess   = 0
	ExitRiskFound = 1
	ExitError     = 2
)

// exitError carries a non-default exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	configPath string
	logLevel   string
	jsonOutput bool
	noCache    bool
)

var rootCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Static analysis for COBOL, copybooks and JCL",
	Long: `Static analysis for COBOL programs, copybooks and JCL.

lineage parses a batch of sources and derives the call graph, field level
data lineage, a where-used index, business rule candidates and per program
control flow graphs. The results are merged into an analysis graph that
answers change impact queries.

Configuration is read from lineage.yaml in the working directory, or from
the file named by --config.

Examples:
  lineage analyze src/
  lineage impact --kind copybook --id CUSTREC src/
  git diff | lineage impact --diff - src/
  lineage where-used --kind field --name CUST-ID src/
  lineage watch src/`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ./lineage.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides the config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false,
		"Disable the parse cache even when the config enables it")
}

func main() {
	os.Exit(execute())
}

// execute runs the root command and maps its error to an exit code.
func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return ExitError
}
