// Package main implements the ragbench CLI: run retrieval benchmarks,
// inspect run history and guard against quality regressions.
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

var (
	// version information, set at build time
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// configPath overrides the default ragbench.yaml lookup
	configPath string
	// jsonOutput prints machine-readable output instead of styled text
	jsonOutput bool
)

// exitCodeError carries a process exit code through cobra.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(execute(ctx, newRootCmd(), os.Args[1:]))
}

// execute runs the command tree and maps errors to exit codes.
func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragbench",
		Short: "Retrieval benchmark and regression guard",
		Long: `ragbench evaluates lexical retrieval strategies (BM25, TF-IDF) against a
folder of internal documents, records every run, and flags when a tracked
quality metric drops below the best comparable run.

Examples:
  # Benchmark every strategy against ./data/docs
  ragbench run

  # Fail CI when TFIDF MRR@10 regresses
  ragbench regression --retriever TFIDF --metric MRR@10`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./ragbench.yaml when present)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of styled text")

	root.AddCommand(
		newRunCmd(),
		newRunsCmd(),
		newRegressionCmd(),
		newCompareCmd(),
		newAnalyzeCmd(),
		newSignaturesCmd(),
		newServeCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragbench %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
