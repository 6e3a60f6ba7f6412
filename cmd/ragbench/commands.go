package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "github.com/fyrsmithlabs/ragbench/internal/http"
	"github.com/fyrsmithlabs/ragbench/internal/regression"
	"github.com/fyrsmithlabs/ragbench/internal/report"
	"github.com/fyrsmithlabs/ragbench/internal/watch"
)

// ExitRegression is returned by `ragbench regression` when the guard trips.
const ExitRegression = 2

func newRunCmd() *cobra.Command {
	var (
		docs       string
		retrievers []string
		notes      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark every configured strategy and record the runs",
		Long: `Chunk the document folder, build the benchmark queries, evaluate each
retrieval strategy and append one run per strategy to the run store.

Examples:
  ragbench run
  ragbench run --docs ./handbook --retriever TFIDF`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if docs != "" {
					a.cfg.Docs.Dir = docs
				}
				if len(retrievers) > 0 {
					a.cfg.Evaluation.Retrievers = retrievers
				}
				if notes != "" {
					a.cfg.Evaluation.Notes = notes
				}

				runner, err := a.newRunner()
				if err != nil {
					return err
				}
				out, err := runner.Run(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d documents, %d chunks, %d queries\n", out.Documents, out.Chunks, out.Queries)
				fmt.Fprint(cmd.OutOrStdout(), report.RenderLeaderboard(report.Rows(out.Runs)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&docs, "docs", "", "document folder (overrides docs.dir)")
	cmd.Flags().StringSliceVar(&retrievers, "retriever", nil, "strategies to run (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes recorded with each run")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				rows, err := report.Leaderboard(cmd.Context(), a.store, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				fmt.Fprint(cmd.OutOrStdout(), report.RenderLeaderboard(rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", report.DefaultLeaderboardLimit, "maximum runs to list")
	return cmd
}

func newRegressionCmd() *cobra.Command {
	var (
		metric     string
		retriever  string
		tolerance  float64
		minHistory int
	)
	cmd := &cobra.Command{
		Use:   "regression",
		Short: "Check the latest run against the best comparable run",
		Long: `Compare the newest run of one strategy against the best earlier run with
the same benchmark signature. Exits with status 2 when the metric dropped
by more than the tolerance, so CI can gate on it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				opts := a.cfg.Regression
				if cmd.Flags().Changed("metric") {
					opts.Metric = metric
				}
				if cmd.Flags().Changed("retriever") {
					opts.Retriever = retriever
				}
				if cmd.Flags().Changed("tolerance") {
					opts.Tolerance = tolerance
				}
				if cmd.Flags().Changed("min-history") {
					opts.MinHistory = minHistory
				}

				res, err := regression.NewDetector(a.store, opts).Detect(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), report.RenderRegression(res))
				}

				if res.Status == regression.StatusRegression {
					a.logger.Warn(cmd.Context(), "regression detected",
						zap.String("metric", res.Metric),
						zap.String("retriever", res.Retriever),
						zap.Float64("delta", res.Delta()))
					return &exitCodeError{code: ExitRegression, msg: "regression detected"}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&metric, "metric", regression.DefaultMetric, "metric to guard")
	cmd.Flags().StringVar(&retriever, "retriever", regression.DefaultRetriever, "strategy to guard")
	cmd.Flags().Float64Var(&tolerance, "tolerance", regression.DefaultTolerance, "allowed drop below the best run")
	cmd.Flags().IntVar(&minHistory, "min-history", regression.DefaultMinHistory, "comparable runs required")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var (
		metric string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Show one metric over time for every strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				series, err := report.CompareSeries(cmd.Context(), a.store, metric, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), apihttp.CompareResponse{Metric: metric, Series: series})
				}
				fmt.Fprint(cmd.OutOrStdout(), report.RenderCompare(metric, series))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&metric, "metric", regression.DefaultMetric, "metric to compare")
	cmd.Flags().IntVar(&limit, "limit", report.DefaultCompareLimit, "number of recent runs to read")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var (
		index     int
		k         int
		retriever string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Explain how one benchmark query was ranked",
		Long: `Rank a single benchmark query (selected by index) and show the retrieved
chunks, which of them are relevant, and why a miss happened.

Examples:
  ragbench analyze --q 3 --retriever TFIDF`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				runner, err := a.newRunner()
				if err != nil {
					return err
				}
				rep, err := runner.Analyze(cmd.Context(), retriever, index, k)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "query %d of %d\n", rep.Index+1, len(rep.Queries))
				fmt.Fprint(cmd.OutOrStdout(), report.RenderAnalysis(rep.Retriever, rep.Analysis))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&index, "q", 0, "benchmark query index")
	cmd.Flags().IntVar(&k, "k", 0, "ranking depth (default evaluation.k_rank)")
	cmd.Flags().StringVar(&retriever, "retriever", "BM25", "strategy to analyze")
	return cmd
}

func newSignaturesCmd() *cobra.Command {
	var (
		retriever string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "signatures",
		Short: "List recent benchmark signatures of one strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				rows, err := report.Signatures(cmd.Context(), a.store, retriever, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), apihttp.SignaturesResponse{Retriever: retriever, Signatures: rows})
				}
				fmt.Fprint(cmd.OutOrStdout(), report.RenderSignatures(retriever, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&retriever, "retriever", regression.DefaultRetriever, "strategy to list")
	cmd.Flags().IntVar(&limit, "limit", report.DefaultSignatureLimit, "maximum signatures to list")
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if cmd.Flags().Changed("host") {
					a.cfg.Server.Host = host
				}
				if cmd.Flags().Changed("port") {
					a.cfg.Server.Port = port
				}
				runner, err := a.newRunner()
				if err != nil {
					return err
				}
				srv, err := apihttp.NewServer(a.store, runner, a.logger, &apihttp.Config{
					Host:       a.cfg.Server.Host,
					Port:       a.cfg.Server.Port,
					Regression: a.cfg.Regression,
					Meter:      a.tel.Meter("github.com/fyrsmithlabs/ragbench/internal/http"),
				})
				if err != nil {
					return err
				}
				return serve(cmd.Context(), srv, a.cfg.Server.ShutdownTimeout.Duration())
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port (overrides server.port)")
	return cmd
}

// serve blocks until ctx is cancelled, then shuts the server down.
func serve(ctx context.Context, srv *apihttp.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the benchmark whenever the document folder changes",
		Long: `Run the benchmark once, then watch the document folder and run it again
after each burst of changes to .txt or .md files. The regression guard is
checked after every run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				runner, err := a.newRunner()
				if err != nil {
					return err
				}
				detector := regression.NewDetector(a.store, a.cfg.Regression)

				runOnce := func(ctx context.Context) error {
					out, err := runner.Run(ctx)
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), report.RenderLeaderboard(report.Rows(out.Runs)))
					res, err := detector.Detect(ctx)
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), report.RenderRegression(res))
					return nil
				}

				if err := runOnce(cmd.Context()); err != nil {
					a.logger.Error(cmd.Context(), "initial run failed", zap.Error(err))
				}

				w, err := watch.New(a.cfg.Docs.Dir, debounce, runOnce, a.logger)
				if err != nil {
					return err
				}
				return w.Run(cmd.Context())
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before re-running")
	return cmd
}
