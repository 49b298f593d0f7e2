package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/arielsync/internal/ariel"
	"github.com/raphaelgruber/arielsync/internal/config"
	"github.com/raphaelgruber/arielsync/internal/db"
	"github.com/raphaelgruber/arielsync/internal/metrics"
	"github.com/raphaelgruber/arielsync/internal/server"
	"github.com/raphaelgruber/arielsync/internal/service"
)

var (
	runFrom        string
	runTo          string
	runProcessors  []string
	runMetricsAddr string
	runID          string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run Ariel searches over a time range and store the results",
	Long: `Run every query template for every event processor and client over the
given time range, split into windows, and store the returned events in
SurrealDB. Windows that cannot be retrieved are logged and recorded as lost;
the run continues with the next window.

Without --from/--to the previous day is processed.

Examples:
  arielsync run
  arielsync run --from "2024-03-01 00:00:00" --to "2024-03-02 00:00:00"
  arielsync run --processor 104 --processor 105
  arielsync run --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "range start (default: midnight yesterday)")
	runCmd.Flags().StringVar(&runTo, "to", "", "range end (default: midnight today)")
	runCmd.Flags().StringSliceVarP(&runProcessors, "processor", "p", nil, "only run these event processors")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides ARIELSYNC_METRICS_ADDR)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id recorded in the ledger (default: random)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	from, to, err := resolveRange(runFrom, runTo, loc, time.Now())
	if err != nil {
		return err
	}

	inputs, err := config.LoadInputs(cfg.EPClientsFile, cfg.QueriesFile, cfg.ShortQueries)
	if err != nil {
		return fmt.Errorf("load inputs: %w", err)
	}
	for _, p := range runProcessors {
		if !slices.Contains(inputs.Processors, p) {
			return fmt.Errorf("unknown event processor: %s", p)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := ariel.NewClient(cfg.Ariel(), logger)
	if err != nil {
		return fmt.Errorf("create ariel client: %w", err)
	}

	mc := metrics.NewCollector()
	events := service.MultiEvents{
		service.NewLogEvents(logger),
		service.MetricsEvents{Collector: mc},
	}

	controller := service.NewSearchJobController(api, cfg.Controller(), events, mc)
	producer := service.NewResultStreamProducer(api, cfg.Delimiter, cfg.QueueTimeout, events, mc)
	consumer := service.NewResultBatchConsumer(cfg.QueueTimeout, cfg.BatchSize, service.NewEnricher(loc), events, mc)
	pipeline := service.NewIngestPipeline(producer, consumer, cfg.QueueCapacity)

	openStore := func(ctx context.Context) (service.Store, error) {
		client, err := db.NewClient(ctx, cfg.DB(), logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	orchestrator := service.NewJobOrchestrator(controller, pipeline, openStore, events, service.OrchestratorOptions{
		Workers:     cfg.Workers,
		ShortWindow: cfg.ShortWindow,
		LongWindow:  cfg.LongWindow,
	}, logger)

	metricsAddr := runMetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvDone := make(chan struct{})
		go func() {
			defer close(srvDone)
			if err := server.New(metricsAddr, mc.Handler(), logger).Run(srvCtx); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			stopServer()
			<-srvDone
		}()
	}

	summary, runErr := orchestrator.Run(ctx, service.RunRequest{
		RunID:      runID,
		From:       from,
		To:         to,
		Inputs:     inputs,
		Processors: runProcessors,
	})

	snap := mc.Snapshot()
	logger.Info("run metrics",
		"uptime_seconds", snap.UptimeSeconds,
		"windows", snap.Windows,
		"records_inserted", snap.RecordsInserted)

	printSummary(cmd.OutOrStdout(), summary, snap)
	return runErr
}

// printSummary displays the run outcome and operation timings.
func printSummary(w io.Writer, s service.RunSummary, snap metrics.Snapshot) {
	t := themeFor(w)

	fmt.Fprintln(w, t.header("Run "+s.RunID))
	fmt.Fprintf(w, "  Windows:           %d\n", s.Windows)
	fmt.Fprintf(w, "  Completed:         %d\n", s.Completed)
	fmt.Fprintf(w, "  No records:        %d\n", s.NoRecords)
	fmt.Fprintf(w, "  Lost:              %d\n", s.Lost)
	fmt.Fprintf(w, "  Records inserted:  %d\n", s.RecordsInserted)

	ops := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"Trigger", snap.Trigger},
		{"Poll", snap.Poll},
		{"Stream", snap.Stream},
		{"Insert", snap.Insert},
	}
	printed := false
	for _, o := range ops {
		if o.op == nil {
			continue
		}
		if !printed {
			fmt.Fprintln(w)
			fmt.Fprintln(w, t.header("Timings"))
			printed = true
		}
		fmt.Fprintf(w, "  %-8s count=%-6d avg=%.0fms min=%dms max=%dms\n",
			o.name, o.op.Count, o.op.AvgTimeMs, o.op.MinTimeMs, o.op.MaxTimeMs)
	}

	if s.Lost > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, t.hint(fmt.Sprintf("Lost windows are listed by: arielsync runs --client <name> --run %s --status lost", s.RunID)))
	}
}
