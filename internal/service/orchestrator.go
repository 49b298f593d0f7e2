package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/arielsync/internal/models"
	"github.com/raphaelgruber/arielsync/internal/planner"
)

// DefaultWorkers is the size of the orchestrator's worker pool.
const DefaultWorkers = 8

// Store is a per-worker connection to the document store.
type Store interface {
	RecordSink
	// UseDatabase switches the session to the named client database.
	UseDatabase(ctx context.Context, database string) error
	// RecordWindow appends a window outcome to the run ledger.
	RecordWindow(ctx context.Context, outcome models.WindowOutcome) error
	Close(ctx context.Context) error
}

// StoreFactory opens a new Store. Each worker calls it once.
type StoreFactory func(ctx context.Context) (Store, error)

// OrchestratorOptions configures the worker pool and window sizes.
type OrchestratorOptions struct {
	Workers     int
	ShortWindow time.Duration
	LongWindow  time.Duration
}

// RunRequest describes one run over a time range.
type RunRequest struct {
	// RunID tags ledger entries; a random one is generated when empty.
	RunID  string
	From   time.Time
	To     time.Time
	Inputs models.Inputs
	// Processors restricts the run to these processors when non-empty.
	Processors []string
}

// RunSummary aggregates window outcomes of a run.
type RunSummary struct {
	RunID           string
	Windows         int
	Completed       int
	NoRecords       int
	Lost            int
	RecordsInserted int
}

// JobOrchestrator fans processors out over a fixed worker pool. Within a
// worker, clients, queries and windows run strictly one after another.
type JobOrchestrator struct {
	controller *SearchJobController
	pipeline   *IngestPipeline
	openStore  StoreFactory
	events     Events
	opts       OrchestratorOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewJobOrchestrator creates an orchestrator.
func NewJobOrchestrator(controller *SearchJobController, pipeline *IngestPipeline, openStore StoreFactory, events Events, opts OrchestratorOptions, log *slog.Logger) *JobOrchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ShortWindow <= 0 {
		opts.ShortWindow = 15 * time.Minute
	}
	if opts.LongWindow <= 0 {
		opts.LongWindow = time.Hour
	}
	if events == nil {
		events = NopEvents{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &JobOrchestrator{
		controller: controller,
		pipeline:   pipeline,
		openStore:  openStore,
		events:     events,
		opts:       opts,
		logger:     log,
		now:        time.Now,
	}
}

// runCounters is shared by all workers of one run.
type runCounters struct {
	windows   atomic.Int64
	completed atomic.Int64
	noRecords atomic.Int64
	lost      atomic.Int64
	inserted  atomic.Int64
}

func (c *runCounters) add(o models.WindowOutcome) {
	c.windows.Add(1)
	c.inserted.Add(int64(o.RecordsInserted))
	switch o.Status {
	case models.WindowCompleted:
		c.completed.Add(1)
	case models.WindowNoRecords:
		c.noRecords.Add(1)
	default:
		c.lost.Add(1)
	}
}

// Run processes every selected processor. Window failures are logged and
// recorded but never stop the run; failures that end a worker are joined into
// the returned error while the other workers continue.
func (o *JobOrchestrator) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	processors := req.Inputs.Processors
	if len(req.Processors) > 0 {
		processors = slices.DeleteFunc(slices.Clone(processors), func(p string) bool {
			return !slices.Contains(req.Processors, p)
		})
	}

	o.logger.Info("starting run",
		"run_id", req.RunID,
		"from", req.From.Format(models.BoundLayout),
		"to", req.To.Format(models.BoundLayout),
		"processors", len(processors),
		"queries", len(req.Inputs.Templates),
		"workers", o.opts.Workers)

	var (
		counters  runCounters
		errorsMu  sync.Mutex
		workerErr []error
		wg        sync.WaitGroup
	)

	// Buffered so the feed never blocks, even if every worker has died.
	processorChan := make(chan string, len(processors))
	for _, p := range processors {
		processorChan <- p
	}
	close(processorChan)

	workers := min(o.opts.Workers, max(len(processors), 1))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := o.worker(ctx, workerID, req, processorChan, &counters); err != nil {
				o.logger.Error("worker stopped", "worker", workerID, "error", err)
				errorsMu.Lock()
				workerErr = append(workerErr, fmt.Errorf("worker %d: %w", workerID, err))
				errorsMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	summary := RunSummary{
		RunID:           req.RunID,
		Windows:         int(counters.windows.Load()),
		Completed:       int(counters.completed.Load()),
		NoRecords:       int(counters.noRecords.Load()),
		Lost:            int(counters.lost.Load()),
		RecordsInserted: int(counters.inserted.Load()),
	}
	o.logger.Info("run complete",
		"run_id", summary.RunID,
		"windows", summary.Windows,
		"completed", summary.Completed,
		"no_records", summary.NoRecords,
		"lost", summary.Lost,
		"records_inserted", summary.RecordsInserted,
		"worker_errors", len(workerErr))

	if err := ctx.Err(); err != nil {
		return summary, errors.Join(append(workerErr, err)...)
	}
	return summary, errors.Join(workerErr...)
}

// worker owns one store connection for its lifetime. A panic ends the worker
// and is reported as its error.
func (o *JobOrchestrator) worker(ctx context.Context, id int, req RunRequest, processors <-chan string, counters *runCounters) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	store, err := o.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(context.WithoutCancel(ctx)); cerr != nil {
			o.logger.Warn("failed to close store", "worker", id, "error", cerr)
		}
	}()

	for processor := range processors {
		if ctx.Err() != nil {
			return nil
		}
		log := o.logger.With("worker", id, "processor", processor)
		log.Info("processing event processor", "clients", len(req.Inputs.Clients[processor]))
		o.processProcessor(ctx, log, store, req, processor, counters)
	}
	return nil
}

func (o *JobOrchestrator) processProcessor(ctx context.Context, log *slog.Logger, store Store, req RunRequest, processor string, counters *runCounters) {
	for _, client := range req.Inputs.Clients[processor] {
		if ctx.Err() != nil {
			return
		}
		clientStart := o.now()
		clientLog := log.With("client", client)

		database := models.SanitizeClient(client)
		if err := store.UseDatabase(ctx, database); err != nil {
			clientLog.Error("failed to select client database", "database", database, "error", err)
			continue
		}

		for _, tmpl := range req.Inputs.Templates {
			d := planner.Duration(tmpl.Class, o.opts.ShortWindow, o.opts.LongWindow)
			for w := range planner.Plan(req.From, req.To, d) {
				if ctx.Err() != nil {
					return
				}
				task := models.NewQueryTask(processor, client, tmpl, w)
				outcome := o.processWindow(ctx, clientLog, store, req.RunID, task)
				counters.add(outcome)
			}
		}
		clientLog.Info("completed client", "duration", o.now().Sub(clientStart).Round(time.Second))
	}
}

// processWindow runs one window end to end. It never returns an error: the
// outcome carries it instead.
func (o *JobOrchestrator) processWindow(ctx context.Context, log *slog.Logger, store Store, runID string, task models.QueryTask) models.WindowOutcome {
	start := o.now()
	out := models.WindowOutcome{
		RunID:          runID,
		EventProcessor: task.EventProcessor,
		Client:         task.Client,
		Query:          task.QueryName,
		WindowStart:    task.Window.Start,
		WindowStop:     task.Window.Stop,
	}

	job, err := o.controller.Run(ctx, task)
	if job != nil {
		out.CursorID = job.CursorID
		out.RecordsFound = job.RecordCount
		out.Triggers = job.Trigger + 1
	}
	if err == nil {
		if job.RecordCount == 0 {
			out.Status = models.WindowNoRecords
		} else {
			var res ConsumeResult
			res, err = o.pipeline.Ingest(ctx, task, job, store)
			out.RecordsInserted = res.Inserted
			out.Status = models.WindowCompleted
		}
	}
	if err != nil {
		out.Status = models.WindowLost
		out.Error = err.Error()
	}

	finished := o.now()
	out.DurationMs = finished.Sub(start).Milliseconds()
	out.FinishedAt = finished.UTC()
	o.events.WindowFinished(out)

	if lerr := store.RecordWindow(context.WithoutCancel(ctx), out); lerr != nil {
		log.Warn("failed to record window outcome", "query", task.QueryName, "window", task.Window.String(), "error", lerr)
	}
	return out
}
