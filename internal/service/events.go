package service

import (
	"log/slog"

	"github.com/raphaelgruber/arielsync/internal/backoff"
	"github.com/raphaelgruber/arielsync/internal/metrics"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// Events receives lifecycle notifications from the search pipeline.
// Implementations must be safe for concurrent use by several workers.
type Events interface {
	SearchTriggered(task models.QueryTask, job *models.SearchJob)
	TriggerFailed(task models.QueryTask, d backoff.Decision, err error)
	SearchPolled(task models.QueryTask, job *models.SearchJob)
	PollFailed(task models.QueryTask, job *models.SearchJob, d backoff.Decision, err error)
	SearchAbnormal(task models.QueryTask, job *models.SearchJob)
	SearchCompleted(task models.QueryTask, job *models.SearchJob)
	AttemptsExhausted(task models.QueryTask, job *models.SearchJob)
	StreamStarted(task models.QueryTask, job *models.SearchJob)
	BatchPersisted(task models.QueryTask, size, inserted int)
	WindowFinished(outcome models.WindowOutcome)
}

// NopEvents ignores every event.
type NopEvents struct{}

func (NopEvents) SearchTriggered(models.QueryTask, *models.SearchJob)                     {}
func (NopEvents) TriggerFailed(models.QueryTask, backoff.Decision, error)                 {}
func (NopEvents) SearchPolled(models.QueryTask, *models.SearchJob)                        {}
func (NopEvents) PollFailed(models.QueryTask, *models.SearchJob, backoff.Decision, error) {}
func (NopEvents) SearchAbnormal(models.QueryTask, *models.SearchJob)                      {}
func (NopEvents) SearchCompleted(models.QueryTask, *models.SearchJob)                     {}
func (NopEvents) AttemptsExhausted(models.QueryTask, *models.SearchJob)                   {}
func (NopEvents) StreamStarted(models.QueryTask, *models.SearchJob)                       {}
func (NopEvents) BatchPersisted(models.QueryTask, int, int)                               {}
func (NopEvents) WindowFinished(models.WindowOutcome)                                     {}

// MultiEvents forwards every event to each of its members in order.
type MultiEvents []Events

func (m MultiEvents) SearchTriggered(task models.QueryTask, job *models.SearchJob) {
	for _, e := range m {
		e.SearchTriggered(task, job)
	}
}

func (m MultiEvents) TriggerFailed(task models.QueryTask, d backoff.Decision, err error) {
	for _, e := range m {
		e.TriggerFailed(task, d, err)
	}
}

func (m MultiEvents) SearchPolled(task models.QueryTask, job *models.SearchJob) {
	for _, e := range m {
		e.SearchPolled(task, job)
	}
}

func (m MultiEvents) PollFailed(task models.QueryTask, job *models.SearchJob, d backoff.Decision, err error) {
	for _, e := range m {
		e.PollFailed(task, job, d, err)
	}
}

func (m MultiEvents) SearchAbnormal(task models.QueryTask, job *models.SearchJob) {
	for _, e := range m {
		e.SearchAbnormal(task, job)
	}
}

func (m MultiEvents) SearchCompleted(task models.QueryTask, job *models.SearchJob) {
	for _, e := range m {
		e.SearchCompleted(task, job)
	}
}

func (m MultiEvents) AttemptsExhausted(task models.QueryTask, job *models.SearchJob) {
	for _, e := range m {
		e.AttemptsExhausted(task, job)
	}
}

func (m MultiEvents) StreamStarted(task models.QueryTask, job *models.SearchJob) {
	for _, e := range m {
		e.StreamStarted(task, job)
	}
}

func (m MultiEvents) BatchPersisted(task models.QueryTask, size, inserted int) {
	for _, e := range m {
		e.BatchPersisted(task, size, inserted)
	}
}

func (m MultiEvents) WindowFinished(outcome models.WindowOutcome) {
	for _, e := range m {
		e.WindowFinished(outcome)
	}
}

// LogEvents writes events as structured log lines.
type LogEvents struct {
	Logger *slog.Logger
}

// NewLogEvents returns a LogEvents writing to log, or to slog.Default() when nil.
func NewLogEvents(log *slog.Logger) *LogEvents {
	if log == nil {
		log = slog.Default()
	}
	return &LogEvents{Logger: log}
}

func taskAttrs(task models.QueryTask) []any {
	return []any{
		"processor", task.EventProcessor,
		"client", task.Client,
		"query", task.QueryName,
		"window_start", task.Window.Start.Format(models.BoundLayout),
		"window_stop", task.Window.Stop.Format(models.BoundLayout),
	}
}

func jobAttrs(task models.QueryTask, job *models.SearchJob) []any {
	return append(taskAttrs(task),
		"cursor_id", job.CursorID,
		"state", job.Status,
		"attempt", job.Attempts,
		"trigger", job.Trigger,
		"api_status", job.APIStatus,
		"progress", job.Progress,
		"record_count", job.RecordCount,
	)
}

func (l *LogEvents) SearchTriggered(task models.QueryTask, job *models.SearchJob) {
	l.Logger.Info("search triggered", jobAttrs(task, job)...)
}

func (l *LogEvents) TriggerFailed(task models.QueryTask, d backoff.Decision, err error) {
	l.Logger.Warn("search trigger failed",
		append(taskAttrs(task), "kind", d.Kind, "retry", d.Retry, "pause", d.Pause, "error", err)...)
}

func (l *LogEvents) SearchPolled(task models.QueryTask, job *models.SearchJob) {
	l.Logger.Debug("search polled", jobAttrs(task, job)...)
}

func (l *LogEvents) PollFailed(task models.QueryTask, job *models.SearchJob, d backoff.Decision, err error) {
	l.Logger.Warn("search poll failed",
		append(jobAttrs(task, job), "kind", d.Kind, "retry", d.Retry, "pause", d.Pause, "error", err)...)
}

func (l *LogEvents) SearchAbnormal(task models.QueryTask, job *models.SearchJob) {
	l.Logger.Warn("search ended abnormally",
		append(jobAttrs(task, job), "error_messages", job.ErrorMessages)...)
}

func (l *LogEvents) SearchCompleted(task models.QueryTask, job *models.SearchJob) {
	l.Logger.Info("search completed", jobAttrs(task, job)...)
}

func (l *LogEvents) AttemptsExhausted(task models.QueryTask, job *models.SearchJob) {
	l.Logger.Error("poll attempts exhausted", jobAttrs(task, job)...)
}

func (l *LogEvents) StreamStarted(task models.QueryTask, job *models.SearchJob) {
	l.Logger.Info("streaming results", jobAttrs(task, job)...)
}

func (l *LogEvents) BatchPersisted(task models.QueryTask, size, inserted int) {
	l.Logger.Debug("batch persisted",
		append(taskAttrs(task), "collection", task.Collection, "batch", size, "inserted", inserted)...)
}

func (l *LogEvents) WindowFinished(o models.WindowOutcome) {
	attrs := []any{
		"run_id", o.RunID,
		"processor", o.EventProcessor,
		"client", o.Client,
		"query", o.Query,
		"window_start", o.WindowStart.Format(models.BoundLayout),
		"window_stop", o.WindowStop.Format(models.BoundLayout),
		"cursor_id", o.CursorID,
		"status", o.Status,
		"records_found", o.RecordsFound,
		"records_inserted", o.RecordsInserted,
		"triggers", o.Triggers,
		"duration_ms", o.DurationMs,
	}
	if o.Status == models.WindowLost {
		l.Logger.Error("window lost", append(attrs, "error", o.Error)...)
		return
	}
	l.Logger.Info("window finished", attrs...)
}

// MetricsEvents feeds poll and window counters into a metrics collector.
type MetricsEvents struct {
	NopEvents
	Collector *metrics.Collector
}

func (m MetricsEvents) SearchPolled(_ models.QueryTask, job *models.SearchJob) {
	if job.Completed {
		m.Collector.RecordPoll("completed")
		return
	}
	m.Collector.RecordPoll("pending")
}

func (m MetricsEvents) PollFailed(models.QueryTask, *models.SearchJob, backoff.Decision, error) {
	m.Collector.RecordPoll("error")
}

func (m MetricsEvents) WindowFinished(o models.WindowOutcome) {
	m.Collector.RecordWindow(string(o.Status))
	m.Collector.RecordInserted(o.Query, o.RecordsInserted)
}
