package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/arielsync/internal/ariel"
	"github.com/raphaelgruber/arielsync/internal/backoff"
	"github.com/raphaelgruber/arielsync/internal/metrics"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// SearchAPI is the part of the Ariel API the controller drives.
type SearchAPI interface {
	CreateSearch(ctx context.Context, expression string) (*ariel.Search, error)
	GetSearch(ctx context.Context, cursorID string) (*ariel.Search, error)
}

// ControllerOptions tunes polling and re-triggering.
type ControllerOptions struct {
	// PollAttempts caps the polls spent on one cursor (default 10).
	PollAttempts int
	// ShortCadence and LongCadence are the waits between polls of SHORT and
	// LONG queries (defaults 90s and 180s).
	ShortCadence time.Duration
	LongCadence  time.Duration
	// MaxRetriggers caps how often a window is triggered again after an
	// abnormal end or a retryable trigger failure (default 3). NoRetriggers
	// allows a single trigger.
	MaxRetriggers int
	// MaxPollErrors caps transport failures tolerated while polling one
	// cursor (default 5).
	MaxPollErrors int
}

// NoRetriggers disables re-triggering when set as MaxRetriggers.
const NoRetriggers = -1

// DefaultMaxRetriggers is used when MaxRetriggers is zero.
const DefaultMaxRetriggers = 3

func (o ControllerOptions) withDefaults() ControllerOptions {
	if o.PollAttempts <= 0 {
		o.PollAttempts = 10
	}
	if o.ShortCadence <= 0 {
		o.ShortCadence = 90 * time.Second
	}
	if o.LongCadence <= 0 {
		o.LongCadence = 180 * time.Second
	}
	switch {
	case o.MaxRetriggers == 0:
		o.MaxRetriggers = DefaultMaxRetriggers
	case o.MaxRetriggers < 0:
		o.MaxRetriggers = 0
	}
	if o.MaxPollErrors <= 0 {
		o.MaxPollErrors = 5
	}
	return o
}

// SearchJobController triggers searches and polls them to a terminal state.
type SearchJobController struct {
	api     SearchAPI
	opts    ControllerOptions
	events  Events
	metrics *metrics.Collector
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSearchJobController creates a controller. events and mc may be nil.
func NewSearchJobController(api SearchAPI, opts ControllerOptions, events Events, mc *metrics.Collector) *SearchJobController {
	if events == nil {
		events = NopEvents{}
	}
	return &SearchJobController{
		api:     api,
		opts:    opts.withDefaults(),
		events:  events,
		metrics: mc,
		sleep:   backoff.Sleep,
	}
}

func (c *SearchJobController) cadence(class models.DurationClass) time.Duration {
	if class == models.ClassShort {
		return c.opts.ShortCadence
	}
	return c.opts.LongCadence
}

func (c *SearchJobController) timing(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordTiming(op, time.Since(start))
	}
}

// Trigger creates a new remote search for task. On failure the backoff pause
// for the error class is served before the error is returned.
func (c *SearchJobController) Trigger(ctx context.Context, task models.QueryTask) (*models.SearchJob, error) {
	return c.trigger(ctx, task, true)
}

// trigger skips the pause when pause is false, e.g. on the last attempt.
func (c *SearchJobController) trigger(ctx context.Context, task models.QueryTask, pause bool) (*models.SearchJob, error) {
	start := time.Now()
	s, err := c.api.CreateSearch(ctx, task.Expression)
	c.timing(metrics.OpTrigger, start)
	if err != nil {
		d := backoff.Classify(err)
		c.events.TriggerFailed(task, d, err)
		if d.Retry && pause {
			if serr := c.sleep(ctx, d.Pause); serr != nil {
				return nil, fmt.Errorf("trigger search: %w", serr)
			}
		}
		return nil, fmt.Errorf("trigger search: %w", err)
	}

	job := &models.SearchJob{CursorID: s.CursorID, Status: models.StateTriggered}
	applySearch(job, s)
	c.events.SearchTriggered(task, job)
	return job, nil
}

// Poll polls job until it completes, reports errors or runs out of attempts.
// A job whose status carries error messages is returned as ABNORMAL without
// an error; the caller decides whether to trigger again.
func (c *SearchJobController) Poll(ctx context.Context, task models.QueryTask, job *models.SearchJob) (*models.SearchJob, error) {
	cadence := c.cadence(task.Class)
	job.Status = models.StatePolling
	pollErrors := 0

	for {
		if job.Attempts >= c.opts.PollAttempts {
			job.Status = models.StateExhausted
			c.events.AttemptsExhausted(task, job)
			return job, fmt.Errorf("%w: cursor %s after %d polls", ErrAttemptsExhausted, job.CursorID, job.Attempts)
		}

		start := time.Now()
		s, err := c.api.GetSearch(ctx, job.CursorID)
		c.timing(metrics.OpPoll, start)
		if err != nil {
			d := backoff.Classify(err)
			c.events.PollFailed(task, job, d, err)
			if !d.Retry {
				return job, fmt.Errorf("poll search %s: %w", job.CursorID, err)
			}
			pollErrors++
			if pollErrors > c.opts.MaxPollErrors {
				job.Status = models.StateExhausted
				c.events.AttemptsExhausted(task, job)
				return job, fmt.Errorf("%w: cursor %s after %d failed polls: %w", ErrAttemptsExhausted, job.CursorID, pollErrors, err)
			}
			if serr := c.sleep(ctx, d.Pause); serr != nil {
				return job, fmt.Errorf("poll search %s: %w", job.CursorID, serr)
			}
			continue
		}

		applySearch(job, s)
		c.events.SearchPolled(task, job)

		if len(job.ErrorMessages) == 0 && job.Completed {
			job.Status = models.StateCompleted
			c.events.SearchCompleted(task, job)
			return job, nil
		}

		if err := c.sleep(ctx, cadence); err != nil {
			return job, fmt.Errorf("poll search %s: %w", job.CursorID, err)
		}
		job.Attempts++

		if len(job.ErrorMessages) > 0 {
			job.Status = models.StateAbnormal
			c.events.SearchAbnormal(task, job)
			return job, nil
		}
	}
}

// Run triggers and polls task until a search completes. Abnormal searches and
// retryable trigger failures start a brand-new search, at most MaxRetriggers
// times. It returns the completed job or the reason the window was abandoned.
// When the cap is reached the last created job, if any, is returned with the
// error.
func (c *SearchJobController) Run(ctx context.Context, task models.QueryTask) (*models.SearchJob, error) {
	var (
		last    *models.SearchJob
		lastErr error
	)
	triggers := c.opts.MaxRetriggers + 1

	for n := 0; n < triggers; n++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		job, err := c.trigger(ctx, task, n < triggers-1)
		if err != nil {
			if !backoff.Classify(err).Retry {
				return last, err
			}
			lastErr = err
			continue
		}
		job.Trigger = n

		job, err = c.Poll(ctx, task, job)
		if err != nil {
			return job, err
		}
		if job.Status == models.StateCompleted {
			return job, nil
		}
		last = job
		lastErr = abnormalError(job)
	}

	if lastErr == nil {
		lastErr = errors.New("no trigger attempted")
	}
	return last, fmt.Errorf("%w after %d triggers: %w", ErrRetriggersExhausted, triggers, lastErr)
}

func applySearch(job *models.SearchJob, s *ariel.Search) {
	job.APIStatus = s.Status
	job.Completed = s.IsCompleted()
	job.Progress = s.Progress
	job.RecordCount = s.RecordCount
	job.ErrorMessages = s.ErrorMessages
}

func abnormalError(job *models.SearchJob) error {
	if len(job.ErrorMessages) == 0 {
		return fmt.Errorf("search %s ended abnormally", job.CursorID)
	}
	m := job.ErrorMessages[0]
	return fmt.Errorf("search %s ended abnormally: %s (code %v)", job.CursorID, m.Message, m.Code)
}
