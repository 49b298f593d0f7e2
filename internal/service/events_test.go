package service

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/arielsync/internal/backoff"
	"github.com/raphaelgruber/arielsync/internal/metrics"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// countingEvents records which events fired.
type countingEvents struct {
	NopEvents
	mu    sync.Mutex
	names []string
}

func (c *countingEvents) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *countingEvents) SearchTriggered(models.QueryTask, *models.SearchJob) { c.add("triggered") }
func (c *countingEvents) WindowFinished(models.WindowOutcome)                 { c.add("finished") }

func TestMultiEventsFansOut(t *testing.T) {
	a, b := &countingEvents{}, &countingEvents{}
	m := MultiEvents{a, NopEvents{}, b}
	task := testTask(models.ClassShort)

	m.SearchTriggered(task, &models.SearchJob{CursorID: "c1"})
	m.WindowFinished(models.WindowOutcome{Status: models.WindowCompleted})
	m.BatchPersisted(task, 10, 10)

	assert.Equal(t, []string{"triggered", "finished"}, a.names)
	assert.Equal(t, []string{"triggered", "finished"}, b.names)
}

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	ev := NewLogEvents(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	task := testTask(models.ClassShort)
	job := &models.SearchJob{CursorID: "cursor-1", Status: models.StateCompleted, Attempts: 2, Trigger: 1, RecordCount: 42}

	ev.SearchTriggered(task, job)
	ev.TriggerFailed(task, backoff.Decision{Kind: backoff.KindServerError, Retry: true, Pause: 300 * time.Second}, errors.New("503"))
	ev.BatchPersisted(task, 1000, 1000)

	out := buf.String()
	assert.Contains(t, out, `msg="search triggered"`)
	assert.Contains(t, out, `client="Acme Corp"`)
	assert.Contains(t, out, `query="Authentication Failure"`)
	assert.Contains(t, out, `window_start="2024-03-01 00:00:00"`)
	assert.Contains(t, out, "cursor_id=cursor-1")
	assert.Contains(t, out, "record_count=42")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "kind=server_error")
	assert.Contains(t, out, "pause=5m0s")
	assert.Contains(t, out, `collection="raw_Authentication Failure"`)
}

func TestLogEventsWindowFinishedLevels(t *testing.T) {
	var buf bytes.Buffer
	ev := NewLogEvents(slog.New(slog.NewTextHandler(&buf, nil)))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	ev.WindowFinished(models.WindowOutcome{RunID: "r1", WindowStart: start, WindowStop: start.Add(15 * time.Minute), Status: models.WindowCompleted, RecordsInserted: 5})
	ev.WindowFinished(models.WindowOutcome{RunID: "r1", WindowStart: start, WindowStop: start.Add(15 * time.Minute), Status: models.WindowLost, Error: "retriggers exhausted"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "level=INFO")
	assert.Contains(t, lines[0], `msg="window finished"`)
	assert.Contains(t, lines[0], "records_inserted=5")
	assert.Contains(t, lines[1], "level=ERROR")
	assert.Contains(t, lines[1], `msg="window lost"`)
	assert.Contains(t, lines[1], `error="retriggers exhausted"`)
}

func TestMetricsEvents(t *testing.T) {
	mc := metrics.NewCollector()
	ev := MetricsEvents{Collector: mc}
	task := testTask(models.ClassLong)

	ev.SearchPolled(task, &models.SearchJob{Completed: false})
	ev.SearchPolled(task, &models.SearchJob{Completed: true})
	ev.PollFailed(task, &models.SearchJob{}, backoff.Decision{}, errors.New("timeout"))
	ev.WindowFinished(models.WindowOutcome{Query: "Firewall Deny", Status: models.WindowCompleted, RecordsInserted: 7})
	ev.WindowFinished(models.WindowOutcome{Query: "Firewall Deny", Status: models.WindowLost})
	// Events without a metric are no-ops.
	ev.SearchTriggered(task, &models.SearchJob{})

	snap := mc.Snapshot()
	assert.Equal(t, int64(1), snap.Windows["completed"])
	assert.Equal(t, int64(1), snap.Windows["lost"])
	assert.Equal(t, int64(7), snap.RecordsInserted)

	families, err := mc.Registry().Gather()
	require.NoError(t, err)
	polls := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "arielsync_search_polls_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			polls[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"pending": 1, "completed": 1, "error": 1}, polls)
}
