package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/arielsync/internal/ariel"
	"github.com/raphaelgruber/arielsync/internal/models"
)

var runFrom = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testInputs() models.Inputs {
	return models.Inputs{
		Processors: []string{"101", "102"},
		Clients: map[string][]string{
			"101": {"Acme Corp", "Beta.io"},
			"102": {"Gamma"},
		},
		Templates: []models.QueryTemplate{
			{Name: "Authentication Failure", Expression: "SELECT * FROM events WHERE processorid=##### AND DOMAINNAME(domainid)=@@@@@ START !!!!! STOP $$$$$", Class: models.ClassShort},
			{Name: "Firewall Deny", Expression: "SELECT * FROM flows WHERE processorid=##### AND DOMAINNAME(domainid)=@@@@@ START !!!!! STOP $$$$$", Class: models.ClassLong},
		},
	}
}

// Per client: 5 short windows (00:00..01:00 inclusive) and 2 long ones.
const windowsPerClient = 7

func completingAPI() *fakeAPI {
	return &fakeAPI{
		getFn: func(cursor string, n int) (*ariel.Search, error) {
			return search(cursor, true, 3), nil
		},
		streamFn: func(string) (string, error) { return resultsBody(3), nil },
	}
}

func newTestOrchestrator(api *fakeAPI, store *fakeStore, workers int, open StoreFactory) *JobOrchestrator {
	c, _ := newTestController(api, ControllerOptions{})
	if open == nil {
		open = func(context.Context) (Store, error) { return store, nil }
	}
	return NewJobOrchestrator(c, newTestPipeline(api, 8), open, nil,
		OrchestratorOptions{Workers: workers, ShortWindow: 15 * time.Minute, LongWindow: time.Hour}, nil)
}

func TestOrchestratorRun(t *testing.T) {
	api := completingAPI()
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 8, nil)

	summary, err := o.Run(context.Background(), RunRequest{
		RunID:  "run-1",
		From:   runFrom,
		To:     runFrom.Add(time.Hour),
		Inputs: testInputs(),
	})
	require.NoError(t, err)

	assert.Equal(t, RunSummary{
		RunID:           "run-1",
		Windows:         3 * windowsPerClient,
		Completed:       3 * windowsPerClient,
		RecordsInserted: 3 * windowsPerClient * 3,
	}, summary)

	assert.ElementsMatch(t, []string{"AcmeCorp", "Betaio", "Gamma"}, *store.used)
	assert.Equal(t, 2, *store.closed, "one store per worker")
	assert.Len(t, store.docs["raw_Authentication Failure"], 3*5*3)
	assert.Len(t, store.docs["raw_Firewall Deny"], 3*2*3)

	outcomes := store.windowOutcomes()
	require.Len(t, outcomes, 3*windowsPerClient)

	// Windows of one client/query chain are recorded in strictly increasing order.
	last := map[string]time.Time{}
	for _, out := range outcomes {
		assert.Equal(t, "run-1", out.RunID)
		assert.Equal(t, models.WindowCompleted, out.Status)
		assert.Equal(t, 3, out.RecordsInserted)
		assert.Equal(t, 1, out.Triggers)
		key := out.Client + "/" + out.Query
		if prev, ok := last[key]; ok {
			assert.True(t, out.WindowStart.After(prev), "chain %s out of order", key)
		}
		last[key] = out.WindowStart
	}
}

func TestOrchestratorLostWindowsDoNotStopChain(t *testing.T) {
	api := completingAPI()
	api.createFn = func(expr string, n int) (*ariel.Search, error) {
		if strings.Contains(expr, "'Beta.io'") {
			return nil, &ariel.APIError{StatusCode: 422, Message: "invalid query"}
		}
		return search("c", false, 0), nil
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 2, nil)

	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom.Add(time.Hour), Inputs: testInputs()})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3*windowsPerClient, summary.Windows)
	assert.Equal(t, windowsPerClient, summary.Lost)
	assert.Equal(t, 2*windowsPerClient, summary.Completed)

	for _, out := range store.windowOutcomes() {
		if out.Client == "Beta.io" {
			assert.Equal(t, models.WindowLost, out.Status)
			assert.Contains(t, out.Error, "invalid query")
		}
	}
}

func TestOrchestratorNoRecords(t *testing.T) {
	api := completingAPI()
	api.getFn = func(cursor string, n int) (*ariel.Search, error) { return search(cursor, true, 0), nil }
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 1, nil)

	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom, Inputs: testInputs(), Processors: []string{"102"}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Windows, "one short and one long window")
	assert.Equal(t, 2, summary.NoRecords)

	_, _, streams := api.counts()
	assert.Equal(t, 0, streams)
}

func TestOrchestratorProcessorFilter(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(completingAPI(), store, 8, nil)

	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom.Add(time.Hour), Inputs: testInputs(), Processors: []string{"102"}})
	require.NoError(t, err)
	assert.Equal(t, windowsPerClient, summary.Windows)
	assert.Equal(t, []string{"Gamma"}, *store.used)
}

func TestOrchestratorStoreFailureEndsOnlyThatWorker(t *testing.T) {
	store := newFakeStore()
	var opened atomic.Int32
	open := func(context.Context) (Store, error) {
		if opened.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return store, nil
	}
	o := newTestOrchestrator(completingAPI(), store, 2, open)

	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom.Add(time.Hour), Inputs: testInputs()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open store")
	assert.Equal(t, 3*windowsPerClient, summary.Windows, "surviving worker drains every processor")
}

func TestOrchestratorRecoversWorkerPanic(t *testing.T) {
	api := completingAPI()
	api.createFn = func(expr string, n int) (*ariel.Search, error) {
		if strings.Contains(expr, "processorid=102") {
			panic("unexpected response shape")
		}
		return search("c", false, 0), nil
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 2, nil)

	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom.Add(time.Hour), Inputs: testInputs()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, 2*windowsPerClient, summary.Completed)
}

func TestOrchestratorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newFakeStore()
	o := newTestOrchestrator(completingAPI(), store, 2, nil)

	summary, err := o.Run(ctx, RunRequest{From: runFrom, To: runFrom.Add(time.Hour), Inputs: testInputs()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Windows)
}

func TestOrchestratorStreamPanicLosesOnlyTheWindow(t *testing.T) {
	api := completingAPI()
	api.streamFn = func(string) (string, error) { panic("stream decoder blew up") }
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 2, nil)

	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom.Add(time.Hour), Inputs: testInputs()})
	require.NoError(t, err, "pipeline panics are window failures, not worker failures")
	assert.Equal(t, 3*windowsPerClient, summary.Windows)
	assert.Equal(t, 3*windowsPerClient, summary.Lost)

	for _, out := range store.windowOutcomes() {
		assert.Contains(t, out.Error, "panic: stream decoder blew up")
	}
}

func TestOrchestratorRecordsRetriggeredWindow(t *testing.T) {
	api := &fakeAPI{getFn: func(cursor string, n int) (*ariel.Search, error) {
		return search(cursor, true, 0, models.ErrorMessage{Message: "search failed"}), nil
	}}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 1, nil)

	inputs := testInputs()
	inputs.Templates = inputs.Templates[:1]
	summary, err := o.Run(context.Background(), RunRequest{From: runFrom, To: runFrom, Inputs: inputs, Processors: []string{"102"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lost)

	outcomes := store.windowOutcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, models.WindowLost, outcomes[0].Status)
	assert.Equal(t, DefaultMaxRetriggers+1, outcomes[0].Triggers)
	assert.Equal(t, "cursor-4", outcomes[0].CursorID)
	assert.Contains(t, outcomes[0].Error, "search failed")
}
