package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/arielsync/internal/ariel"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// fakeAPI scripts the Ariel API. Each func receives the 1-based call number.
type fakeAPI struct {
	mu      sync.Mutex
	creates int
	gets    int
	streams int

	createFn func(expr string, n int) (*ariel.Search, error)
	getFn    func(cursor string, n int) (*ariel.Search, error)
	streamFn func(cursor string) (string, error)
}

func (f *fakeAPI) CreateSearch(_ context.Context, expr string) (*ariel.Search, error) {
	f.mu.Lock()
	f.creates++
	n := f.creates
	f.mu.Unlock()
	if f.createFn == nil {
		return search(fmt.Sprintf("cursor-%d", n), false, 0), nil
	}
	return f.createFn(expr, n)
}

func (f *fakeAPI) GetSearch(_ context.Context, cursor string) (*ariel.Search, error) {
	f.mu.Lock()
	f.gets++
	n := f.gets
	f.mu.Unlock()
	return f.getFn(cursor, n)
}

func (f *fakeAPI) StreamResults(_ context.Context, cursor string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	body, err := f.streamFn(cursor)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeAPI) counts() (creates, gets, streams int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.gets, f.streams
}

func search(cursor string, completed bool, records int, errs ...models.ErrorMessage) *ariel.Search {
	status := "EXECUTE"
	if completed {
		status = "COMPLETED"
	}
	return &ariel.Search{
		CursorID:      cursor,
		Status:        status,
		Completed:     &completed,
		RecordCount:   records,
		ErrorMessages: errs,
	}
}

// resultsBody renders n records the way QRadar streams them.
func resultsBody(n int) string {
	var b strings.Builder
	b.WriteString(`{"events":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, `{"Start Time":%d,"sourceip":"10.0.0.%d","seq":%d}`, int64(1709251200000)+int64(i)*1000, i%255, i)
	}
	b.WriteString(`]}`)
	return b.String()
}

// fakeSink records inserts.
type fakeSink struct {
	mu      sync.Mutex
	batches map[string][]int
	docs    map[string][]models.Record
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{batches: map[string][]int{}, docs: map[string][]models.Record{}}
}

func (s *fakeSink) InsertMany(_ context.Context, table string, docs []models.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.batches[table] = append(s.batches[table], len(docs))
	s.docs[table] = append(s.docs[table], docs...)
	return len(docs), nil
}

func (s *fakeSink) batchSizes(table string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches[table]...)
}

// fakeStore is a Store backed by memory, shared by every worker.
type fakeStore struct {
	*fakeSink
	mu       *sync.Mutex
	used     *[]string
	outcomes *[]models.WindowOutcome
	useErr   map[string]error
	closed   *int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fakeSink: newFakeSink(),
		mu:       &sync.Mutex{},
		used:     &[]string{},
		outcomes: &[]models.WindowOutcome{},
		useErr:   map[string]error{},
		closed:   new(int),
	}
}

func (s *fakeStore) UseDatabase(_ context.Context, database string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.used = append(*s.used, database)
	return s.useErr[database]
}

func (s *fakeStore) RecordWindow(_ context.Context, o models.WindowOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.outcomes = append(*s.outcomes, o)
	return nil
}

func (s *fakeStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.closed++
	return nil
}

func (s *fakeStore) windowOutcomes() []models.WindowOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WindowOutcome(nil), *s.outcomes...)
}

// sleepRecorder replaces the controller's sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func testTask(class models.DurationClass) models.QueryTask {
	w := models.TimeWindow{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 3, 1, 0, 15, 0, 0, time.UTC),
	}
	return models.NewQueryTask("104", "Acme Corp", models.QueryTemplate{
		Name:       "Authentication Failure",
		Expression: "SELECT * FROM events WHERE processorid=##### AND DOMAINNAME(domainid)=@@@@@ START !!!!! STOP $$$$$",
		Class:      class,
	}, w)
}
