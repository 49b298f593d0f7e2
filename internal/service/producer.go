package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raphaelgruber/arielsync/internal/metrics"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// DefaultRecordDelimiter separates records in the results body.
const DefaultRecordDelimiter = "},\n"

// maxFragmentSize bounds a single record in the results body.
const maxFragmentSize = 16 << 20

// ResultStreamer opens the results body of a completed search.
type ResultStreamer interface {
	StreamResults(ctx context.Context, cursorID string) (io.ReadCloser, error)
}

// ResultStreamProducer turns a results body into single-record JSON
// fragments and pushes them onto a queue.
type ResultStreamProducer struct {
	api        ResultStreamer
	delimiter  string
	putTimeout time.Duration
	events     Events
	metrics    *metrics.Collector
}

// NewResultStreamProducer creates a producer. An empty delimiter selects
// DefaultRecordDelimiter.
func NewResultStreamProducer(api ResultStreamer, delimiter string, putTimeout time.Duration, events Events, mc *metrics.Collector) *ResultStreamProducer {
	if delimiter == "" {
		delimiter = DefaultRecordDelimiter
	}
	if putTimeout <= 0 {
		putTimeout = 120 * time.Second
	}
	if events == nil {
		events = NopEvents{}
	}
	return &ResultStreamProducer{
		api:        api,
		delimiter:  delimiter,
		putTimeout: putTimeout,
		events:     events,
		metrics:    mc,
	}
}

// Produce streams the results of job into q and closes q once the body has
// been fully read. It returns the number of fragments enqueued.
func (p *ResultStreamProducer) Produce(ctx context.Context, task models.QueryTask, job *models.SearchJob, q *Queue) (int, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordTiming(metrics.OpStream, time.Since(start))
		}
	}()

	p.events.StreamStarted(task, job)
	body, err := p.api.StreamResults(ctx, job.CursorID)
	if err != nil {
		return 0, fmt.Errorf("open results %s: %w", job.CursorID, err)
	}
	defer body.Close()

	n := 0
	err = Reframe(body, p.delimiter, func(fragment string) error {
		if err := q.Put(ctx, fragment, p.putTimeout); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("stream results %s: %w", job.CursorID, err)
	}

	q.Close()
	return n, nil
}

// Reframe splits r on delimiter and hands each cleaned, non-empty record
// fragment to emit. The closing brace consumed by the delimiter is restored,
// newlines are removed, and the {"events":[ or {"flows":[ envelope opening
// the first fragment and the ]} closing the last one are stripped.
func Reframe(r io.Reader, delimiter string, emit func(string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFragmentSize)
	sc.Split(splitOn([]byte(delimiter)))

	var (
		prev    string
		pending bool
		frag    = fragmenter{delimiter: delimiter, first: true}
	)
	flush := func(tok string, last bool) error {
		f := frag.clean(tok, last)
		if f == "" {
			return nil
		}
		return emit(f)
	}

	for sc.Scan() {
		if pending {
			if err := flush(prev, false); err != nil {
				return err
			}
		}
		prev, pending = sc.Text(), true
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if pending {
		return flush(prev, true)
	}
	return nil
}

func splitOn(delim []byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, delim); i >= 0 {
			return i + len(delim), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// fragmenter cleans the tokens of one stream in order. The closing `]}` is
// only stripped when the first token opened an envelope.
type fragmenter struct {
	delimiter string
	first     bool
	enveloped bool
}

func (f *fragmenter) clean(tok string, last bool) string {
	s := strings.NewReplacer("\r", "", "\n", "").Replace(tok)
	s = strings.TrimSpace(s)

	if f.first {
		s, f.enveloped = stripEnvelopeOpen(s)
		f.first = false
	}
	if last {
		if f.enveloped {
			s = stripEnvelopeClose(s)
		}
	} else if closer := strings.TrimRight(f.delimiter, ",\r\n \t"); closer != "" {
		s += closer
	}
	return strings.TrimSpace(s)
}

// stripEnvelopeOpen removes the `{"<key>":[` head of the results envelope
// from s and reports whether it did. The key names the searched table, e.g.
// "events" or "flows". A record whose own field holds an array is left alone
// since what follows its `[` is not a record.
func stripEnvelopeOpen(s string) (string, bool) {
	if !strings.HasPrefix(s, "{") {
		return s, false
	}
	bracket := strings.Index(s, "[")
	if bracket < 0 {
		return s, false
	}
	key := strings.TrimSpace(s[1:bracket])
	key, ok := strings.CutSuffix(key, ":")
	if !ok {
		return s, false
	}
	key = strings.TrimSpace(key)
	if len(key) < 2 || key[0] != '"' || key[len(key)-1] != '"' || strings.Count(key, `"`) != 2 {
		return s, false
	}
	rest := strings.TrimSpace(s[bracket+1:])
	if rest != "" && rest[0] != '{' && rest[0] != ']' {
		return s, false
	}
	return rest, true
}

// stripEnvelopeClose removes the `]}` closing the envelope from the tail of s.
func stripEnvelopeClose(s string) string {
	t := strings.TrimSpace(strings.TrimSuffix(s, "}"))
	if !strings.HasSuffix(t, "]") {
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(t, "]"))
}
