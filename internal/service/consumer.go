package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/arielsync/internal/metrics"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// DefaultBatchSize is the number of records per insert.
const DefaultBatchSize = 1000

// RecordSink persists batches of records into a collection.
type RecordSink interface {
	// InsertMany stores docs in table and returns how many were stored.
	InsertMany(ctx context.Context, table string, docs []models.Record) (int, error)
}

// ConsumeResult summarizes one consumer run.
type ConsumeResult struct {
	Consumed int
	Inserted int
	Batches  int
}

// ResultBatchConsumer drains a queue, enriches each record and persists
// them in batches.
type ResultBatchConsumer struct {
	getTimeout time.Duration
	batchSize  int
	enricher   *Enricher
	events     Events
	metrics    *metrics.Collector
}

// NewResultBatchConsumer creates a consumer.
func NewResultBatchConsumer(getTimeout time.Duration, batchSize int, enricher *Enricher, events Events, mc *metrics.Collector) *ResultBatchConsumer {
	if getTimeout <= 0 {
		getTimeout = 120 * time.Second
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if enricher == nil {
		enricher = NewEnricher(nil)
	}
	if events == nil {
		events = NopEvents{}
	}
	return &ResultBatchConsumer{
		getTimeout: getTimeout,
		batchSize:  batchSize,
		enricher:   enricher,
		events:     events,
		metrics:    mc,
	}
}

// Consume reads exactly expected records from q and writes them to
// task.Collection through sink. A batch is flushed when it is full or when
// the last expected record has been read; empty batches are never written.
func (c *ResultBatchConsumer) Consume(ctx context.Context, task models.QueryTask, expected int, q *Queue, sink RecordSink) (ConsumeResult, error) {
	var res ConsumeResult
	if expected <= 0 {
		return res, nil
	}

	batch := make([]models.Record, 0, min(c.batchSize, expected))
	for res.Consumed < expected {
		fragment, err := q.Get(ctx, c.getTimeout)
		if err != nil {
			switch {
			case errors.Is(err, ErrQueueClosed):
				return res, fmt.Errorf("%w: stream ended after %d of %d records", ErrQueueStarvation, res.Consumed, expected)
			case errors.Is(err, ErrQueueStarvation):
				return res, fmt.Errorf("%w after %d of %d records", err, res.Consumed, expected)
			default:
				return res, err
			}
		}

		rec, err := DecodeRecord(fragment)
		if err != nil {
			return res, fmt.Errorf("record %d: %w", res.Consumed+1, err)
		}
		c.enricher.Enrich(rec)
		batch = append(batch, rec)
		res.Consumed++

		if len(batch) >= c.batchSize || res.Consumed == expected {
			n, err := c.flush(ctx, task, batch, sink)
			if err != nil {
				return res, err
			}
			res.Inserted += n
			res.Batches++
			batch = make([]models.Record, 0, min(c.batchSize, expected-res.Consumed))
		}
	}
	return res, nil
}

func (c *ResultBatchConsumer) flush(ctx context.Context, task models.QueryTask, batch []models.Record, sink RecordSink) (int, error) {
	start := time.Now()
	n, err := sink.InsertMany(ctx, task.Collection, batch)
	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpInsert, time.Since(start))
	}
	if err != nil {
		return 0, fmt.Errorf("insert %d records into %s: %w", len(batch), task.Collection, err)
	}
	c.events.BatchPersisted(task, len(batch), n)
	return n, nil
}
