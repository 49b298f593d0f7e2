package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/arielsync/internal/models"
)

// IngestPipeline pairs one producer with one consumer over a private queue.
type IngestPipeline struct {
	producer      *ResultStreamProducer
	consumer      *ResultBatchConsumer
	queueCapacity int
}

// NewIngestPipeline creates a pipeline whose queues hold queueCapacity fragments.
func NewIngestPipeline(producer *ResultStreamProducer, consumer *ResultBatchConsumer, queueCapacity int) *IngestPipeline {
	return &IngestPipeline{
		producer:      producer,
		consumer:      consumer,
		queueCapacity: queueCapacity,
	}
}

// Ingest streams the results of a completed job into sink. Jobs without
// records return immediately. Once the consumer has read every expected
// record the producer is stopped, so trailing stream content is ignored.
func (p *IngestPipeline) Ingest(ctx context.Context, task models.QueryTask, job *models.SearchJob, sink RecordSink) (ConsumeResult, error) {
	if job.RecordCount <= 0 {
		return ConsumeResult{}, nil
	}

	q := NewQueue(p.queueCapacity)
	g, gctx := errgroup.WithContext(ctx)
	producerCtx, stopProducer := context.WithCancel(gctx)
	defer stopProducer()

	var (
		consumed atomic.Bool
		res      ConsumeResult
	)

	g.Go(recoverPanic(func() error {
		_, err := p.producer.Produce(producerCtx, task, job, q)
		if err != nil && consumed.Load() && errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}))

	g.Go(recoverPanic(func() error {
		var err error
		res, err = p.consumer.Consume(gctx, task, job.RecordCount, q, sink)
		if err != nil {
			return err
		}
		consumed.Store(true)
		stopProducer()
		return nil
	}))

	err := g.Wait()
	return res, err
}

// recoverPanic turns a panic in fn into an error, so a bad stream or sink
// loses one window instead of crashing every worker.
func recoverPanic(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}
