package service

import "errors"

// Sentinel errors for the search pipeline.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrQueueStarvation indicates the consumer waited too long for a record
	// while records were still expected, or the stream ended early.
	ErrQueueStarvation = errors.New("result queue starved")

	// ErrQueueSaturation indicates the producer could not enqueue a record
	// within the put timeout.
	ErrQueueSaturation = errors.New("result queue saturated")

	// ErrQueueClosed is returned by Get once the queue is closed and drained.
	ErrQueueClosed = errors.New("result queue closed")

	// ErrAttemptsExhausted indicates a search never completed within the
	// allowed number of polls.
	ErrAttemptsExhausted = errors.New("poll attempts exhausted")

	// ErrRetriggersExhausted indicates every trigger of a window ended
	// abnormally or failed to start.
	ErrRetriggersExhausted = errors.New("search re-triggers exhausted")
)
