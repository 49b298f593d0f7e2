// Package backoff classifies search failures and decides whether and how long
// to wait before trying again.
package backoff

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/raphaelgruber/arielsync/internal/ariel"
)

// Pauses applied before retrying.
const (
	ServerErrorPause = 300 * time.Second
	NetworkPause     = 30 * time.Second
)

// ClientErrorRetries is how often a 4xx answer is retried. Client errors fail
// the window immediately.
const ClientErrorRetries = 0

// Kind is the failure class of an error.
type Kind string

const (
	KindNone              Kind = "none"
	KindServerError       Kind = "server_error"
	KindConnectionRefused Kind = "connection_refused"
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network"
	KindClientError       Kind = "client_error"
	KindMalformed         Kind = "malformed"
	KindCanceled          Kind = "canceled"
)

// Decision is what the caller should do after a failure.
type Decision struct {
	Kind  Kind
	Retry bool
	// Pause is how long to wait before retrying. Zero when Retry is false.
	Pause time.Duration
}

// Classify maps err to a retry decision.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Kind: KindNone}
	}

	// Cancellation of the whole run wins over whatever the transport reports.
	if errors.Is(err, context.Canceled) {
		return Decision{Kind: KindCanceled}
	}

	var apiErr *ariel.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsServerError() {
			return Decision{Kind: KindServerError, Retry: true, Pause: ServerErrorPause}
		}
		return Decision{Kind: KindClientError, Retry: ClientErrorRetries > 0}
	}

	if errors.Is(err, ariel.ErrMalformedResponse) {
		return Decision{Kind: KindMalformed}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return Decision{Kind: KindConnectionRefused, Retry: true, Pause: NetworkPause}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Decision{Kind: KindTimeout, Retry: true, Pause: NetworkPause}
	}

	return Decision{Kind: KindNetwork, Retry: true, Pause: NetworkPause}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
