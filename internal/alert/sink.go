package alert

import (
	"context"
	"fmt"
	"net/http"
)

// Sink delivers one event to an external destination. Deliver must
// respect the context deadline; non-2xx responses surface as
// StatusError so the retry policy can classify them.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// StatusError reports a non-2xx HTTP response from a sink endpoint.
type StatusError struct {
	Sink string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Sink, e.Code)
}

// Permanent reports whether the status indicates a request that will
// never succeed on retry. 429 stays retryable.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}
