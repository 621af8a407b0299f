// Package origin defines the narrow contract the gateway needs from the
// upstream media backend: resolve a message coordinate to a download
// locator, and read a locator as a sequence of fixed-size chunks.
package origin

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Locator is an origin-side handle for one downloadable object.
type Locator struct {
	FileID string
}

// ErrCannotResolve means the client has no way to re-derive a fresh locator
// for the given coordinates; callers fall back to the locator they stored.
var ErrCannotResolve = errors.New("origin: cannot resolve coordinates")

// ErrUnavailable is a transient origin failure without a retry hint.
var ErrUnavailable = errors.New("origin: unavailable")

// RateLimitedError is the origin telling us to back off. The gateway
// surfaces it as 503 + Retry-After instead of retrying internally.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("origin: rate limited, retry after %s", e.RetryAfter)
}

// Session yields the bytes of one download, chunk by chunk. Next returns
// io.EOF when the origin is exhausted; chunks are valid until the following
// Next call. Close releases the underlying transfer and is safe to call
// before exhaustion — sessions are cancelled, never drained.
type Session interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Client is the injected media-origin collaborator.
type Client interface {
	// Resolve re-derives a fresh locator from chat/message coordinates.
	// Implementations that cannot do this return ErrCannotResolve.
	Resolve(ctx context.Context, chatID, messageID int64) (Locator, error)

	// OpenChunkedDownload starts reading loc at offsetBytes. limitBytes <= 0
	// means unbounded. Chunks come back at the client's fixed chunk size
	// (the final one may be short).
	OpenChunkedDownload(ctx context.Context, loc Locator, offsetBytes, limitBytes int64) (Session, error)
}
