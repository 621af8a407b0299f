// Package stream ties the pieces together: token lookup, range planning,
// locator resolution and the chunk-remapped origin read.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"streamgate/internal/chunker"
	"streamgate/internal/origin"
	"streamgate/internal/rangeplan"
	"streamgate/internal/store"
)

// Orchestrator opens token-addressed media as HTTP-shaped byte streams.
type Orchestrator struct {
	Store           store.Store
	Origin          origin.Client
	OriginChunkSize int64
	OutputChunkSize int
}

// OpenResult carries everything the HTTP layer needs to answer a stream
// request. ContentLength is -1 when the total size is unknown. Body is nil
// only on error; callers must Close it (closing cancels the origin read).
type OpenResult struct {
	Ref           store.MediaRef
	Status        int
	ContentType   string
	ContentLength int64
	ContentRange  string
	Body          *chunker.Stream
}

// Open resolves token, plans rangeHeader against the stored size, and
// starts the origin download. Errors: store.ErrNotFound for a missing or
// expired token, rangeplan.ErrNotSatisfiable for a bad or unplannable
// range (including any ranged request when the size is unknown), and
// origin errors (rate limits keep their retry-after).
func (o *Orchestrator) Open(ctx context.Context, token, rangeHeader string) (*OpenResult, error) {
	ref, ok, err := o.Store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	if rangeHeader != "" && ref.FileSize == nil {
		return nil, rangeplan.ErrNotSatisfiable
	}
	span, err := rangeplan.Plan(rangeHeader, ref.FileSize)
	if err != nil {
		return nil, err
	}

	loc, err := o.locate(ctx, ref)
	if err != nil {
		return nil, err
	}

	offset, limit := chunker.Window(span.Start, span.End, o.OriginChunkSize)
	sess, err := o.Origin.OpenChunkedDownload(ctx, loc, offset, limit)
	if err != nil {
		return nil, err
	}
	body := chunker.NewStream(sess, span.Start-offset, span.Length(), o.OutputChunkSize)

	res := &OpenResult{
		Ref:           ref,
		Status:        http.StatusOK,
		ContentType:   ref.MimeType,
		ContentLength: -1,
		Body:          body,
	}
	if res.ContentType == "" {
		res.ContentType = "application/octet-stream"
	}
	if rangeHeader != "" {
		res.Status = http.StatusPartialContent
		res.ContentLength = span.Length()
		res.ContentRange = fmt.Sprintf("bytes %d-%d/%d", span.Start, *span.End, *ref.FileSize)
	} else if ref.FileSize != nil {
		res.ContentLength = *ref.FileSize
	}
	return res, nil
}

// locate prefers a fresh locator from the origin and falls back to the
// stored file id when the origin cannot resolve the coordinates. Rate
// limits propagate; they are not a resolution failure.
func (o *Orchestrator) locate(ctx context.Context, ref store.MediaRef) (origin.Locator, error) {
	loc, err := o.Origin.Resolve(ctx, ref.ChatID, ref.MessageID)
	if err == nil {
		return loc, nil
	}
	var rl *origin.RateLimitedError
	if errors.As(err, &rl) {
		return origin.Locator{}, err
	}
	if ref.FileID == "" {
		return origin.Locator{}, store.ErrNotFound
	}
	return origin.Locator{FileID: ref.FileID}, nil
}
