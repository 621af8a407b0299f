// Package rangeplan turns an HTTP Range header plus an optionally known
// total size into a concrete byte span. It does no I/O.
package rangeplan

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNotSatisfiable maps to HTTP 416 upstream.
var ErrNotSatisfiable = errors.New("range not satisfiable")

// Span is the planned byte window. End == nil means "until the end of the
// resource", which stays open when the total size is unknown.
type Span struct {
	Start int64
	End   *int64
}

// Length returns the span length in bytes, or -1 when open-ended.
func (s Span) Length() int64 {
	if s.End == nil {
		return -1
	}
	return *s.End - s.Start + 1
}

// Plan resolves header against size (nil = unknown).
//
//   - no header            -> {0, nil} (whole resource)
//   - missing bytes= prefix -> ErrNotSatisfiable
//   - bytes=-N             -> needs known size; {max(size-N,0), size-1}
//   - bytes=S- / bytes=S-E -> S checked/clamped against size when known,
//     passed through when unknown
//
// Multi-range specs are rejected.
func Plan(header string, size *int64) (Span, error) {
	if header == "" {
		return Span{}, nil
	}
	h := strings.ToLower(strings.TrimSpace(header))
	if !strings.HasPrefix(h, "bytes=") {
		return Span{}, ErrNotSatisfiable
	}
	spec := strings.TrimPrefix(h, "bytes=")
	if strings.Contains(spec, ",") {
		return Span{}, ErrNotSatisfiable
	}

	startStr, endStr, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return Span{}, ErrNotSatisfiable
	}

	// Suffix form: last N bytes.
	if startStr == "" {
		if size == nil {
			return Span{}, ErrNotSatisfiable
		}
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return Span{}, ErrNotSatisfiable
		}
		start := *size - n
		if start < 0 {
			start = 0
		}
		end := *size - 1
		return Span{Start: start, End: &end}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Span{}, ErrNotSatisfiable
	}

	var end *int64
	if endStr != "" {
		e, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || e < start {
			return Span{}, ErrNotSatisfiable
		}
		end = &e
	}

	if size != nil {
		if start >= *size {
			return Span{}, ErrNotSatisfiable
		}
		last := *size - 1
		if end == nil || *end > last {
			end = &last
		}
	}
	return Span{Start: start, End: end}, nil
}
