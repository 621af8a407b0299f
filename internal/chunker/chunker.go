// Package chunker remaps an arbitrary byte span onto a fixed-chunk origin:
// it computes the aligned download window and then re-cuts the origin's
// chunks into the exact requested bytes.
package chunker

import (
	"context"
	"io"

	"streamgate/internal/origin"
)

// Window computes the origin read parameters for a span starting at start.
// offset is the greatest chunk boundary at or below start. limit is the
// number of bytes to request from offset, padded by one extra chunk so an
// unaligned start never starves the tail; limit 0 means unbounded (open
// span, total size unknown).
func Window(start int64, end *int64, chunkSize int64) (offset, limit int64) {
	offset = (start / chunkSize) * chunkSize
	if end == nil {
		return offset, 0
	}
	length := *end - start + 1
	chunks := (length + chunkSize - 1) / chunkSize
	return offset, (chunks + 1) * chunkSize
}

// Stream cuts an origin session down to the requested span. It drops skip
// leading bytes, truncates cumulative output at length bytes (length < 0
// means unbounded), and re-slices everything to at most outChunk bytes.
// The session is closed as soon as the target length is reached, so a
// mostly-unread origin transfer is cancelled rather than drained.
type Stream struct {
	sess      origin.Session
	skip      int64
	remaining int64 // -1 = unbounded
	outChunk  int

	buf  []byte // unemitted tail of the current origin chunk
	done bool
}

// NewStream wraps sess. skip is the count of leading bytes to discard,
// length the total bytes to emit after skipping (-1 for unbounded), and
// outChunk the maximum size of each emitted slice.
func NewStream(sess origin.Session, skip, length int64, outChunk int) *Stream {
	return &Stream{sess: sess, skip: skip, remaining: length, outChunk: outChunk}
}

// Next returns the next output chunk. It returns io.EOF once the span is
// fully emitted, or when the origin ends early on an unbounded span. An
// origin ending before a bounded span is satisfied yields
// io.ErrUnexpectedEOF. Returned slices are valid until the next call.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		if len(s.buf) == 0 {
			if err := s.fill(ctx); err != nil {
				return nil, err
			}
		}
		// Skip leading bytes of the aligned window, across chunk
		// boundaries when skip exceeds the origin chunk size.
		if s.skip > 0 {
			if int64(len(s.buf)) <= s.skip {
				s.skip -= int64(len(s.buf))
				s.buf = nil
				continue
			}
			s.buf = s.buf[s.skip:]
			s.skip = 0
		}

		out := s.buf
		if s.remaining >= 0 && int64(len(out)) > s.remaining {
			out = out[:s.remaining]
		}
		if len(out) > s.outChunk {
			out = out[:s.outChunk]
		}
		s.buf = s.buf[len(out):]

		if s.remaining >= 0 {
			s.remaining -= int64(len(out))
			if s.remaining == 0 {
				s.finish()
			}
		}
		return out, nil
	}
}

func (s *Stream) fill(ctx context.Context) error {
	chunk, err := s.sess.Next(ctx)
	if err == io.EOF {
		s.finish()
		if s.remaining > 0 {
			return io.ErrUnexpectedEOF
		}
		return io.EOF
	}
	if err != nil {
		s.finish()
		return err
	}
	s.buf = chunk
	return nil
}

func (s *Stream) finish() {
	if !s.done {
		s.done = true
		s.sess.Close()
	}
}

// Close cancels the underlying session. Safe after Next returned io.EOF.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.sess.Close()
}
