package rangeplan

import "testing"

func ptr(v int64) *int64 { return &v }

func TestPlan(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		size    *int64
		start   int64
		end     *int64
		wantErr bool
	}{
		{name: "empty header known size", header: "", size: ptr(1000), start: 0, end: nil},
		{name: "empty header unknown size", header: "", size: nil, start: 0, end: nil},
		{name: "closed range", header: "bytes=0-499", size: ptr(1000), start: 0, end: ptr(499)},
		{name: "open range", header: "bytes=500-", size: ptr(1000), start: 500, end: ptr(999)},
		{name: "end clamped", header: "bytes=900-5000", size: ptr(1000), start: 900, end: ptr(999)},
		{name: "suffix", header: "bytes=-200", size: ptr(1000), start: 800, end: ptr(999)},
		{name: "suffix larger than size", header: "bytes=-5000", size: ptr(1000), start: 0, end: ptr(999)},
		{name: "case and whitespace", header: "  BYTES=0-1 ", size: ptr(10), start: 0, end: ptr(1)},
		{name: "unknown size passthrough closed", header: "bytes=10-19", size: nil, start: 10, end: ptr(19)},
		{name: "unknown size passthrough open", header: "bytes=10-", size: nil, start: 10, end: nil},
		{name: "start at size", header: "bytes=1000-", size: ptr(1000), wantErr: true},
		{name: "start past size", header: "bytes=2000-2100", size: ptr(1000), wantErr: true},
		{name: "missing prefix", header: "items=0-10", size: ptr(1000), wantErr: true},
		{name: "no dash", header: "bytes=100", size: ptr(1000), wantErr: true},
		{name: "end before start", header: "bytes=500-400", size: ptr(1000), wantErr: true},
		{name: "negative start", header: "bytes=-5-10", size: ptr(1000), wantErr: true},
		{name: "suffix zero", header: "bytes=-0", size: ptr(1000), wantErr: true},
		{name: "suffix unknown size", header: "bytes=-200", size: nil, wantErr: true},
		{name: "suffix garbage", header: "bytes=-abc", size: ptr(1000), wantErr: true},
		{name: "garbage start", header: "bytes=abc-", size: ptr(1000), wantErr: true},
		{name: "garbage end", header: "bytes=0-abc", size: ptr(1000), wantErr: true},
		{name: "multi range", header: "bytes=0-1,5-6", size: ptr(1000), wantErr: true},
		{name: "bare dash", header: "bytes=-", size: ptr(1000), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			span, err := Plan(tc.header, tc.size)
			if tc.wantErr {
				if err != ErrNotSatisfiable {
					t.Fatalf("Plan(%q) err=%v, want ErrNotSatisfiable", tc.header, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Plan(%q) unexpected error: %v", tc.header, err)
			}
			if span.Start != tc.start {
				t.Errorf("start=%d want %d", span.Start, tc.start)
			}
			switch {
			case tc.end == nil && span.End != nil:
				t.Errorf("end=%d want open", *span.End)
			case tc.end != nil && span.End == nil:
				t.Errorf("end open, want %d", *tc.end)
			case tc.end != nil && *span.End != *tc.end:
				t.Errorf("end=%d want %d", *span.End, *tc.end)
			}
		})
	}
}

func TestSpanLength(t *testing.T) {
	if got := (Span{Start: 500, End: ptr(999)}).Length(); got != 500 {
		t.Fatalf("Length=%d want 500", got)
	}
	if got := (Span{Start: 500}).Length(); got != -1 {
		t.Fatalf("open Length=%d want -1", got)
	}
}
