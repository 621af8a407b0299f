package store

import "testing"

func TestNormalizeSectionName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Movies", "movies"},
		{"  movies ", "movies"},
		{"Sci  Fi \t Shows", "sci fi shows"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeSectionName(tc.in); got != tc.want {
			t.Errorf("NormalizeSectionName(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"movies", "movies"},
		{"sci fi shows", "sci-fi-shows"},
		{"top 10!", "top-10"},
		{"***", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestPayTransitions(t *testing.T) {
	allowed := []struct{ from, to PayStatus }{
		{PayPending, PaySubmitted},
		{PayPending, PayApproved},
		{PayPending, PayRejected},
		{PayPending, PayCancelled},
		{PaySubmitted, PayApproved},
		{PaySubmitted, PayRejected},
		{PaySubmitted, PayCancelled},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to PayStatus }{
		{PaySubmitted, PayPending},
		{PaySubmitted, PaySubmitted},
		{PayApproved, PayRejected},
		{PayApproved, PayApproved},
		{PayRejected, PayApproved},
		{PayCancelled, PaySubmitted},
	}
	for _, tc := range denied {
		if canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestUniqueTokens(t *testing.T) {
	cases := []struct {
		in, want []string
	}{
		{nil, nil},
		{[]string{"a"}, []string{"a"}},
		{[]string{"a", "b", "a", "c", "b"}, []string{"a", "b", "c"}},
		{[]string{"a", "a", "a"}, []string{"a"}},
	}
	for _, tc := range cases {
		got := uniqueTokens(append([]string(nil), tc.in...))
		if len(got) != len(tc.want) {
			t.Fatalf("uniqueTokens(%v)=%v want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("uniqueTokens(%v)=%v want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	if a == b {
		t.Fatal("tokens collide")
	}
	if len(a) != 32 { // 24 bytes, base64url, no padding
		t.Fatalf("token length %d", len(a))
	}
}
