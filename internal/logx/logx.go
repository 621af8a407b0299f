package logx

import (
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Writer is a combined filter + de-dup writer for stdlib log output.
// - allowPattern (optional): if set, only lines matching it pass
// - denyPattern  (optional): lines matching it are dropped
// - window: identical lines repeated within the window are dropped
type Writer struct {
	dst         io.Writer
	allow, deny *regexp.Regexp
	window      time.Duration
	mu          sync.Mutex
	lastSeen    map[string]time.Time
	lastPrune   time.Time
}

func New(dst io.Writer, window time.Duration, allowPattern, denyPattern string) *Writer {
	var allowRE, denyRE *regexp.Regexp
	if strings.TrimSpace(allowPattern) != "" {
		if re, err := regexp.Compile(allowPattern); err == nil {
			allowRE = re
		} // else: fail-soft, an unfilterable logger beats a dead one
	}
	if strings.TrimSpace(denyPattern) != "" {
		if re, err := regexp.Compile(denyPattern); err == nil {
			denyRE = re
		}
	}
	return &Writer{dst: dst, allow: allowRE, deny: denyRE, window: window, lastSeen: make(map[string]time.Time)}
}

func (w *Writer) Write(p []byte) (int, error) {
	line := string(p)

	if w.deny != nil && w.deny.MatchString(line) {
		return len(p), nil
	}
	if w.allow != nil && !w.allow.MatchString(line) {
		return len(p), nil
	}
	if w.window <= 0 {
		return w.dst.Write(p)
	}

	key := strings.TrimRight(line, "\r\n")

	now := time.Now()
	w.mu.Lock()
	last, seen := w.lastSeen[key]
	if seen && now.Sub(last) < w.window {
		w.mu.Unlock()
		return len(p), nil // duplicate within window
	}
	w.lastSeen[key] = now
	w.pruneLocked(now)
	w.mu.Unlock()

	return w.dst.Write(p)
}

// pruneLocked drops stale de-dup entries so the map stays bounded on
// long-running processes with high-cardinality lines.
func (w *Writer) pruneLocked(now time.Time) {
	if now.Sub(w.lastPrune) < 10*w.window {
		return
	}
	w.lastPrune = now
	for k, at := range w.lastSeen {
		if now.Sub(at) >= w.window {
			delete(w.lastSeen, k)
		}
	}
}
