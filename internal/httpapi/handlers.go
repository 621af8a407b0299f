package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamgate/internal/middleware"
	"streamgate/internal/origin"
	"streamgate/internal/rangeplan"
	"streamgate/internal/store"
	"streamgate/internal/stream"
)

// Server owns the HTTP surface. Backend names the active store flavor for
// the stats endpoint.
type Server struct {
	Streams         *stream.Orchestrator
	Store           store.Store
	Backend         string
	OriginChunkSize int64
	OutputChunkSize int64
	HistoryLimit    int64
}

type statsResp struct {
	UptimeSeconds   int64 `json:"uptimeSeconds"`
	Backend         string `json:"backend"`
	OriginChunkSize int64 `json:"originChunkSize"`
	OutputChunkSize int64 `json:"outputChunkSize"`
	HistoryLimit    int64 `json:"historyLimit"`
	Sections        int   `json:"sections"`
	RecentTokens    int   `json:"recentTokens"`
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	middleware.EnableCORS(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	middleware.EnableCORS(w)

	resp := statsResp{
		UptimeSeconds:   int64(time.Since(startTime()).Seconds()),
		Backend:         s.Backend,
		OriginChunkSize: s.OriginChunkSize,
		OutputChunkSize: s.OutputChunkSize,
		HistoryLimit:    s.HistoryLimit,
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if secs, err := s.Store.Sections(ctx); err == nil {
		resp.Sections = len(secs)
	}
	if recent, err := s.Store.ListRecent(ctx, 0); err == nil {
		resp.RecentTokens = len(recent)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	middleware.EnableCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/stream/")
	if token == "" || strings.Contains(token, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	sid := uuid.NewString()[:8]
	rangeHeader := r.Header.Get("Range")

	res, err := s.Streams.Open(r.Context(), token, rangeHeader)
	if err != nil {
		s.writeStreamError(w, r, token, sid, rangeHeader, err)
		return
	}
	defer res.Body.Close()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	if res.Ref.FileName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", res.Ref.FileName))
	}
	if res.ContentRange != "" {
		w.Header().Set("Content-Range", res.ContentRange)
	}
	if res.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.WriteHeader(res.Status)

	if r.Method == http.MethodHead {
		return
	}

	total, unique, verr := s.Store.IncrementView(r.Context(), token, clientFingerprint(r))
	if verr != nil {
		log.Printf("[stream] sid=%s view count failed: %v", sid, verr)
	}
	log.Printf("[stream] sid=%s open token=%s range=%q status=%d views=%d/%d",
		sid, token, rangeHeader, res.Status, total, unique)

	rc := http.NewResponseController(w)
	var written int64
	progressEvery := 2 * time.Second
	var lastProg time.Time

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		chunk, nerr := res.Body.Next(r.Context())
		if nerr != nil {
			if errors.Is(nerr, io.EOF) {
				break
			}
			if errors.Is(nerr, io.ErrUnexpectedEOF) {
				log.Printf("[stream] sid=%s origin ended early after %d bytes", sid, written)
				break
			}
			if clientGone(nerr) {
				return
			}
			log.Printf("[stream] sid=%s origin read error: %v", sid, nerr)
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if _, werr := w.Write(chunk); werr != nil {
			if clientGone(werr) {
				return
			}
			log.Printf("[stream] sid=%s client write error: %v", sid, werr)
			return
		}
		if ferr := rc.Flush(); ferr != nil {
			return
		}
		written += int64(len(chunk))
		if time.Since(lastProg) >= progressEvery {
			lastProg = time.Now()
			if res.ContentLength > 0 {
				pct := float64(written) / float64(res.ContentLength) * 100
				log.Printf("[stream] sid=%s progress %0.1f%% (%d/%d)", sid, pct, written, res.ContentLength)
			} else {
				log.Printf("[stream] sid=%s progress %d bytes", sid, written)
			}
		}
	}
	log.Printf("[stream] sid=%s done token=%s len=%d", sid, token, written)
}

func (s *Server) writeStreamError(w http.ResponseWriter, r *http.Request, token, sid, rangeHeader string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "unknown or expired token", http.StatusNotFound)
	case errors.Is(err, rangeplan.ErrNotSatisfiable):
		if ref, ok, gerr := s.Store.Get(r.Context(), token); gerr == nil && ok && ref.FileSize != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", *ref.FileSize))
		}
		http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)
	default:
		var rl *origin.RateLimitedError
		if errors.As(err, &rl) {
			secs := int(rl.RetryAfter / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "origin rate limited", http.StatusServiceUnavailable)
			break
		}
		if errors.Is(err, origin.ErrUnavailable) {
			http.Error(w, "origin unavailable", http.StatusBadGateway)
			break
		}
		log.Printf("[stream] sid=%s open failed range=%q: %v", sid, rangeHeader, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// ===== helpers =====

var startAt = time.Now()

func startTime() time.Time { return startAt }

func clientFingerprint(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	s := err.Error()
	if strings.Contains(s, "broken pipe") || strings.Contains(s, "reset by peer") {
		return true
	}
	var op *net.OpError
	if errors.As(err, &op) {
		return op.Op == "write" || op.Op == "read"
	}
	return false
}
