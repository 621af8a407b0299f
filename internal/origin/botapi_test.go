package origin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newBotAPIServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			if r.URL.Query().Get("file_id") == "limited" {
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":4}}`)
				return
			}
			fmt.Fprintf(w, `{"ok":true,"result":{"file_path":"videos/file_1.mp4","file_size":%d}}`, len(data))
		case strings.Contains(r.URL.Path, "/file/"):
			start, end := int64(0), int64(len(data))-1
			if rh := r.Header.Get("Range"); rh != "" {
				spec := strings.TrimPrefix(rh, "bytes=")
				s, e, _ := strings.Cut(spec, "-")
				start, _ = strconv.ParseInt(s, 10, 64)
				if e != "" {
					end, _ = strconv.ParseInt(e, 10, 64)
				}
				if end >= int64(len(data)) {
					end = int64(len(data)) - 1
				}
				w.WriteHeader(http.StatusPartialContent)
			}
			_, _ = w.Write(data[start : end+1])
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestBotAPIResolve(t *testing.T) {
	c := NewBotAPI("http://unused", "tok", 512)
	if _, err := c.Resolve(context.Background(), 1, 2); !errors.Is(err, ErrCannotResolve) {
		t.Fatalf("err=%v", err)
	}
}

func TestBotAPIDownload(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	srv := newBotAPIServer(t, data)
	defer srv.Close()

	c := NewBotAPI(srv.URL, "tok", 300)
	sess, err := c.OpenChunkedDownload(context.Background(), Locator{FileID: "abc"}, 300, 600)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	var out bytes.Buffer
	for {
		chunk, err := sess.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) > 300 {
			t.Fatalf("chunk %d exceeds chunk size", len(chunk))
		}
		out.Write(chunk)
	}
	if !bytes.Equal(out.Bytes(), data[300:900]) {
		t.Fatalf("got %d bytes", out.Len())
	}
}

func TestBotAPIDownloadRangeIgnored(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	// A server that always answers 200 with the full body, whatever
	// Range header was sent.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			fmt.Fprintf(w, `{"ok":true,"result":{"file_path":"videos/file_1.mp4","file_size":%d}}`, len(data))
		case strings.Contains(r.URL.Path, "/file/"):
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewBotAPI(srv.URL, "tok", 300)
	sess, err := c.OpenChunkedDownload(context.Background(), Locator{FileID: "abc"}, 300, 600)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	var out bytes.Buffer
	for {
		chunk, err := sess.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		out.Write(chunk)
	}
	if !bytes.Equal(out.Bytes(), data[300:900]) {
		t.Fatalf("got %d bytes, want data[300:900]", out.Len())
	}
}

func TestBotAPIRateLimited(t *testing.T) {
	srv := newBotAPIServer(t, nil)
	defer srv.Close()

	c := NewBotAPI(srv.URL, "tok", 300)
	_, err := c.OpenChunkedDownload(context.Background(), Locator{FileID: "limited"}, 0, 0)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err=%v", err)
	}
	if rl.RetryAfter != 4*time.Second {
		t.Fatalf("retry after %s", rl.RetryAfter)
	}
}
