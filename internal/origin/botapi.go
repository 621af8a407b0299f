package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// BotAPI reads media through a Bot API endpoint: getFile resolves a stored
// file id to a server path, then the file is fetched over plain HTTP with
// a Range request and cut into fixed-size chunks.
//
// The Bot API cannot re-fetch arbitrary chat messages, so Resolve always
// reports ErrCannotResolve and callers fall back to the stored file id.
type BotAPI struct {
	BaseURL   string
	Token     string
	ChunkSize int64
	HTTP      *http.Client
}

func NewBotAPI(baseURL, token string, chunkSize int64) *BotAPI {
	return &BotAPI{
		BaseURL:   baseURL,
		Token:     token,
		ChunkSize: chunkSize,
		HTTP:      &http.Client{Timeout: 0}, // streaming reads, no client timeout
	}
}

func (c *BotAPI) Resolve(ctx context.Context, chatID, messageID int64) (Locator, error) {
	return Locator{}, ErrCannotResolve
}

type getFileResult struct {
	OK     bool `json:"ok"`
	Result struct {
		FilePath string `json:"file_path"`
		FileSize int64  `json:"file_size"`
	} `json:"result"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *BotAPI) getFile(ctx context.Context, fileID string) (string, error) {
	u := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", c.BaseURL, c.Token, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitedError{RetryAfter: retryAfter(resp)}
	}
	var gf getFileResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&gf); err != nil {
		return "", fmt.Errorf("getFile decode: %w", err)
	}
	if !gf.OK {
		if gf.Parameters.RetryAfter > 0 {
			return "", &RateLimitedError{RetryAfter: time.Duration(gf.Parameters.RetryAfter) * time.Second}
		}
		return "", fmt.Errorf("getFile: %s: %w", gf.Description, ErrUnavailable)
	}
	return gf.Result.FilePath, nil
}

func (c *BotAPI) OpenChunkedDownload(ctx context.Context, loc Locator, offsetBytes, limitBytes int64) (Session, error) {
	path, err := c.getFile(ctx, loc.FileID)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/file/bot%s/%s", c.BaseURL, c.Token, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if offsetBytes > 0 || limitBytes > 0 {
		if limitBytes > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offsetBytes, offsetBytes+limitBytes-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offsetBytes))
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp)}
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("download status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	var src io.Reader = resp.Body
	if resp.StatusCode == http.StatusOK {
		// The file server ignored the Range header and sent the whole
		// file. Skip to the requested offset and cap the window here so
		// the caller still sees the bytes it asked for.
		if offsetBytes > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, offsetBytes); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("skip to offset %d: %w", offsetBytes, ErrUnavailable)
			}
		}
		if limitBytes > 0 {
			src = io.LimitReader(resp.Body, limitBytes)
		}
	}
	return &httpSession{src: src, body: resp.Body, buf: make([]byte, c.ChunkSize)}, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Second
}

// httpSession cuts a response body into ChunkSize slices. The final chunk
// may be short; a fully drained body yields io.EOF. src may wrap body with
// a limit when the server answered 200 to a ranged request.
type httpSession struct {
	src  io.Reader
	body io.ReadCloser
	buf  []byte
}

func (s *httpSession) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := io.ReadFull(s.src, s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return nil, err
}

func (s *httpSession) Close() error {
	return s.body.Close()
}
