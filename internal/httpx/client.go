package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/version"
	"github.com/rs/zerolog"
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	log        zerolog.Logger
	// final marks error responses that must not be retried.
	final func(*StatusError) bool
}

// StatusError carries the body of a non-2xx response so callers can decode
// provider-specific error payloads.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := bytes.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  version.CLIName + "/" + version.CLIVersion,
		log:        zerolog.Nop(),
	}
}

// WithLogger returns a copy of the client that logs retries to l.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	cp := *c
	cp.log = l
	return &cp
}

// WithFinal returns a copy of the client that returns a 5xx response at once
// when final reports true for it.
func (c *Client) WithFinal(final func(*StatusError) bool) *Client {
	cp := *c
	cp.final = final
	return &cp
}

// Retries is the number of extra attempts made for transient failures.
func (c *Client) Retries() int { return c.retries }

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.Debug().Int("attempt", attempt).Str("url", req.URL.Redacted()).Err(lastErr).Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			}
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = clierr.New(clierr.CodeRateLimited, "remote rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, clierr.Wrap(clierr.CodeAuth, "remote authentication failed", &StatusError{StatusCode: resp.StatusCode, Body: buf})
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: buf}
			lastErr = clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("remote unavailable (status %d)", resp.StatusCode), statusErr)
			if attempt < c.retries && (c.final == nil || !c.final(statusErr)) {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, clierr.Wrap(clierr.CodeUnsupported, fmt.Sprintf("remote returned unexpected status %d", resp.StatusCode), &StatusError{StatusCode: resp.StatusCode, Body: buf})
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, clierr.New(clierr.CodeUnavailable, "remote returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "decode response JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// PostJSON marshals in and decodes the response into out.
func PostJSON(ctx context.Context, c *Client, url string, in, out any) (http.Header, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode request JSON", err)
	}
	return DoBodyJSON(ctx, c, http.MethodPost, url, body, nil, out)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeUnavailable, "remote timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, "remote request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
