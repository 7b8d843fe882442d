// Package httpjson sends JSON requests and maps transport and status
// failures onto domain error kinds.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ragterm/internal/domain"
)

const maxErrorBody = 4 << 10

// StatusError is returned for responses with a status code >= 300.
type StatusError struct {
	Code       int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "http " + e.Status
	}
	return fmt.Sprintf("http %s: %s", e.Status, e.Body)
}

// Client wraps an *http.Client with fixed headers.
type Client struct {
	HTTP    *http.Client
	Headers map[string]string
}

// New creates a client. The per-request bound comes from ctx.
func New(headers map[string]string) *Client {
	return &Client{HTTP: &http.Client{}, Headers: headers}
}

// Do sends in as the JSON body (nil for none) and decodes the response into out (nil to discard).
func (c *Client) Do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Code:       resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ParseRetryAfter accepts delay-seconds or an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify maps a failed call onto the error taxonomy of the given stage.
// kind must be KindEmbedding, KindGeneration or KindStoreUnavailable.
func Classify(kind domain.Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return domain.Cancelled(op, err)
	}

	var se *StatusError
	isStatus := errors.As(err, &se)
	timeout := !isStatus && IsTimeout(err)

	switch kind {
	case domain.KindStoreUnavailable:
		if isStatus && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return domain.NewError(domain.KindStoreRejected, "", op, "request rejected", err)
		}
		out := domain.NewError(domain.KindStoreUnavailable, "", op, "vector store unreachable", err)
		if isStatus {
			out.RetryAfter = se.RetryAfter
		}
		return out

	case domain.KindGeneration:
		switch {
		case timeout:
			return domain.NewError(kind, domain.ReasonTimeout, op, "generation timed out", err)
		case isStatus && se.Code == http.StatusTooManyRequests:
			e := domain.NewError(kind, domain.ReasonRateLimited, op, "rate limited", err)
			e.RetryAfter = se.RetryAfter
			return e
		case isStatus && se.Code >= 500:
			return domain.NewError(kind, domain.ReasonUnreachable, op, "generation service failed", err)
		case isStatus:
			return domain.NewError(kind, domain.ReasonRemoteRejected, op, "request rejected", err)
		default:
			return domain.NewError(kind, domain.ReasonUnreachable, op, "generation service unreachable", err)
		}

	default:
		switch {
		case isStatus && se.Code == http.StatusTooManyRequests:
			e := domain.NewError(domain.KindEmbedding, domain.ReasonRateLimited, op, "rate limited", err)
			e.RetryAfter = se.RetryAfter
			return e
		case isStatus && se.Code >= 500:
			return domain.NewError(domain.KindEmbedding, domain.ReasonTransient, op, "embedding service failed", err)
		case isStatus:
			return domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, "request rejected", err)
		case timeout:
			return domain.NewError(domain.KindEmbedding, domain.ReasonTimeout, op, "embedding timed out", err)
		default:
			return domain.NewError(domain.KindEmbedding, domain.ReasonTransient, op, "embedding service unreachable", err)
		}
	}
}
