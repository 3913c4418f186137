package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/llmcore/chat"
)

const maxErrorBody = 4 << 10

// classifyError wraps a failed exchange. When ctx is done the error is the
// caller's (or the attempt's) cancellation and is returned unchanged.
func classifyError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	timeout := errors.As(err, &netErr) && netErr.Timeout()
	return &NetworkError{Op: op, Err: err, Timeout: timeout}
}

// parseRetryAfter reads retry-after-ms, then Retry-After as delay-seconds
// or an HTTP-date. Past dates and negative values yield zero.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("Retry-After-Ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil {
			return nonNegative(time.Duration(ms * float64(time.Millisecond))), true
		}
	}

	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return nonNegative(time.Duration(secs * float64(time.Second))), true
	}
	if t, err := http.ParseTime(v); err == nil {
		return nonNegative(t.Sub(now)), true
	}
	return 0, false
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// decodeAPIError extracts {"error":{...}} from an error body.
func decodeAPIError(body []byte) *chat.APIError {
	var wrapped struct {
		Error *chat.APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Error == nil {
		return nil
	}
	return wrapped.Error
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
