package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StatusError is returned when a collaborator answers outside 2xx.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("POST %s returned %d: %s", e.URL, e.Code, e.Body)
}

// boundedTimeout is the smaller of def and the time left on ctx.
func boundedTimeout(ctx context.Context, def time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < def {
			if left <= 0 {
				return 0, context.DeadlineExceeded
			}
			return left, nil
		}
	}
	return def, nil
}

// postJSON sends in as JSON and decodes a 2xx response into out (if non-nil).
func postJSON(ctx context.Context, url string, timeout time.Duration, headers map[string]string, in, out any) error {
	d, err := boundedTimeout(ctx, timeout)
	if err != nil {
		return err
	}

	agent := fiber.Post(url)
	for k, v := range headers {
		agent.Set(k, v)
	}
	agent.JSON(in).Timeout(d)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("POST %s: %w", url, errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return &StatusError{URL: url, Code: code, Body: msg}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", url, err)
	}
	return nil
}

func trimBase(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
