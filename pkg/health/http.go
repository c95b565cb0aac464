package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes the workflow service's REST API. Unlike a generic
// container healthcheck, which tolerates an arbitrary method, header set,
// and a wide 2xx-3xx success range, this checker only ever targets one kind
// of endpoint: a GET against /wfs/rest/*, which replies with JSON or not at
// all. A redirect here means the LCM is pointing at something other than
// the workflow service (a misconfigured proxy, a maintenance page), so it
// is treated as unhealthy rather than tolerated.
type HTTPChecker struct {
	// URL is the full HTTP URL to probe (e.g. "http://lcm-host/wfs/rest/definitions").
	URL string

	// Client is the HTTP client used for the probe.
	Client *http.Client
}

// NewHTTPChecker creates an HTTP health checker for a workflow-service URL.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Check performs a GET against URL and reports the probe's outcome.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected 2xx from the workflow service)", message)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithTimeout sets the HTTP client timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
