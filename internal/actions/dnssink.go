package actions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/resilience"
)

// DNSSinkClient talks to the DNS-sink admin API: a single form-encoded
// POST endpoint taking list/add/remove/auth parameters.
type DNSSinkClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// NewDNSSinkClient constructs a DNSSinkClient.
func NewDNSSinkClient(baseURL, authToken string, timeout time.Duration, log *logging.Logger) *DNSSinkClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DNSSinkClient{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    resilience.New(resilience.DefaultConfig("dns-sink"), log),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// AddToBlacklist adds domain to the sink's black list.
func (c *DNSSinkClient) AddToBlacklist(ctx context.Context, domain string) error {
	return c.post(ctx, url.Values{"list": {"black"}, "add": {domain}, "auth": {c.authToken}})
}

// RemoveFromBlacklist removes domain from the sink's black list.
func (c *DNSSinkClient) RemoveFromBlacklist(ctx context.Context, domain string) error {
	return c.post(ctx, url.Values{"list": {"black"}, "remove": {domain}, "auth": {c.authToken}})
}

func (c *DNSSinkClient) post(ctx context.Context, form url.Values) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return errs.Wrap("build dns-sink request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("%w: dns-sink status %d", errs.ErrRejected, resp.StatusCode)
		default:
			return fmt.Errorf("%w: dns-sink status %d", errs.ErrUnavailable, resp.StatusCode)
		}
	}

	return c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			err := op()
			if err != nil && errs.IsRejected(err) {
				return backoff.Permanent(err)
			}
			return err
		})
	})
}
