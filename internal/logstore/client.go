// Package logstore is a thin client for the external append-only log
// store, exposing push/query/tail with batch-size capping,
// retry/circuit-breaking, and the error taxonomy from
// internal/platform/errs.
package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/resilience"
)

// Record is one (timestamp, labels, line) tuple returned by Query.
type Record struct {
	Timestamp time.Time
	Labels    map[string]string
	Line      []byte
}

// Client talks to the external log store over HTTP.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
	retry        resilience.RetryConfig
	batchCapByte int64
	log          *logging.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	PushTimeout    time.Duration
	QueryTimeout   time.Duration
	BatchCapBytes  int64
	Logger         *logging.Logger
}

// New constructs a log-store Client.
func New(cfg Config) *Client {
	if cfg.BatchCapBytes <= 0 {
		cfg.BatchCapBytes = 1 << 20
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{Timeout: cfg.PushTimeout + cfg.QueryTimeout},
		breaker:      resilience.New(resilience.DefaultConfig("logstore"), cfg.Logger),
		retry:        resilience.DefaultRetryConfig(),
		batchCapByte: cfg.BatchCapBytes,
		log:          cfg.Logger,
	}
}

// Push atomically appends one or more lines under labels. Larger batches
// are split to respect the per-push byte cap, with ordering preserved.
func (c *Client) Push(ctx context.Context, labels map[string]string, lines [][]byte) error {
	batches := splitBatches(lines, c.batchCapByte)
	for _, batch := range batches {
		if err := c.pushBatch(ctx, labels, batch); err != nil {
			return err
		}
	}
	return nil
}

func splitBatches(lines [][]byte, capBytes int64) [][][]byte {
	if len(lines) == 0 {
		return nil
	}
	var batches [][][]byte
	var cur [][]byte
	var size int64
	for _, l := range lines {
		if size+int64(len(l)) > capBytes && len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, l)
		size += int64(len(l))
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func (c *Client) pushBatch(ctx context.Context, labels map[string]string, lines [][]byte) error {
	values := make([][2]string, 0, len(lines))
	now := time.Now()
	for _, l := range lines {
		values = append(values, [2]string{strconv.FormatInt(now.UnixNano(), 10), string(l)})
	}

	body := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string        `json:"values"`
		} `json:"streams"`
	}{}
	body.Streams = append(body.Streams, struct {
		Stream map[string]string `json:"stream"`
		Values [][2]string        `json:"values"`
	}{Stream: labels, Values: values})

	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap("marshal push body", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
		if err != nil {
			return errs.Wrap("build push request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("%w: status %d", errs.ErrRejected, resp.StatusCode)
		default:
			return fmt.Errorf("%w: status %d", errs.ErrUnavailable, resp.StatusCode)
		}
	}

	return c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			err := op()
			if err != nil && isRejected(err) {
				return backoff.Permanent(err)
			}
			return err
		})
	})
}

func isRejected(err error) bool {
	return errors.Is(err, errs.ErrRejected)
}

// queryResponse mirrors the external log store's range-query response
// shape: a flat list of result rows, newest first.
type queryResponse struct {
	Results []struct {
		TimestampNanos int64             `json:"timestamp_nanos"`
		Labels         map[string]string `json:"labels"`
		Line           string            `json:"line"`
	} `json:"results"`
}

// Query performs a range query over [start, end] with the given selector,
// returning up to limit records, newest first. A failed query returns no
// records; results are not returned partially.
func (c *Client) Query(ctx context.Context, selector string, start, end time.Time, limit int) ([]Record, error) {
	var out []Record
	err := c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			records, qerr := c.doQuery(ctx, selector, start, end, limit)
			if qerr != nil {
				return qerr
			}
			out = records
			return nil
		})
	})
	return out, err
}

func (c *Client) doQuery(ctx context.Context, selector string, start, end time.Time, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("query", selector)
	q.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	q.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/loki/api/v1/query_range?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.Wrap("build query request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d", errs.ErrRejected, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", errs.ErrUnavailable, resp.StatusCode)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("%w: decode query response: %v", errs.ErrUnavailable, err)
	}

	out := make([]Record, 0, len(qr.Results))
	for _, r := range qr.Results {
		out = append(out, Record{
			Timestamp: time.Unix(0, r.TimestampNanos).UTC(),
			Labels:    r.Labels,
			Line:      []byte(r.Line),
		})
	}
	return out, nil
}

// Tail polls Query on interval and delivers new records to the returned
// channel until ctx is canceled. The log store is not required to support
// a push-based subscription, so polling stands in for one.
func (c *Client) Tail(ctx context.Context, selector string, interval time.Duration) <-chan Record {
	ch := make(chan Record, 64)
	go func() {
		defer close(ch)
		last := time.Now()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				records, err := c.Query(ctx, selector, last, now, 1000)
				if err != nil {
					if c.log != nil {
						c.log.WithError(err).Warn("tail query failed")
					}
					continue
				}
				for i := len(records) - 1; i >= 0; i-- {
					select {
					case ch <- records[i]:
					case <-ctx.Done():
						return
					}
				}
				last = now
			}
		}
	}()
	return ch
}
