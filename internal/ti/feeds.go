// Package ti implements the threat-intelligence correlator: a feed-ingest
// loop with a per-feed parser registry, and a correlation loop that
// matches recent network activity against the IOC store with TTL-based
// suppression of repeat matches.
package ti

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/orion-sentinel/netsec/internal/ioc"
)

// FeedParser converts a feed's raw response body into IOC records. Each
// concrete parser is isolated: one feed's parse failure never affects
// another.
type FeedParser interface {
	Parse(source string, body []byte) ([]ioc.IOC, error)
}

// ParserRegistry is the startup dispatch table mapping a parser name
// (otx, urlhaus, feodo, phishtank) to its implementation.
type ParserRegistry map[string]FeedParser

// DefaultParserRegistry returns the four built-in feed parsers.
func DefaultParserRegistry() ParserRegistry {
	return ParserRegistry{
		"otx":       OTXParser{},
		"urlhaus":   URLHausParser{},
		"feodo":     FeodoParser{},
		"phishtank": PhishTankParser{},
	}
}

// OTXParser parses AlienVault OTX pulse-export JSON: a list of indicators
// with a "type" field among "domain", "IPv4", "URL", "FileHash-MD5",
// "FileHash-SHA1", "FileHash-SHA256", "CVE".
type OTXParser struct{}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"`
	Created   string `json:"created"`
}

type otxResponse struct {
	Indicators []otxIndicator `json:"indicators"`
}

func (OTXParser) Parse(source string, body []byte) ([]ioc.IOC, error) {
	var resp otxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse otx feed: %w", err)
	}

	now := time.Now().UTC()
	out := make([]ioc.IOC, 0, len(resp.Indicators))
	for _, ind := range resp.Indicators {
		typ, ok := otxType(ind.Type)
		if !ok {
			continue
		}
		ts := now
		if t, err := time.Parse(time.RFC3339, ind.Created); err == nil {
			ts = t
		}
		out = append(out, ioc.IOC{
			Value:      ind.Indicator,
			Type:       typ,
			Source:     source,
			FirstSeen:  ts,
			LastSeen:   ts,
			Confidence: 0.7,
			Category:   ioc.CategoryOther,
		})
	}
	return out, nil
}

func otxType(t string) (ioc.Type, bool) {
	switch strings.ToLower(t) {
	case "domain", "hostname":
		return ioc.TypeDomain, true
	case "ipv4", "ipv6":
		return ioc.TypeIP, true
	case "url", "urlfull":
		return ioc.TypeURL, true
	case "filehash-md5":
		return ioc.TypeMD5, true
	case "filehash-sha1":
		return ioc.TypeSHA1, true
	case "filehash-sha256":
		return ioc.TypeSHA256, true
	case "cve":
		return ioc.TypeCVE, true
	default:
		return "", false
	}
}

// URLHausParser parses abuse.ch URLhaus CSV exports:
// id,dateadded,url,url_status,last_online,threat,tags,urlhaus_link,reporter
type URLHausParser struct{}

func (URLHausParser) Parse(source string, body []byte) ([]ioc.IOC, error) {
	r := csv.NewReader(strings.NewReader(stripCSVComments(string(body))))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse urlhaus feed: %w", err)
	}

	now := time.Now().UTC()
	out := make([]ioc.IOC, 0, len(records))
	for _, rec := range records {
		if len(rec) < 6 {
			continue
		}
		url := strings.Trim(rec[2], `"`)
		threat := strings.Trim(rec[5], `"`)
		if url == "" {
			continue
		}
		ts := now
		if t, err := time.Parse("2006-01-02 15:04:05", strings.Trim(rec[1], `"`)); err == nil {
			ts = t
		}
		out = append(out, ioc.IOC{
			Value:      url,
			Type:       ioc.TypeURL,
			Source:     source,
			FirstSeen:  ts,
			LastSeen:   ts,
			Confidence: 0.85,
			Category:   urlhausCategory(threat),
		})
	}
	return out, nil
}

func urlhausCategory(threat string) ioc.Category {
	switch strings.ToLower(threat) {
	case "malware_download":
		return ioc.CategoryMalware
	default:
		return ioc.CategoryOther
	}
}

func stripCSVComments(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "#") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// FeodoParser parses the abuse.ch Feodo Tracker IP blocklist, a plain-text
// list of one IP per line (with "#" comments).
type FeodoParser struct{}

func (FeodoParser) Parse(source string, body []byte) ([]ioc.IOC, error) {
	now := time.Now().UTC()
	var out []ioc.IOC
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, ioc.IOC{
			Value:         line,
			Type:          ioc.TypeIP,
			Source:        source,
			FirstSeen:     now,
			LastSeen:      now,
			Confidence:    0.9,
			Category:      ioc.CategoryC2,
			MalwareFamily: "feodo",
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse feodo feed: %w", err)
	}
	return out, nil
}

// PhishTankParser parses PhishTank's JSON export: a list of
// {url, verified, phish_detail_url, submission_time} objects.
type PhishTankParser struct{}

type phishTankEntry struct {
	URL             string `json:"url"`
	Verified        string `json:"verified"`
	SubmissionTime  string `json:"submission_time"`
}

func (PhishTankParser) Parse(source string, body []byte) ([]ioc.IOC, error) {
	var entries []phishTankEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse phishtank feed: %w", err)
	}

	now := time.Now().UTC()
	out := make([]ioc.IOC, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		ts := now
		if t, err := time.Parse(time.RFC3339, e.SubmissionTime); err == nil {
			ts = t
		}
		confidence := 0.6
		if strings.EqualFold(e.Verified, "yes") {
			confidence = 0.95
		}
		out = append(out, ioc.IOC{
			Value:      e.URL,
			Type:       ioc.TypeURL,
			Source:     source,
			FirstSeen:  ts,
			LastSeen:   ts,
			Confidence: confidence,
			Category:   ioc.CategoryPhishing,
		})
	}
	return out, nil
}

// Fetcher performs the HTTP GET for a feed, behind a token-bucket limiter
// so a misconfigured set of many enabled feeds cannot burst-hammer
// external threat-intel providers.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher constructs a Fetcher with a 120s default per-request timeout
// and a conservative 1 req/s, burst-2 rate limit across all feeds.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 2),
	}
}

// Fetch retrieves the feed body at url, waiting on the rate limiter first.
func (f *Fetcher) Fetch(ctx context.Context, url, apiKey string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("feed fetch: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed fetch: unexpected status %s", strconv.Itoa(resp.StatusCode))
	}

	return io.ReadAll(resp.Body)
}
