package ti

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/eve"
	"github.com/orion-sentinel/netsec/internal/ioc"
	"github.com/orion-sentinel/netsec/internal/logstore"
	"github.com/orion-sentinel/netsec/internal/platform/cache"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/metrics"
	"github.com/orion-sentinel/netsec/internal/scorer"
)

// FeedSource describes one configured threat-intel feed.
type FeedSource struct {
	Name    string
	Enabled bool
	URL     string
	APIKey  string
	Parser  string
}

// Querier is the subset of logstore.Client the correlator needs.
type Querier interface {
	Query(ctx context.Context, selector string, start, end time.Time, limit int) ([]logstore.Record, error)
}

// Config controls cadence, lookback, and retention for both loops.
type Config struct {
	FeedIngestInterval  time.Duration
	CorrelationInterval time.Duration
	CorrelationLookback time.Duration
	IOCRetention        time.Duration
	SuppressionWindow   time.Duration
	DNSSelector         string
	FlowSelector        string
	AlertSelector       string
	QueryLimit          int
	Feeds               []FeedSource
	DomainRiskThreshold float64
}

// DefaultConfig returns the production defaults: six-hourly ingest,
// five-minute correlation, 90-day retention, and a one-hour suppression
// window.
func DefaultConfig() Config {
	return Config{
		FeedIngestInterval:  6 * time.Hour,
		CorrelationInterval: 5 * time.Minute,
		CorrelationLookback: 5 * time.Minute,
		IOCRetention:        90 * 24 * time.Hour,
		SuppressionWindow:   time.Hour,
		DNSSelector:         `{app="ids",event_type="dns"}`,
		FlowSelector:        `{app="ids",event_type="flow"}`,
		AlertSelector:       `{app="ids",event_type="alert"}`,
		QueryLimit:          10000,
		DomainRiskThreshold: 0.5,
	}
}

// Correlator runs the feed-ingest and correlation loops.
type Correlator struct {
	cfg          Config
	parsers      ParserRegistry
	fetcher      *Fetcher
	store        *ioc.Store
	querier      Querier
	devices      *device.Store
	emitter      *event.Emitter
	domainScorer scorer.DomainRiskScorer
	suppress     cache.Store
	metrics      *metrics.Metrics
	log          *logging.Logger
	ingestHealth *event.HealthTracker
	correlHealth *event.HealthTracker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Correlator. domainScorer may be nil, in which case the
// domain-risk detection pass is skipped entirely.
func New(cfg Config, parsers ParserRegistry, fetcher *Fetcher, store *ioc.Store, querier Querier, devices *device.Store, emitter *event.Emitter, domainScorer scorer.DomainRiskScorer, m *metrics.Metrics, log *logging.Logger) *Correlator {
	return &Correlator{
		cfg:          cfg,
		parsers:      parsers,
		fetcher:      fetcher,
		store:        store,
		querier:      querier,
		devices:      devices,
		emitter:      emitter,
		domainScorer: domainScorer,
		suppress:     cache.New(cache.Config{DefaultTTL: cfg.SuppressionWindow, CleanupInterval: time.Minute}),
		metrics:      m,
		log:          log,
		ingestHealth: event.NewHealthTracker("ti-feed-ingest", emitter),
		correlHealth: event.NewHealthTracker("ti-correlator", emitter),
	}
}

// SetSuppressionStore overrides the default in-memory suppression window
// with store (a RedisCache, typically), closing the previous store first.
// Call before Start.
func (c *Correlator) SetSuppressionStore(store cache.Store) {
	if c.suppress != nil {
		c.suppress.Close()
	}
	c.suppress = store
}

// Name implements lifecycle.Service. The correlator runs both loops under
// one service; each loop has its own internal ticker.
func (c *Correlator) Name() string { return "ti-correlator" }

// Start implements lifecycle.Service.
func (c *Correlator) Start(ctx context.Context) error {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runLoop(ctx, c.cfg.FeedIngestInterval, func() {
			if err := c.IngestTick(ctx); err != nil {
				if c.log != nil {
					c.log.WithError(err).Warn("feed ingest tick failed")
				}
				c.ingestHealth.ReportFailure(err.Error())
			} else {
				c.ingestHealth.ReportSuccess()
			}
		})
	}()
	go func() {
		defer wg.Done()
		c.runLoop(ctx, c.cfg.CorrelationInterval, func() {
			if err := c.CorrelationTick(ctx); err != nil {
				if c.log != nil {
					c.log.WithError(err).Warn("correlation tick failed")
				}
				c.correlHealth.ReportFailure(err.Error())
			} else {
				c.correlHealth.ReportSuccess()
			}
		})
	}()

	go func() {
		wg.Wait()
		close(c.doneCh)
	}()
	return nil
}

func (c *Correlator) runLoop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop implements lifecycle.Service.
func (c *Correlator) Stop(context.Context) error {
	if c.stopCh == nil {
		return nil
	}
	close(c.stopCh)
	<-c.doneCh
	c.suppress.Close()
	return nil
}

// IngestTick fetches, parses, and upserts every enabled feed. Fetches run
// in parallel; a single feed's failure is isolated. Retention purge runs
// after ingest completes.
func (c *Correlator) IngestTick(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, feed := range c.cfg.Feeds {
		if !feed.Enabled {
			continue
		}
		feed := feed
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.ingestOne(ctx, feed); err != nil {
				if c.metrics != nil {
					c.metrics.FeedFetchErrors.WithLabelValues(feed.Name).Inc()
				}
				if c.log != nil {
					c.log.WithError(err).WithField("feed", feed.Name).Warn("feed ingest failed")
				}
			}
		}()
	}
	wg.Wait()

	if _, err := c.store.PurgeOlderThan(c.cfg.IOCRetention); err != nil && c.log != nil {
		c.log.WithError(err).Warn("ioc retention purge failed")
	}
	return nil
}

func (c *Correlator) ingestOne(ctx context.Context, feed FeedSource) error {
	parser, ok := c.parsers[feed.Parser]
	if !ok {
		return fmt.Errorf("no parser registered for %q", feed.Parser)
	}

	body, err := c.fetcher.Fetch(ctx, feed.URL, feed.APIKey)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", feed.Name, err)
	}

	iocs, err := parser.Parse(feed.Name, body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", feed.Name, err)
	}

	return c.store.UpsertBatch(iocs)
}

// candidate is an extracted domain/IP worth testing against the IOC Store.
type candidate struct {
	value    string
	typ      ioc.Type
	srcIP    string
}

// CorrelationTick queries recent DNS/flow records, tests candidates against
// the IOC store, and emits deduplicated intel_match events.
func (c *Correlator) CorrelationTick(ctx context.Context) error {
	now := time.Now().UTC()
	start := now.Add(-c.cfg.CorrelationLookback)

	dnsRecords, err := c.querier.Query(ctx, c.cfg.DNSSelector, start, now, c.cfg.QueryLimit)
	if err != nil {
		return fmt.Errorf("query dns records: %w", err)
	}
	flowRecords, err := c.querier.Query(ctx, c.cfg.FlowSelector, start, now, c.cfg.QueryLimit)
	if err != nil {
		return fmt.Errorf("query flow records: %w", err)
	}

	var candidates []candidate
	for _, r := range dnsRecords {
		rec, err := eve.Parse(r.Line)
		if err != nil {
			continue
		}
		if d := rec.Domain(); d != "" {
			candidates = append(candidates, candidate{value: d, typ: ioc.TypeDomain, srcIP: rec.SrcIP})
		}
	}
	for _, r := range flowRecords {
		rec, err := eve.Parse(r.Line)
		if err != nil {
			continue
		}
		if rec.DestIP != "" {
			candidates = append(candidates, candidate{value: rec.DestIP, typ: ioc.TypeIP, srcIP: rec.SrcIP})
		}
	}

	for _, cand := range candidates {
		matches := c.store.Lookup(cand.value, cand.typ)
		for _, m := range matches {
			c.handleMatch(ctx, cand, m)
		}
	}

	c.scoreDomainRisk(ctx, dnsRecords)
	c.relayAlerts(ctx, start, now)

	return nil
}

// relayAlerts re-emits recent IDS alert records as suricata_alert
// SecurityEvents, unifying them into the same stream the SOAR and
// health-score services consume. Each alert is deduplicated against the
// suppression store so overlapping lookback windows across ticks do not
// replay it.
func (c *Correlator) relayAlerts(ctx context.Context, start, end time.Time) {
	if c.emitter == nil || c.cfg.AlertSelector == "" {
		return
	}

	records, err := c.querier.Query(ctx, c.cfg.AlertSelector, start, end, c.cfg.QueryLimit)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("query alert records failed")
		}
		return
	}

	for _, r := range records {
		rec, err := eve.Parse(r.Line)
		if err != nil || rec.Alert == nil {
			continue
		}

		key := fmt.Sprintf("alert|%s|%s|%d", rec.Alert.Signature, rec.SrcIP, rec.Timestamp.UnixNano())
		if _, seen := c.suppress.Get(key); seen {
			continue
		}
		ttl := 2 * c.cfg.CorrelationLookback
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		c.suppress.SetTTL(key, true, ttl)

		var deviceID string
		if c.devices != nil {
			if d, ok := c.devices.LookupByIP(rec.SrcIP); ok {
				deviceID = d.ID
			}
		}

		c.emitter.Emit(event.SecurityEvent{
			Timestamp:   rec.Timestamp,
			EventType:   event.TypeSuricataAlert,
			Severity:    severityForAlert(rec.Alert.Severity),
			Title:       rec.Alert.Signature,
			Description: fmt.Sprintf("%s (%s)", rec.Alert.Signature, rec.Alert.Category),
			SourceIP:    rec.SrcIP,
			DestIP:      rec.DestIP,
			DeviceID:    deviceID,
			Metadata: map[string]interface{}{
				"signature": rec.Alert.Signature,
				"category":  rec.Alert.Category,
				"severity":  rec.Alert.Severity,
			},
		})
	}
}

// severityForAlert maps the IDS's numeric alert severity (1 is the most
// severe) onto the event severity scale.
func severityForAlert(n int) event.Severity {
	switch n {
	case 1:
		return event.SeverityHigh
	case 2:
		return event.SeverityMedium
	default:
		return event.SeverityLow
	}
}

// scoreDomainRisk runs the DomainRiskScorer over this tick's DNS
// records, grouped per domain, and emits a domain_risk event for every
// domain whose score clears cfg.DomainRiskThreshold. A nil domainScorer or
// emitter disables the pass entirely.
func (c *Correlator) scoreDomainRisk(ctx context.Context, dnsRecords []logstore.Record) {
	if c.domainScorer == nil || c.emitter == nil {
		return
	}

	byDomain := make(map[string][]scorer.Record)
	for _, r := range dnsRecords {
		rec, err := eve.Parse(r.Line)
		if err != nil {
			continue
		}
		domain := rec.Domain()
		if domain == "" {
			continue
		}
		byDomain[domain] = append(byDomain[domain], scorer.Record{
			Domain:     domain,
			SrcIP:      rec.SrcIP,
			IsDNSQuery: true,
		})
	}

	for domain, records := range byDomain {
		result, err := c.domainScorer.Score(ctx, domain, scorer.NewSliceRecords(records))
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).WithField("domain", domain).Warn("domain risk scoring failed")
			}
			continue
		}
		if result.Score < c.cfg.DomainRiskThreshold {
			continue
		}

		var deviceID string
		if c.devices != nil && len(records) > 0 {
			if d, ok := c.devices.LookupByIP(records[0].SrcIP); ok {
				deviceID = d.ID
			}
		}

		riskScore := result.Score
		c.emitter.Emit(event.SecurityEvent{
			EventType:   event.TypeDomainRisk,
			Severity:    event.SeverityForConfidence(result.Score),
			Title:       fmt.Sprintf("Elevated risk score for domain %s", domain),
			Description: strings.Join(result.Reasons, "; "),
			DeviceID:    deviceID,
			Domain:      domain,
			RiskScore:   &riskScore,
			Reasons:     result.Reasons,
			Metadata:    result.Evidence,
		})
	}
}

func (c *Correlator) handleMatch(ctx context.Context, cand candidate, m ioc.IOC) {
	deviceID := ""
	if c.devices != nil {
		if d, ok := c.devices.LookupByIP(cand.srcIP); ok {
			deviceID = d.ID
		}
	}

	suppressKey := m.Value + "|" + deviceID
	if _, seen := c.suppress.Get(suppressKey); seen {
		if c.metrics != nil {
			c.metrics.IntelMatches.WithLabelValues("true").Inc()
		}
		return
	}
	c.suppress.SetTTL(suppressKey, true, c.effectiveSuppressionWindow())

	c.store.RecordMatch(ioc.Match{IOCValue: m.Value, Source: m.Source, DeviceID: deviceID, MatchedAt: time.Now().UTC()})

	if c.metrics != nil {
		c.metrics.IntelMatches.WithLabelValues("false").Inc()
	}

	if c.emitter == nil {
		return
	}

	severity := event.SeverityForConfidence(m.Confidence)
	riskScore := m.Confidence
	c.emitter.Emit(event.SecurityEvent{
		EventType:   event.TypeIntelMatch,
		Severity:    severity,
		Title:       fmt.Sprintf("Threat-intel match: %s", m.Value),
		Description: fmt.Sprintf("%s matched indicator from %s (category %s)", m.Value, m.Source, m.Category),
		SourceIP:    cand.srcIP,
		DeviceID:    deviceID,
		Domain:      domainOrEmpty(cand),
		RiskScore:   &riskScore,
		Reasons:     []string{fmt.Sprintf("matched %s indicator from %s", cand.typ, m.Source)},
		TISources:   []string{m.Source},
		Metadata: map[string]interface{}{
			"ioc_value":  m.Value,
			"ioc_type":   string(cand.typ),
			"source":     m.Source,
			"confidence": m.Confidence,
			"category":   string(m.Category),
		},
	})
}

func domainOrEmpty(c candidate) string {
	if c.typ == ioc.TypeDomain {
		return c.value
	}
	return ""
}

func (c *Correlator) effectiveSuppressionWindow() time.Duration {
	if c.cfg.SuppressionWindow <= 0 {
		return time.Hour
	}
	return c.cfg.SuppressionWindow
}
