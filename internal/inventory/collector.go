// Package inventory implements the inventory collector: a periodic service
// that reads recent flow/DNS records, extracts host observations, and
// upserts them into the device store, emitting new_device lifecycle events
// and running the device-anomaly scorer over each tick's traffic.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/eve"
	"github.com/orion-sentinel/netsec/internal/logstore"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/scorer"
)

// Querier is the subset of logstore.Client the collector needs.
type Querier interface {
	Query(ctx context.Context, selector string, start, end time.Time, limit int) ([]logstore.Record, error)
}

// Config controls tick cadence and lookback window.
type Config struct {
	Interval         time.Duration
	Lookback         time.Duration
	FlowSelector     string
	DNSSelector      string
	QueryLimit       int
	AnomalyThreshold float64
}

// DefaultConfig returns the default cadence: every 10 minutes with a
// 10-minute lookback.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Minute,
		Lookback:         10 * time.Minute,
		FlowSelector:     `{app="ids",event_type="flow"}`,
		DNSSelector:      `{app="ids",event_type="dns"}`,
		QueryLimit:       10000,
		AnomalyThreshold: 0.5,
	}
}

// observation is an extracted (ip, mac?, hostname?, timestamp) tuple,
// before aggregation.
type observation struct {
	ip        string
	mac       string
	hostname  string
	timestamp time.Time
}

// Collector is the periodic discovery service.
type Collector struct {
	cfg     Config
	querier Querier
	devices *device.Store
	emitter *event.Emitter
	scorer  scorer.DeviceAnomalyScorer
	log     *logging.Logger
	health  *event.HealthTracker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Collector. anomalyScorer may be nil, in which case the
// device-anomaly detection pass is skipped entirely.
func New(cfg Config, querier Querier, devices *device.Store, emitter *event.Emitter, anomalyScorer scorer.DeviceAnomalyScorer, log *logging.Logger) *Collector {
	return &Collector{
		cfg:     cfg,
		querier: querier,
		devices: devices,
		emitter: emitter,
		scorer:  anomalyScorer,
		log:     log,
		health:  event.NewHealthTracker("inventory-collector", emitter),
	}
}

// Name implements lifecycle.Service.
func (c *Collector) Name() string { return "inventory-collector" }

// Start implements lifecycle.Service: runs Tick on cfg.Interval until Stop
// is called. A failed tick (transport error) is retried on the next
// interval; it does not tear down the service.
func (c *Collector) Start(ctx context.Context) error {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Tick(ctx); err != nil {
					if c.log != nil {
						c.log.WithError(err).Warn("inventory tick failed, will retry next interval")
					}
					c.health.ReportFailure(err.Error())
				} else {
					c.health.ReportSuccess()
				}
			}
		}
	}()
	return nil
}

// Stop implements lifecycle.Service.
func (c *Collector) Stop(context.Context) error {
	if c.stopCh == nil {
		return nil
	}
	close(c.stopCh)
	<-c.doneCh
	return nil
}

// Tick executes one collection pass: query the lookback window, extract
// observations, upsert devices, emit new_device events, score anomalies.
func (c *Collector) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	start := now.Add(-c.cfg.Lookback)

	flowRecords, err := c.querier.Query(ctx, c.cfg.FlowSelector, start, now, c.cfg.QueryLimit)
	if err != nil {
		return fmt.Errorf("query flow records: %w", err)
	}
	dnsRecords, err := c.querier.Query(ctx, c.cfg.DNSSelector, start, now, c.cfg.QueryLimit)
	if err != nil {
		return fmt.Errorf("query dns records: %w", err)
	}

	var obs []observation
	for _, r := range flowRecords {
		o, ok := extractObservation(r)
		if ok {
			obs = append(obs, o)
		}
	}
	for _, r := range dnsRecords {
		o, ok := extractObservation(r)
		if ok {
			obs = append(obs, o)
		}
	}

	// Sorting ascending gives deterministic "most recent wins" semantics
	// when one MAC shows up under two IPs within the window.
	sort.Slice(obs, func(i, j int) bool { return obs[i].timestamp.Before(obs[j].timestamp) })

	ipToDevice := make(map[string]string, len(obs))
	for _, o := range obs {
		d, created, err := c.devices.UpsertFromObservation(o.ip, o.mac, o.hostname, o.timestamp)
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).Warn("failed to upsert device observation")
			}
			continue
		}
		ipToDevice[o.ip] = d.ID
		if created && c.emitter != nil {
			c.emitter.Emit(event.SecurityEvent{
				EventType:   event.TypeNewDevice,
				Severity:    event.SeverityInfo,
				Title:       "New device observed",
				Description: fmt.Sprintf("Device %s first observed at IP %s", d.ID, d.IP),
				DeviceID:    d.ID,
				Metadata: map[string]interface{}{
					"ip":       d.IP,
					"hostname": d.Hostname,
				},
			})
		}
	}

	c.scoreAnomalies(ctx, ipToDevice, flowRecords, dnsRecords)

	return nil
}

// scoreAnomalies runs the DeviceAnomalyScorer over this tick's records,
// grouped per device by source IP, and emits a device_anomaly event for
// every device whose score clears cfg.AnomalyThreshold. A nil scorer or
// emitter disables the pass entirely.
func (c *Collector) scoreAnomalies(ctx context.Context, ipToDevice map[string]string, flowRecords, dnsRecords []logstore.Record) {
	if c.scorer == nil || c.emitter == nil {
		return
	}

	byDevice := make(map[string][]scorer.Record)
	collect := func(records []logstore.Record, isDNS bool) {
		for _, r := range records {
			rec, err := eve.Parse(r.Line)
			if err != nil {
				continue
			}
			deviceID, ok := ipToDevice[rec.SrcIP]
			if !ok {
				continue
			}
			sr := scorer.Record{
				DeviceID: deviceID,
				SrcIP:    rec.SrcIP,
				DestIP:   rec.DestIP,
				DestPort: rec.DestPort,
				Proto:    rec.Proto,
			}
			if rec.Flow != nil {
				sr.BytesToSrv = rec.Flow.BytesToServer
				sr.BytesToCli = rec.Flow.BytesToClient
			}
			if isDNS {
				sr.IsDNSQuery = true
				sr.Domain = rec.Domain()
			}
			byDevice[deviceID] = append(byDevice[deviceID], sr)
		}
	}
	collect(flowRecords, false)
	collect(dnsRecords, true)

	for deviceID, records := range byDevice {
		result, err := c.scorer.Score(ctx, deviceID, scorer.NewSliceRecords(records))
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).WithField("device_id", deviceID).Warn("device anomaly scoring failed")
			}
			continue
		}
		if result.Score < c.cfg.AnomalyThreshold {
			continue
		}
		riskScore := result.Score
		c.emitter.Emit(event.SecurityEvent{
			EventType:   event.TypeDeviceAnomaly,
			Severity:    event.SeverityForConfidence(result.Score),
			Title:       fmt.Sprintf("Anomalous behavior detected for device %s", deviceID),
			Description: strings.Join(result.Reasons, "; "),
			DeviceID:    deviceID,
			RiskScore:   &riskScore,
			Reasons:     result.Reasons,
			Metadata:    result.Evidence,
		})
	}
}

// extractObservation extracts a (ip, mac?, hostname?, timestamp) tuple from
// a raw log-store record. Observations with no usable identifier (no
// src_ip) are dropped.
func extractObservation(r logstore.Record) (observation, bool) {
	rec, err := eve.Parse(r.Line)
	if err != nil {
		return observation{}, false
	}
	if rec.SrcIP == "" {
		return observation{}, false
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = r.Timestamp
	}
	return observation{
		ip:        rec.SrcIP,
		hostname:  deviceHostname(rec),
		timestamp: ts,
	}, true
}

// deviceHostname extracts a best-effort device hostname from an mDNS-style
// self-announcement: a DNS query for a "<name>.local" record, which
// consumer devices (phones, laptops, NAS boxes) commonly emit to advertise
// their own hostname on the LAN. Ordinary dns.rrname/http.hostname/tls.sni
// values name the remote side of a connection, not the device making it;
// a "*.local" query name is the one case where the queried name is also
// the querying device's own hostname. EVE flow/dns records carry no L2
// address, so observation.mac stays empty.
func deviceHostname(rec eve.Record) string {
	if rec.DNS == nil || rec.DNS.Type != "query" {
		return ""
	}
	name := strings.TrimSuffix(rec.DNS.RRName, ".")
	if !strings.HasSuffix(strings.ToLower(name), ".local") {
		return ""
	}
	return name
}
