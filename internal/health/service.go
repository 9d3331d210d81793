// Package health implements the health-score service: a periodic composite
// score over inventory hygiene, threat exposure, churn, and manual hygiene
// flags, emitted as a security_health_update event.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/logstore"
	"github.com/orion-sentinel/netsec/internal/platform/errs"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/schedule"
)

// Hygiene holds the manually-maintained hygiene flags loaded from the
// hygiene file.
type Hygiene struct {
	BackupsOK       bool `yaml:"backups_ok"`
	UpdatesCurrent  bool `yaml:"updates_current"`
	FirewallEnabled bool `yaml:"firewall_enabled"`
}

// LoadHygiene reads the hygiene file at path. A missing file yields all-false
// flags rather than an error, since hygiene tracking is opt-in.
func LoadHygiene(path string) (Hygiene, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Hygiene{}, nil
	}
	if err != nil {
		return Hygiene{}, errs.Wrap("read hygiene file", err)
	}
	var h Hygiene
	if err := yaml.Unmarshal(data, &h); err != nil {
		return Hygiene{}, errs.Wrap("parse hygiene file", err)
	}
	return h, nil
}

// Querier is the subset of logstore.Client the health service needs.
type Querier interface {
	Query(ctx context.Context, selector string, start, end time.Time, limit int) ([]logstore.Record, error)
}

// Config controls cadence and the banding thresholds used for the
// ratio-based Inventory penalties.
type Config struct {
	Interval      time.Duration
	CronExpr      string
	HygienePath   string
	LowThreshold  float64
	HighThreshold float64
}

// DefaultConfig returns the default hourly cadence and penalty thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:      60 * time.Minute,
		HygienePath:   "config/hygiene.yaml",
		LowThreshold:  2,
		HighThreshold: 5,
	}
}

// Service runs the health-score tick loop.
type Service struct {
	cfg     Config
	devices *device.Store
	querier Querier
	emitter *event.Emitter
	log     *logging.Logger
	health  *event.HealthTracker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Service.
func New(cfg Config, devices *device.Store, querier Querier, emitter *event.Emitter, log *logging.Logger) *Service {
	return &Service{
		cfg:     cfg,
		devices: devices,
		querier: querier,
		emitter: emitter,
		log:     log,
		health:  event.NewHealthTracker("health-score", emitter),
	}
}

// Name implements lifecycle.Service.
func (s *Service) Name() string { return "health-score" }

// Start implements lifecycle.Service.
func (s *Service) Start(ctx context.Context) error {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := schedule.New(s.cfg.Interval, s.cfg.CronExpr)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					if s.log != nil {
						s.log.WithError(err).Warn("health score tick failed")
					}
					s.health.ReportFailure(err.Error())
				} else {
					s.health.ReportSuccess()
				}
			}
		}
	}()
	return nil
}

// Stop implements lifecycle.Service.
func (s *Service) Stop(context.Context) error {
	if s.stopCh == nil {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Report is the computed health score with the inputs behind it.
type Report struct {
	Composite       int
	Grade           string
	Inventory       float64
	Threat          float64
	Change          float64
	Hygiene         float64
	Metrics         map[string]int
	Recommendations []string
}

// Tick gathers metrics, scores them, and emits a security_health_update
// event.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	hygiene, err := LoadHygiene(s.cfg.HygienePath)
	if err != nil {
		return Report{}, err
	}

	metrics, err := s.gather(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Score(metrics, hygiene, s.cfg.LowThreshold, s.cfg.HighThreshold)

	if s.emitter != nil {
		riskScore := float64(report.Composite) / 100.0
		s.emitter.Emit(event.SecurityEvent{
			EventType:   event.TypeHealthUpdate,
			Severity:    severityForGrade(report.Grade),
			Title:       fmt.Sprintf("Security health score: %d (%s)", report.Composite, report.Grade),
			Description: fmt.Sprintf("inventory=%.1f threat=%.1f change=%.1f hygiene=%.1f", report.Inventory, report.Threat, report.Change, report.Hygiene),
			RiskScore:   &riskScore,
			Reasons:     report.Recommendations,
			Metadata: map[string]interface{}{
				"composite": report.Composite,
				"grade":     report.Grade,
				"inventory": report.Inventory,
				"threat":    report.Threat,
				"change":    report.Change,
				"hygiene":   report.Hygiene,
				"metrics":   report.Metrics,
			},
		})
	}

	return report, nil
}

func severityForGrade(grade string) event.Severity {
	switch grade {
	case "A", "B":
		return event.SeverityInfo
	case "C":
		return event.SeverityLow
	case "D":
		return event.SeverityMedium
	default:
		return event.SeverityHigh
	}
}

// gather collects the raw metric values the scoring pass consumes.
func (s *Service) gather(ctx context.Context) (Metrics, error) {
	var m Metrics

	devices := s.devices.List(device.Filter{})
	m.TotalDevices = len(devices)
	for _, d := range devices {
		// The three counts are independent: a device can be unknown,
		// untagged, and high-risk at the same time.
		unknownType := d.GuessedType == device.TypeUnknown || d.GuessedType == ""
		if len(d.Tags) == 0 && unknownType {
			m.UnknownDevices++
		}
		if len(d.Tags) == 0 {
			m.UntaggedDevices++
		}
		if d.RiskScore != nil && *d.RiskScore >= highRiskThreshold {
			m.HighRiskDevices++
		}
	}

	if s.querier != nil {
		now := time.Now().UTC()
		m.HighAnomalies24h = s.countHighSeverity(ctx, event.TypeDeviceAnomaly, now.Add(-24*time.Hour), now)
		m.IntelMatches24h = s.countEvents(ctx, event.TypeIntelMatch, now.Add(-24*time.Hour), now)
		m.IntelMatches7d = s.countEvents(ctx, event.TypeIntelMatch, now.Add(-7*24*time.Hour), now)
		m.NewDevices7d = s.countEvents(ctx, event.TypeNewDevice, now.Add(-7*24*time.Hour), now)
		m.CriticalEvents7d = s.countHighSeverity(ctx, "", now.Add(-7*24*time.Hour), now)
		m.SuricataAlerts24h = s.countEvents(ctx, event.TypeSuricataAlert, now.Add(-24*time.Hour), now)
	}

	return m, nil
}

const highRiskThreshold = 0.8

func (s *Service) countEvents(ctx context.Context, eventType string, start, end time.Time) int {
	selector := fmt.Sprintf(`{app="orion-sentinel",event_type="%s"}`, eventType)
	records, err := s.querier.Query(ctx, selector, start, end, 10000)
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("event_type", eventType).Warn("health metric query failed")
		}
		return 0
	}
	return len(records)
}

func (s *Service) countHighSeverity(ctx context.Context, eventType string, start, end time.Time) int {
	selector := `{app="orion-sentinel"}`
	if eventType != "" {
		selector = fmt.Sprintf(`{app="orion-sentinel",event_type="%s"}`, eventType)
	}
	records, err := s.querier.Query(ctx, selector, start, end, 10000)
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("health metric query failed")
		}
		return 0
	}
	count := 0
	for _, r := range records {
		var ev event.SecurityEvent
		if err := json.Unmarshal(r.Line, &ev); err != nil {
			continue
		}
		minSeverity := event.SeverityHigh
		if eventType == "" {
			minSeverity = event.SeverityCritical
		}
		if ev.Severity.AtLeast(minSeverity) {
			count++
		}
	}
	return count
}

// roundComposite rounds to the nearest integer, half away from zero.
func roundComposite(v float64) int {
	return int(math.Round(v))
}
