// Package soar implements the SOAR service: a single periodic loop that
// pulls recent events from the log store, evaluates them against the
// playbook engine, and dispatches triggered actions, resuming from a
// persisted high-water-mark after a restart.
package soar

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orion-sentinel/netsec/internal/actions"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/logstore"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/metrics"
	"github.com/orion-sentinel/netsec/internal/platform/schedule"
	"github.com/orion-sentinel/netsec/internal/playbook"
)

// Querier is the subset of logstore.Client the SOAR service needs.
type Querier interface {
	Query(ctx context.Context, selector string, start, end time.Time, limit int) ([]logstore.Record, error)
}

// Config controls cadence and batch size. CronExpr, if set, overrides
// Interval with a standard 5-field cron schedule.
type Config struct {
	Interval     time.Duration
	CronExpr     string
	BatchLimit   int
	MaxReplayAge time.Duration
}

// DefaultConfig returns the production defaults: a 60-second tick, batches
// of 500, and a 24-hour replay bound.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		BatchLimit:   500,
		MaxReplayAge: 24 * time.Hour,
	}
}

// Service runs the SOAR tick loop.
type Service struct {
	cfg     Config
	querier Querier
	hwm     *HighWaterMark
	engine  *playbook.Engine
	runner  *actions.Runner
	emitter *event.Emitter
	metrics *metrics.Metrics
	log     *logging.Logger
	health  *event.HealthTracker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Service.
func New(cfg Config, querier Querier, hwm *HighWaterMark, engine *playbook.Engine, runner *actions.Runner, emitter *event.Emitter, m *metrics.Metrics, log *logging.Logger) *Service {
	return &Service{
		cfg:     cfg,
		querier: querier,
		hwm:     hwm,
		engine:  engine,
		runner:  runner,
		emitter: emitter,
		metrics: m,
		log:     log,
		health:  event.NewHealthTracker("soar", emitter),
	}
}

// Name implements lifecycle.Service.
func (s *Service) Name() string { return "soar" }

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
				if err := s.Tick(ctx); err != nil {
					if s.log != nil {
						s.log.WithError(err).Warn("soar tick failed")
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

// Tick pulls events newer than the high-water-mark, evaluates each in
// chronological order, runs triggered playbooks, and advances the mark.
func (s *Service) Tick(ctx context.Context) error {
	triggerTypes := enabledTriggerTypes(s.engine.Playbooks())
	if len(triggerTypes) == 0 {
		return nil
	}

	start := s.hwm.Get()
	end := time.Now().UTC()
	selector := buildSelector(triggerTypes)

	records, err := s.querier.Query(ctx, selector, start, end, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	events := parseChronological(records)
	for _, ev := range events {
		if !ev.Timestamp.After(start) {
			continue // already processed, defends against an inclusive-start query
		}

		triggered, err := s.engine.Evaluate(ev)
		if err != nil {
			if s.log != nil {
				s.log.WithError(err).Warn("playbook evaluation failed")
			}
		} else if len(triggered) > 0 {
			s.runner.RunAll(ctx, triggered)
		}

		if err := s.hwm.Advance(ev.Timestamp); err != nil && s.log != nil {
			s.log.WithError(err).Warn("failed to persist high-water-mark")
		}
	}
	return nil
}

// enabledTriggerTypes returns the distinct, sorted set of trigger event
// types used by any enabled playbook.
func enabledTriggerTypes(playbooks []playbook.Playbook) []string {
	seen := make(map[string]struct{})
	for _, p := range playbooks {
		if p.Enabled && p.Trigger != "" {
			seen[p.Trigger] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// buildSelector constructs a log-store selector matching any of
// triggerTypes, following the LogQL-style label selectors used elsewhere in
// the repo (internal/ti's DNSSelector/FlowSelector).
func buildSelector(triggerTypes []string) string {
	return fmt.Sprintf(`{app="orion-sentinel",event_type=~"%s"}`, strings.Join(triggerTypes, "|"))
}

// parseChronological decodes records (newest-first per logstore.Client.Query)
// into events sorted oldest-first, skipping unparseable lines.
func parseChronological(records []logstore.Record) []event.SecurityEvent {
	out := make([]event.SecurityEvent, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		var ev event.SecurityEvent
		if err := json.Unmarshal(records[i].Line, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
