// Command orion-sentinel wires the five core subsystems (device inventory,
// threat-intel correlation, event emission, SOAR, health scoring) into a
// single supervised process: load config, construct dependencies
// bottom-up, register every periodic service with a lifecycle.Manager,
// then block on an OS signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orion-sentinel/netsec/internal/actions"
	"github.com/orion-sentinel/netsec/internal/config"
	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/health"
	"github.com/orion-sentinel/netsec/internal/httpapi"
	"github.com/orion-sentinel/netsec/internal/inventory"
	"github.com/orion-sentinel/netsec/internal/ioc"
	"github.com/orion-sentinel/netsec/internal/logstore"
	"github.com/orion-sentinel/netsec/internal/notify"
	"github.com/orion-sentinel/netsec/internal/platform/cache"
	"github.com/orion-sentinel/netsec/internal/platform/lifecycle"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/metrics"
	"github.com/orion-sentinel/netsec/internal/playbook"
	"github.com/orion-sentinel/netsec/internal/scorer"
	"github.com/orion-sentinel/netsec/internal/soar"
	"github.com/orion-sentinel/netsec/internal/ti"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orion-sentinel:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	newLogger := func(component string) *logging.Logger {
		return logging.New(component, logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}
	log := newLogger("orion-sentinel")
	m := metrics.New(prometheus.DefaultRegisterer)

	for _, path := range []string{cfg.DeviceDBPath, cfg.IOCDBPath, cfg.HWMPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create data dir for %s: %w", path, err)
		}
	}

	devices, err := device.Open(cfg.DeviceDBPath)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	defer devices.Close()
	devices.SetFingerprintRules(device.DefaultFingerprintRules())

	iocs, err := ioc.Open(cfg.IOCDBPath, cfg.IOCDBPath+".matches")
	if err != nil {
		return fmt.Errorf("open ioc store: %w", err)
	}
	defer iocs.Close()

	logClient := logstore.New(logstore.Config{
		BaseURL:       cfg.LogStoreURL,
		PushTimeout:   cfg.LogStorePushTimeout,
		QueryTimeout:  cfg.LogStoreQueryTimeout,
		BatchCapBytes: cfg.LogStoreBatchCapBytes,
		Logger:        newLogger("logstore"),
	})

	emitter := event.NewEmitter(logClient, event.EmitterConfig{
		Component: "orion-sentinel",
		QueueSize: cfg.EmitterQueueSize,
	}, newLogger("emitter"), m)
	defer emitter.Close()

	mgr := lifecycle.NewManager()

	deviceScorer := scorer.DefaultHeuristicDeviceAnomalyScorer()
	domainScorer := scorer.DefaultHeuristicDomainRiskScorer()

	// 4.E Inventory Collector
	invCollector := inventory.New(inventory.Config{
		Interval:         cfg.InventoryInterval,
		Lookback:         cfg.InventoryLookback,
		FlowSelector:     `{app="ids",event_type="flow"}`,
		DNSSelector:      `{app="ids",event_type="dns"}`,
		QueryLimit:       10000,
		AnomalyThreshold: cfg.AnomalyThreshold,
	}, logClient, devices, emitter, deviceScorer, newLogger("inventory"))
	if err := mgr.Register(invCollector); err != nil {
		return err
	}

	// Notification transports backing the send-notification action (4.I).
	var transports []notify.Transport
	if cfg.SMTPAddr != "" {
		transports = append(transports, &notify.SMTPTransport{
			Addr: cfg.SMTPAddr,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
			To:   cfg.SMTPTo,
		})
	}
	if cfg.SlackToken != "" {
		transports = append(transports, notify.NewSlackTransport(cfg.SlackToken, cfg.SlackChannel))
	}
	if cfg.WebhookURL != "" {
		transports = append(transports, notify.NewWebhookTransport(cfg.WebhookURL))
	}
	dispatcher := notify.NewDispatcher(newLogger("notify"), transports...)

	// 4.G TI Correlator
	feeds := make([]ti.FeedSource, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds = append(feeds, ti.FeedSource{
			Name:    f.Name,
			Enabled: f.Enabled,
			URL:     f.URL,
			APIKey:  f.APIKey,
			Parser:  f.Parser,
		})
	}
	correlator := ti.New(ti.Config{
		FeedIngestInterval:  cfg.FeedIngestInterval,
		CorrelationInterval: cfg.CorrelationInterval,
		CorrelationLookback: cfg.CorrelationLookback,
		IOCRetention:        cfg.IOCRetention,
		SuppressionWindow:   cfg.SuppressionWindow,
		DNSSelector:         `{app="ids",event_type="dns"}`,
		FlowSelector:        `{app="ids",event_type="flow"}`,
		AlertSelector:       `{app="ids",event_type="alert"}`,
		QueryLimit:          10000,
		Feeds:               feeds,
		DomainRiskThreshold: cfg.DomainRiskThreshold,
	}, ti.DefaultParserRegistry(), ti.NewFetcher(120*time.Second), iocs, logClient, devices, emitter, domainScorer, m, newLogger("ti-correlator"))
	if cfg.RedisAddr != "" {
		correlator.SetSuppressionStore(cache.NewRedis(cfg.RedisAddr, "orion:suppress"))
	}
	if err := mgr.Register(correlator); err != nil {
		return err
	}

	// 4.H Playbook Engine
	engine := playbook.New(newLogger("playbook"))
	loadPlaybooks := func() ([]playbook.Playbook, error) {
		return playbook.Load(cfg.PlaybooksPath, cfg.AllowEmptyPlaybooks)
	}
	initialPlaybooks, err := loadPlaybooks()
	if err != nil {
		return fmt.Errorf("load playbooks: %w", err)
	}
	engine.Reload(initialPlaybooks)

	// 4.I Action Executors
	var dnsSink *actions.DNSSinkClient
	if cfg.DNSSinkURL != "" {
		dnsSink = actions.NewDNSSinkClient(cfg.DNSSinkURL, cfg.DNSSinkToken, cfg.DNSSinkTimeout, newLogger("dns-sink"))
	}
	registry := actions.NewRegistry(dnsSink, devices, dispatcher)
	runner := actions.NewRunner(registry, cfg.GlobalDryRun, emitter, newLogger("actions"))
	runner.SetConcurrency(cfg.ActionConcurrency)

	// 4.J SOAR Service
	hwm, err := soar.OpenHighWaterMark(cfg.HWMPath, cfg.SOARMaxReplayAge)
	if err != nil {
		return fmt.Errorf("open high-water-mark: %w", err)
	}
	soarService := soar.New(soar.Config{
		Interval:     cfg.SOARInterval,
		CronExpr:     cfg.SOARCronExpr,
		BatchLimit:   cfg.SOARBatchLimit,
		MaxReplayAge: cfg.SOARMaxReplayAge,
	}, logClient, hwm, engine, runner, emitter, m, newLogger("soar"))
	if err := mgr.Register(soarService); err != nil {
		return err
	}

	// 4.K Health-Score Service
	healthService := health.New(health.Config{
		Interval:      cfg.HealthInterval,
		CronExpr:      cfg.HealthCronExpr,
		HygienePath:   cfg.HygienePath,
		LowThreshold:  cfg.HealthLowThresh,
		HighThreshold: cfg.HealthHighThresh,
	}, devices, logClient, emitter, newLogger("health-score"))
	if err := mgr.Register(healthService); err != nil {
		return err
	}

	// Operator HTTP surface
	ready := func() bool { return true }
	// loadPlaybooks only reparses the backing file; httpapi.handlePlaybooksReload
	// is the single place that installs the result into engine via Reload.
	httpServer := httpapi.New(httpapi.Config{Addr: cfg.HTTPAddr}, devices, iocs, engine, loadPlaybooks, logClient, newLogger("http-api"), ready)
	if err := mgr.Register(httpServer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	log.Info("orion-sentinel started")

	<-ctx.Done()
	log.Info("shutdown signal received, draining services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return mgr.Stop(shutdownCtx)
}
