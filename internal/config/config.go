// Package config provides the single flat environment-variable
// configuration surface: an optional .env file is loaded first, then values
// are read from the environment with a documented default. The health-score
// thresholds HealthLowThresh and HealthHighThresh are fixed at 2 and 5 and
// are not read from the environment.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// FeedConfig describes one threat-intel feed source.
type FeedConfig struct {
	Name    string
	Enabled bool
	URL     string
	APIKey  string
	Parser  string // otx | urlhaus | feodo | phishtank
}

// Config holds every tunable the services read at startup.
type Config struct {
	// Log store (4.A)
	LogStoreURL           string
	LogStorePushTimeout   time.Duration
	LogStoreQueryTimeout  time.Duration
	LogStoreBatchCapBytes int64

	// Persisted state layout
	DeviceDBPath string
	IOCDBPath    string
	HWMPath      string

	// Emitter (4.D)
	EmitterQueueSize int

	// Inventory Collector (4.E)
	InventoryInterval time.Duration
	InventoryLookback time.Duration
	AnomalyThreshold  float64

	// TI Correlator (4.G)
	FeedIngestInterval  time.Duration
	CorrelationInterval time.Duration
	CorrelationLookback time.Duration
	IOCRetention        time.Duration
	SuppressionWindow   time.Duration
	Feeds               []FeedConfig
	DomainRiskThreshold float64

	// Playbook Engine / SOAR (4.H, 4.J)
	PlaybooksPath       string
	AllowEmptyPlaybooks bool
	SOARInterval        time.Duration
	SOARCronExpr        string
	SOARBatchLimit      int
	SOARMaxReplayAge    time.Duration
	GlobalDryRun        bool
	ActionConcurrency   int

	// DNS-sink admin API (4.I)
	DNSSinkURL     string
	DNSSinkToken   string
	DNSSinkTimeout time.Duration

	// Notifications (4.I)
	SMTPAddr      string
	SMTPUser      string
	SMTPPass      string
	SMTPFrom      string
	SMTPTo        []string
	SlackToken    string
	SlackChannel  string
	WebhookURL    string
	NotifyTimeout time.Duration

	// Health-Score Service (4.K)
	HealthInterval   time.Duration
	HealthCronExpr   string
	HygienePath      string
	HealthLowThresh  float64
	HealthHighThresh float64

	// Scheduler / Lifecycle (4.L)
	ShutdownGrace time.Duration

	// Operator HTTP surface
	HTTPAddr string

	// Optional Redis-backed intel_match suppression store (the SOAR
	// high-water-mark is always the JSON file at HWMPath)
	RedisAddr string

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file then builds a Config from the
// environment, applying defaults where a key is unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{
		LogStoreURL:           GetEnv("LOGSTORE_URL", "http://127.0.0.1:3100"),
		LogStorePushTimeout:   ParseEnvDuration("LOGSTORE_PUSH_TIMEOUT", 10*time.Second),
		LogStoreQueryTimeout:  ParseEnvDuration("LOGSTORE_QUERY_TIMEOUT", 30*time.Second),
		LogStoreBatchCapBytes: int64(GetEnvInt("LOGSTORE_BATCH_CAP_BYTES", 1<<20)),

		DeviceDBPath: GetEnv("DEVICE_DB_PATH", "data/devices.jsonl"),
		IOCDBPath:    GetEnv("IOC_DB_PATH", "data/iocs.jsonl"),
		HWMPath:      GetEnv("HWM_PATH", "data/hwm.json"),

		EmitterQueueSize: GetEnvInt("EMITTER_QUEUE_SIZE", 1024),

		InventoryInterval: ParseEnvDuration("INVENTORY_INTERVAL", 10*time.Minute),
		InventoryLookback: ParseEnvDuration("INVENTORY_LOOKBACK", 10*time.Minute),
		AnomalyThreshold:  GetEnvFloat("ANOMALY_SCORE_THRESHOLD", 0.5),

		FeedIngestInterval:  ParseEnvDuration("TI_FEED_INTERVAL", 6*time.Hour),
		CorrelationInterval: ParseEnvDuration("TI_CORRELATION_INTERVAL", 5*time.Minute),
		CorrelationLookback: ParseEnvDuration("TI_CORRELATION_LOOKBACK", 5*time.Minute),
		IOCRetention:        ParseEnvDuration("IOC_RETENTION", 90*24*time.Hour),
		SuppressionWindow:   ParseEnvDuration("INTEL_MATCH_SUPPRESSION_WINDOW", time.Hour),
		Feeds:               loadFeeds(),
		DomainRiskThreshold: GetEnvFloat("DOMAIN_RISK_THRESHOLD", 0.5),

		PlaybooksPath:       GetEnv("PLAYBOOKS_PATH", "config/playbooks.yaml"),
		AllowEmptyPlaybooks: GetEnvBool("ALLOW_EMPTY_PLAYBOOKS", false),
		SOARInterval:        ParseEnvDuration("SOAR_INTERVAL", 60*time.Second),
		SOARCronExpr:        GetEnv("SOAR_CRON", ""),
		SOARBatchLimit:      GetEnvInt("SOAR_BATCH_LIMIT", 500),
		SOARMaxReplayAge:    ParseEnvDuration("SOAR_MAX_REPLAY_AGE", 24*time.Hour),
		GlobalDryRun:        GetEnvBool("GLOBAL_DRY_RUN", false),
		ActionConcurrency:   GetEnvInt("ACTION_CONCURRENCY", 8),

		DNSSinkURL:     GetEnv("DNS_SINK_URL", ""),
		DNSSinkToken:   GetEnv("DNS_SINK_TOKEN", ""),
		DNSSinkTimeout: ParseEnvDuration("DNS_SINK_TIMEOUT", 10*time.Second),

		SMTPAddr:      GetEnv("SMTP_ADDR", ""),
		SMTPUser:      GetEnv("SMTP_USER", ""),
		SMTPPass:      GetEnv("SMTP_PASS", ""),
		SMTPFrom:      GetEnv("SMTP_FROM", ""),
		SMTPTo:        SplitAndTrimCSV(GetEnv("SMTP_TO", "")),
		SlackToken:    GetEnv("SLACK_TOKEN", ""),
		SlackChannel:  GetEnv("SLACK_CHANNEL", ""),
		WebhookURL:    GetEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout: ParseEnvDuration("NOTIFY_TIMEOUT", 15*time.Second),

		HealthInterval:   ParseEnvDuration("HEALTH_INTERVAL", 60*time.Minute),
		HealthCronExpr:   GetEnv("HEALTH_CRON", ""),
		HygienePath:      GetEnv("HYGIENE_PATH", "config/hygiene.yaml"),
		HealthLowThresh:  2,
		HealthHighThresh: 5,

		ShutdownGrace: ParseEnvDuration("SHUTDOWN_GRACE", 30*time.Second),

		HTTPAddr:  GetEnv("HTTP_ADDR", ":8090"),
		RedisAddr: GetEnv("REDIS_ADDR", ""),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),
	}

	return cfg, nil
}

func loadFeeds() []FeedConfig {
	feeds := []FeedConfig{
		{Name: "otx", Parser: "otx"},
		{Name: "urlhaus", Parser: "urlhaus"},
		{Name: "feodo", Parser: "feodo"},
		{Name: "phishtank", Parser: "phishtank"},
	}
	out := make([]FeedConfig, 0, len(feeds))
	for _, f := range feeds {
		prefix := "FEED_" + upperName(f.Name)
		f.Enabled = GetEnvBool(prefix+"_ENABLED", false)
		f.URL = GetEnv(prefix+"_URL", "")
		f.APIKey = GetEnv(prefix+"_API_KEY", "")
		out = append(out, f)
	}
	return out
}

func upperName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
