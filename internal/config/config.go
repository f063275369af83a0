package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Sweeps must run at least once a minute so expiry and the stats push stay live.
const maxSweepInterval = time.Minute

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Live feed connection.
	FeedURL                  string
	FeedBaseDelay            time.Duration
	FeedMaxDelay             time.Duration
	FeedMaxReconnectAttempts int
	FeedHandshakeTimeout     time.Duration
	FeedReadTimeout          time.Duration
	FeedPingInterval         time.Duration
	MaxFutureSkew            time.Duration

	// Historical catalog seed.
	CatalogURL          string
	CatalogTimeout      time.Duration
	CatalogMinMagnitude float64
	CatalogCenterLat    float64
	CatalogCenterLng    float64
	CatalogRadiusKm     float64

	StatsWindow   time.Duration
	RiskWindow    time.Duration
	SweepInterval time.Duration

	RegionsFile     string
	SubscribersFile string
	DeliveryTimeout time.Duration

	KafkaEnabled           bool
	KafkaBrokers           []string
	KafkaNotificationTopic string

	// Working-set snapshot store. Empty driver disables it.
	StorageDriver string
	StorageDSN    string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FeedURL:                  sharedcfg.EnvOrDefault("FEED_URL", "ws://localhost:9000/feed"),
		FeedBaseDelay:            p.duration("FEED_BASE_DELAY", "1s"),
		FeedMaxDelay:             p.duration("FEED_MAX_DELAY", "30s"),
		FeedMaxReconnectAttempts: p.nonNegativeInt("FEED_MAX_RECONNECT_ATTEMPTS", "5"),
		FeedHandshakeTimeout:     p.duration("FEED_HANDSHAKE_TIMEOUT", "10s"),
		FeedReadTimeout:          p.duration("FEED_READ_TIMEOUT", "60s"),
		FeedPingInterval:         p.duration("FEED_PING_INTERVAL", "30s"),
		MaxFutureSkew:            p.duration("MAX_FUTURE_SKEW", "5m"),

		CatalogURL:          sharedcfg.EnvOrDefault("CATALOG_URL", "https://earthquake.usgs.gov/fdsnws/event/1/query"),
		CatalogTimeout:      p.duration("CATALOG_TIMEOUT", "10s"),
		CatalogMinMagnitude: p.float("CATALOG_MIN_MAGNITUDE", "2.5"),
		CatalogCenterLat:    p.float("CATALOG_CENTER_LAT", "9.145"),
		CatalogCenterLng:    p.float("CATALOG_CENTER_LNG", "40.489"),
		CatalogRadiusKm:     p.float("CATALOG_RADIUS_KM", "1000"),

		StatsWindow:   p.duration("STATS_WINDOW", "24h"),
		RiskWindow:    p.duration("RISK_WINDOW", "2160h"),
		SweepInterval: p.duration("SWEEP_INTERVAL", "30s"),

		RegionsFile:     sharedcfg.EnvOrDefault("REGIONS_FILE", ""),
		SubscribersFile: sharedcfg.EnvOrDefault("SUBSCRIBERS_FILE", ""),
		DeliveryTimeout: p.duration("DELIVERY_TIMEOUT", "5s"),

		KafkaEnabled:           p.bool("KAFKA_ENABLED", "false"),
		KafkaBrokers:           sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaNotificationTopic: sharedcfg.EnvOrDefault("KAFKA_NOTIFICATION_TOPIC", "quake-notifications"),

		StorageDriver: sharedcfg.EnvOrDefault("STORAGE_DRIVER", ""),
		StorageDSN:    sharedcfg.EnvOrDefault("STORAGE_DSN", ""),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.FeedURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("FEED_URL must be a ws:// or wss:// URL")
	}
	if c.FeedMaxDelay < c.FeedBaseDelay {
		return errors.New("FEED_MAX_DELAY must not be less than FEED_BASE_DELAY")
	}
	if c.SweepInterval > maxSweepInterval {
		return fmt.Errorf("SWEEP_INTERVAL must not exceed %s", maxSweepInterval)
	}
	if c.RiskWindow < c.StatsWindow {
		return errors.New("RISK_WINDOW must not be shorter than STATS_WINDOW")
	}
	if c.CatalogCenterLat < -90 || c.CatalogCenterLat > 90 {
		return errors.New("CATALOG_CENTER_LAT must be within [-90, 90]")
	}
	if c.CatalogCenterLng < -180 || c.CatalogCenterLng > 180 {
		return errors.New("CATALOG_CENTER_LNG must be within [-180, 180]")
	}
	if c.CatalogRadiusKm < 0 {
		return errors.New("CATALOG_RADIUS_KM must not be negative")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if c.KafkaNotificationTopic == "" {
			return errors.New("KAFKA_NOTIFICATION_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	switch c.StorageDriver {
	case "":
	case "sqlite":
		if c.StorageDSN == "" {
			c.StorageDSN = "file:quakewatch.db?_pragma=busy_timeout(5000)"
		}
	case "postgres":
		if c.StorageDSN == "" {
			return errors.New("STORAGE_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	return nil
}

// parser records the first invalid variable so Load can report it by name.
type parser struct {
	err error
}

func (p *parser) fail(key string, cause error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, cause)
	}
}

// duration parses a strictly positive duration.
func (p *parser) duration(key, def string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		p.fail(key, err)
		return 0
	}
	if d <= 0 {
		p.fail(key, errors.New("must be positive"))
		return 0
	}
	return d
}

func (p *parser) nonNegativeInt(key, def string) int {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		p.fail(key, err)
		return 0
	}
	if n < 0 {
		p.fail(key, errors.New("must not be negative"))
		return 0
	}
	return n
}

func (p *parser) float(key, def string) float64 {
	f, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil {
		p.fail(key, err)
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(key, errors.New("must be finite"))
		return 0
	}
	return f
}

func (p *parser) bool(key, def string) bool {
	b, err := strconv.ParseBool(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		p.fail(key, err)
		return false
	}
	return b
}
