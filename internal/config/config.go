package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

// Provider describes one polled event feed.
type Provider struct {
	Name          string  `yaml:"name"`
	URL           string  `yaml:"url"`
	Format        string  `yaml:"format"`
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Enabled       *bool   `yaml:"enabled"`
}

// IsEnabled reports whether the provider should be polled. Providers are
// enabled unless the file says otherwise.
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type providersFile struct {
	Providers []Provider `yaml:"providers"`
}

// DefaultProviders are polled when PROVIDERS_FILE is not set.
var DefaultProviders = []Provider{
	{
		Name:          "usgs",
		URL:           "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson",
		Format:        domain.FormatUSGSGeoJSON,
		RatePerMinute: 6,
	},
	{
		Name:          "emsc",
		URL:           "https://www.seismicportal.eu/fdsnws/event/1/query?limit=200&format=json",
		Format:        domain.FormatEMSCJSON,
		RatePerMinute: 6,
	},
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	ModelDir   string
	ModelWatch bool

	ProvidersFile string
	Providers     []Provider
	PollInterval  time.Duration
	FetchTimeout  time.Duration
	FetchRetries  int
	FetchBackoff  time.Duration
	DedupCapacity int

	// AlertBars is the minimum probability per task for an alert.
	AlertBars   map[domain.Task]float64
	ShortWindow time.Duration
	LongWindow  time.Duration

	ResultsPath     string
	AlertsPath      string
	AlertLedgerPath string

	KafkaBrokers    []string
	KafkaAlertTopic string
}

// KafkaEnabled reports whether alerts should also be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaAlertTopic != ""
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		ModelDir:        sharedcfg.EnvOrDefault("MODEL_DIR", "models"),
		ProvidersFile:   os.Getenv("PROVIDERS_FILE"),
		ResultsPath:     sharedcfg.EnvOrDefault("RESULTS_PATH", "results.jsonl"),
		AlertsPath:      sharedcfg.EnvOrDefault("ALERTS_PATH", "alerts.jsonl"),
		AlertLedgerPath: os.Getenv("ALERT_LEDGER_PATH"),
		KafkaAlertTopic: sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "earthquake-alerts"),
		AlertBars:       make(map[domain.Task]float64, len(domain.AllTasks)),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	if cfg.ModelWatch, err = parseBool("MODEL_WATCH", true); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = parsePositiveDuration("POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = parsePositiveDuration("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchBackoff, err = parsePositiveDuration("FETCH_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ShortWindow, err = parsePositiveDuration("HISTORY_SHORT_WINDOW", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LongWindow, err = parsePositiveDuration("HISTORY_LONG_WINDOW", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.FetchRetries, err = parseInt("FETCH_RETRIES", 3, 0); err != nil {
		return nil, err
	}
	if cfg.DedupCapacity, err = parseInt("DEDUP_CAPACITY", 50000, 1); err != nil {
		return nil, err
	}
	for _, task := range domain.AllTasks {
		name := "ALERT_BAR_" + strings.ToUpper(task.String())
		bar, err := parseProbability(name, 0.8)
		if err != nil {
			return nil, err
		}
		cfg.AlertBars[task] = bar
	}

	if cfg.ShortWindow > cfg.LongWindow {
		return nil, errors.New("HISTORY_SHORT_WINDOW must not exceed HISTORY_LONG_WINDOW")
	}
	if cfg.ModelDir == "" {
		return nil, errors.New("MODEL_DIR is required")
	}

	providers := DefaultProviders
	if cfg.ProvidersFile != "" {
		if providers, err = LoadProviders(cfg.ProvidersFile); err != nil {
			return nil, err
		}
	}
	cfg.Providers = providers

	return cfg, nil
}

// LoadProviders reads and validates a YAML provider list.
func LoadProviders(path string) ([]Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file %s: %w", path, err)
	}
	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}
	if err := validateProviders(f.Providers); err != nil {
		return nil, fmt.Errorf("providers file %s: %w", path, err)
	}
	return f.Providers, nil
}

func validateProviders(providers []Provider) error {
	if len(providers) == 0 {
		return errors.New("no providers defined")
	}
	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q defined twice", p.Name)
		}
		seen[p.Name] = true
		if p.URL == "" {
			return fmt.Errorf("provider %q: url is required", p.Name)
		}
		switch p.Format {
		case domain.FormatUSGSGeoJSON, domain.FormatEMSCJSON:
		default:
			return fmt.Errorf("provider %q: unsupported format %q", p.Name, p.Format)
		}
		if p.RatePerMinute < 0 {
			return fmt.Errorf("provider %q: rate_per_minute must not be negative", p.Name)
		}
	}
	return nil
}

func parsePositiveDuration(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", name, s)
	}
	return d, nil
}

func parseInt(name string, def, minimum int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s %q: must be an integer >= %d", name, s, minimum)
	}
	return n, nil
}

func parseProbability(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p < 0 || p > 1 {
		return 0, fmt.Errorf("invalid %s %q: must be between 0 and 1", name, s)
	}
	return p, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: must be true or false", name, s)
	}
	return b, nil
}
