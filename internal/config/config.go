package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"CTPayments/internal/gateway"
	"CTPayments/internal/logging"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Log      logging.Config `yaml:"log"`
	Currency string         `yaml:"currency"`
	Gateways struct {
		MobileMoney gateway.MobileMoneyConfig `yaml:"mobile_money"`
		HostedLink  gateway.HostedLinkConfig  `yaml:"hosted_link"`
		Offline     gateway.OfflineConfig     `yaml:"offline"`
	} `yaml:"gateways"`
	Notify struct {
		Primary  string        `yaml:"primary"`
		Fallback string        `yaml:"fallback"`
		Timeout  time.Duration `yaml:"timeout"`
		Admins   []string      `yaml:"admins"`
		HTTP     struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
		} `yaml:"http"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"notify"`
	Worker struct {
		StaleAfter     time.Duration `yaml:"stale_after"`
		ReminderWindow time.Duration `yaml:"reminder_window"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		PollBatch      int           `yaml:"poll_batch"`
	} `yaml:"worker"`
}

var transports = map[string]bool{"": true, "http": true, "kafka": true, "log": true}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if err := c.Gateways.MobileMoney.Validate(); err != nil {
		return err
	}
	if err := c.Gateways.HostedLink.Validate(); err != nil {
		return err
	}
	if !transports[c.Notify.Primary] || !transports[c.Notify.Fallback] {
		return errors.New("notify transport must be one of http, kafka, log")
	}
	for _, name := range []string{c.Notify.Primary, c.Notify.Fallback} {
		switch name {
		case "http":
			if c.Notify.HTTP.URL == "" {
				return fmt.Errorf("%w: notify.http.url is required", gateway.ErrConfig)
			}
		case "kafka":
			if len(c.Notify.Kafka.Brokers) == 0 || c.Notify.Kafka.Topic == "" {
				return fmt.Errorf("%w: notify.kafka brokers and topic are required", gateway.ErrConfig)
			}
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	if cfg.Notify.Primary == "" {
		cfg.Notify.Primary = "log"
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}
	if cfg.Worker.StaleAfter <= 0 {
		cfg.Worker.StaleAfter = 24 * time.Hour
	}
	if cfg.Worker.ReminderWindow <= 0 {
		cfg.Worker.ReminderWindow = 24 * time.Hour
	}
	if cfg.Worker.SweepInterval <= 0 {
		cfg.Worker.SweepInterval = time.Hour
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 2 * time.Minute
	}
	if cfg.Worker.PollBatch <= 0 {
		cfg.Worker.PollBatch = 50
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CURRENCY"); v != "" {
		cfg.Currency = v
	}

	mm := &cfg.Gateways.MobileMoney
	if v := os.Getenv("MOMO_ENABLED"); v != "" {
		mm.Enabled = boolOr(mm.Enabled, v)
	}
	if v := os.Getenv("MOMO_BASE_URL"); v != "" {
		mm.BaseURL = v
	}
	if v := os.Getenv("MOMO_API_USER"); v != "" {
		mm.APIUser = v
	}
	if v := os.Getenv("MOMO_API_KEY"); v != "" {
		mm.APIKey = v
	}
	if v := os.Getenv("MOMO_SUBSCRIPTION_KEY"); v != "" {
		mm.SubscriptionKey = v
	}
	if v := os.Getenv("MOMO_CALLBACK_SECRET"); v != "" {
		mm.CallbackSecret = v
	}

	hl := &cfg.Gateways.HostedLink
	if v := os.Getenv("HOSTED_ENABLED"); v != "" {
		hl.Enabled = boolOr(hl.Enabled, v)
	}
	if v := os.Getenv("HOSTED_BASE_URL"); v != "" {
		hl.BaseURL = v
	}
	if v := os.Getenv("HOSTED_CONSUMER_KEY"); v != "" {
		hl.ConsumerKey = v
	}
	if v := os.Getenv("HOSTED_CONSUMER_SECRET"); v != "" {
		hl.ConsumerSecret = v
	}
	if v := os.Getenv("HOSTED_WEBHOOK_SECRET"); v != "" {
		hl.WebhookSecret = v
	}

	if v := os.Getenv("NOTIFY_PRIMARY"); v != "" {
		cfg.Notify.Primary = v
	}
	if v := os.Getenv("NOTIFY_FALLBACK"); v != "" {
		cfg.Notify.Fallback = v
	}
	if v := os.Getenv("NOTIFY_HTTP_URL"); v != "" {
		cfg.Notify.HTTP.URL = v
	}
	if v := os.Getenv("NOTIFY_HTTP_API_KEY"); v != "" {
		cfg.Notify.HTTP.APIKey = v
	}
	if v := os.Getenv("NOTIFY_ADMINS"); v != "" {
		cfg.Notify.Admins = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Notify.Kafka.Topic = v
	}
	if v := os.Getenv("WORKER_STALE_AFTER"); v != "" {
		cfg.Worker.StaleAfter = durationOr(cfg.Worker.StaleAfter, v)
	}
	if v := os.Getenv("WORKER_POLL_BATCH"); v != "" {
		cfg.Worker.PollBatch = atoiOr(cfg.Worker.PollBatch, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func durationOr(fallback time.Duration, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
