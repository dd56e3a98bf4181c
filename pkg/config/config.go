package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/service/transport"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		// CORSOrigins lists allowed origins; "*" allows any and "*.example.com" any subdomain.
		CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Hub struct {
		HeartbeatInterval      time.Duration `yaml:"heartbeat_interval" default:"30s"`
		StalenessCheckInterval time.Duration `yaml:"staleness_check_interval" default:"10s"`
		StalenessThreshold     time.Duration `yaml:"staleness_threshold" default:"60s"`
		BufferSize             int           `yaml:"buffer_size" default:"1000" validate:"min=1"`
		BufferWindow           time.Duration `yaml:"buffer_window" default:"5m"`
		BufferCleanInterval    time.Duration `yaml:"buffer_clean_interval" default:"30s"`
		SnapshotHistory        int           `yaml:"snapshot_history" default:"120" validate:"min=1"`
	} `yaml:"hub"`
	Feeds    []Feed `yaml:"feeds" validate:"required,min=1,dive"`
	Pipeline struct {
		MaxRPS     int           `yaml:"max_rps" default:"50"`
		BufferSize int           `yaml:"buffer_size" default:"2000" validate:"min=1"`
		BatchSize  int           `yaml:"batch_size" default:"200" validate:"min=1"`
		BatchFlush time.Duration `yaml:"batch_flush" default:"1s"`
	} `yaml:"pipeline"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
		Topic        string   `yaml:"topic" default:"markethub.messages"`
		EventTopic   string   `yaml:"event_topic" default:"markethub.events"`
		LogTopic     string   `yaml:"log_topic"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		Prefix      string        `yaml:"prefix" default:"markethub"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"10m"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"markethub"`
		Table            string        `yaml:"table" default:"messages"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Analytics struct {
		Interval   time.Duration `yaml:"interval" default:"5s"`
		Symbols    []string      `yaml:"symbols"`
		ServiceURL string        `yaml:"service_url"`
		Timeout    time.Duration `yaml:"timeout" default:"3s"`
		Momentum   struct {
			BuyThresholdPct  float64 `yaml:"buy_threshold_pct" default:"1.5"`
			SellThresholdPct float64 `yaml:"sell_threshold_pct" default:"-1.5"`
		} `yaml:"momentum"`
	} `yaml:"analytics"`
}

// Feed is the YAML form of a feed. See FeedConfigs.
type Feed struct {
	Name                 string        `yaml:"name" validate:"required"`
	Transport            string        `yaml:"transport" default:"websocket" validate:"oneof=websocket kafka nats mqtt sim"`
	Endpoint             string        `yaml:"endpoint" validate:"required"`
	Codec                string        `yaml:"codec" default:"envelope" validate:"oneof=envelope finnhub"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval" default:"5s"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" default:"10" validate:"min=0"`
	Channels             []string      `yaml:"channels"`
	Kinds                []string      `yaml:"kinds"`
	BufferSize           int           `yaml:"buffer_size"`
	BufferWindow         time.Duration `yaml:"buffer_window"`
}

var validate = validator.New()

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(b))))
}

// Parse decodes raw YAML into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("HUB_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("HUB_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// applyDefaults fills `default` tags. Feeds are defaulted explicitly, one by one.
func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	for i := range c.Feeds {
		if err := defaults.Set(&c.Feeds[i]); err != nil {
			return fmt.Errorf("feed %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks struct tags plus cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Feeds))
	for _, f := range c.Feeds {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate feed name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if err := ValidateFeed(f); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFeed checks the rules of a single feed that struct tags cannot express.
func ValidateFeed(f Feed) error {
	if f.Name == models.AnalyticsFeed {
		return fmt.Errorf("feed name %q is reserved", f.Name)
	}
	if !transport.Accepts(f.Transport, f.Endpoint) {
		return fmt.Errorf("feed %s: endpoint %q does not match transport %s", f.Name, f.Endpoint, f.Transport)
	}
	for _, k := range f.Kinds {
		if _, err := models.ParseKind(k); err != nil {
			return fmt.Errorf("feed %s: %w", f.Name, err)
		}
	}
	return nil
}

// FeedConfigs converts the YAML feeds into hub feed configs, inheriting hub buffer defaults.
func (c *Config) FeedConfigs() []models.FeedConfig {
	out := make([]models.FeedConfig, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		out = append(out, c.FeedConfig(f))
	}
	return out
}

// FeedConfig converts one YAML feed.
func (c *Config) FeedConfig(f Feed) models.FeedConfig {
	fc := models.FeedConfig{
		Name:                 f.Name,
		Endpoint:             f.Endpoint,
		Transport:            f.Transport,
		Codec:                f.Codec,
		ReconnectInterval:    f.ReconnectInterval,
		MaxReconnectAttempts: f.MaxReconnectAttempts,
		DefaultChannels:      append([]string(nil), f.Channels...),
		BufferSize:           f.BufferSize,
		BufferWindow:         f.BufferWindow,
	}
	for _, k := range f.Kinds {
		kind, _ := models.ParseKind(k)
		fc.Kinds = append(fc.Kinds, kind)
	}
	if fc.BufferSize <= 0 {
		fc.BufferSize = c.Hub.BufferSize
	}
	if fc.BufferWindow <= 0 {
		fc.BufferWindow = c.Hub.BufferWindow
	}
	return fc
}
