// Package config loads the service configuration: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Locale   string         `yaml:"locale"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Display  DisplayConfig  `yaml:"display"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Model    ModelConfig    `yaml:"model"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
}

// HTTPConfig contains the control API listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains token secrets.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTAudience   string        `yaml:"jwt_audience"`
	ConsentSecret string        `yaml:"consent_secret"`
	ConsentTTL    time.Duration `yaml:"consent_ttl"`
}

// DisplayConfig describes the synthetic display backend.
type DisplayConfig struct {
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	Density         int           `yaml:"density"`
	FirstFrameDelay time.Duration `yaml:"first_frame_delay"`
	FrameInterval   time.Duration `yaml:"frame_interval"`
	RowAlignment    int           `yaml:"row_alignment"`
	// Source is an optional image file mirrored as the screen content.
	Source string `yaml:"source"`
}

// PipelineConfig contains the settle delays.
type PipelineConfig struct {
	Settle1 time.Duration `yaml:"settle_1"`
	Settle2 time.Duration `yaml:"settle_2"`
}

// ModelConfig selects the scoring model: a local artifact or a remote server.
type ModelConfig struct {
	Path        string        `yaml:"path"`
	RemoteAddr  string        `yaml:"remote_addr"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RedisConfig enables the Redis status sink when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Key     string `yaml:"key"`
	Channel string `yaml:"channel"`
}

// MQTTConfig enables the MQTT status sink when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// DatabaseConfig enables the run journal when DSN is set.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Locale:   "tr",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			ConsentTTL: 5 * time.Minute,
		},
		Display: DisplayConfig{
			Width:           1080,
			Height:          2400,
			Density:         420,
			FirstFrameDelay: 60 * time.Millisecond,
			FrameInterval:   16 * time.Millisecond,
			RowAlignment:    64,
		},
		Pipeline: PipelineConfig{
			Settle1: 100 * time.Millisecond,
			Settle2: 400 * time.Millisecond,
		},
		Model: ModelConfig{
			DialTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Key:     "airadar:status",
			Channel: "airadar:status:changes",
		},
		MQTT: MQTTConfig{
			ClientID: "airadar",
			Topic:    "airadar/status",
			QoS:      1,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("AIRADAR_LOG_LEVEL", c.LogLevel)
	c.Locale = getEnv("AIRADAR_LOCALE", c.Locale)
	c.HTTP.Addr = getEnv("AIRADAR_HTTP_ADDR", c.HTTP.Addr)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAudience = getEnv("JWT_AUDIENCE", c.Auth.JWTAudience)
	c.Auth.ConsentSecret = getEnv("AIRADAR_CONSENT_SECRET", c.Auth.ConsentSecret)
	c.Model.Path = getEnv("AIRADAR_MODEL_PATH", c.Model.Path)
	c.Model.RemoteAddr = getEnv("AIRADAR_MODEL_ADDR", c.Model.RemoteAddr)
	c.Display.Source = getEnv("AIRADAR_DISPLAY_SOURCE", c.Display.Source)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)

	for name, target := range map[string]*time.Duration{
		"AIRADAR_SETTLE_1": &c.Pipeline.Settle1,
		"AIRADAR_SETTLE_2": &c.Pipeline.Settle2,
	} {
		if raw := getEnv(name, ""); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*target = d
		}
	}
	for name, target := range map[string]*int{
		"AIRADAR_DISPLAY_WIDTH":   &c.Display.Width,
		"AIRADAR_DISPLAY_HEIGHT":  &c.Display.Height,
		"AIRADAR_DISPLAY_DENSITY": &c.Display.Density,
	} {
		if raw := getEnv(name, ""); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*target = n
		}
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Display.Width < 2 || c.Display.Height < 2 {
		errs = append(errs, fmt.Errorf("display size %dx%d must be at least 2x2", c.Display.Width, c.Display.Height))
	}
	if c.Display.Density <= 0 {
		errs = append(errs, errors.New("display.density must be positive"))
	}
	if c.Display.RowAlignment < 0 {
		errs = append(errs, errors.New("display.row_alignment must not be negative"))
	}
	if c.Pipeline.Settle1 <= 0 || c.Pipeline.Settle2 <= 0 {
		errs = append(errs, errors.New("pipeline settle delays must be positive"))
	}
	if c.Model.Path != "" && c.Model.RemoteAddr != "" {
		errs = append(errs, errors.New("model.path and model.remote_addr are mutually exclusive"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range", c.MQTT.QoS))
	}
	switch strings.ToLower(c.Locale) {
	case "", "tr", "en":
	default:
		errs = append(errs, fmt.Errorf("unsupported locale %q", c.Locale))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
