package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

var (
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDuplicateGroup is returned when two groups share a device name.
	ErrDuplicateGroup = errors.New("duplicate group name")
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Registry        RegistryConfig    `yaml:"registry"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	StartupDelay    *Duration         `yaml:"startup_delay"`    // Delay before lighting groups are created, 0s disables it
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
	Groups          []GroupConfig     `yaml:"groups" validate:"dive"`
}

// DefaultStartupDelay applies when startup_delay is not configured.
const DefaultStartupDelay = 10 * time.Second

// GetStartupDelay returns the delay before lighting groups are created.
// An explicit zero is kept; only a missing value falls back to DefaultStartupDelay.
func (c *Config) GetStartupDelay() time.Duration {
	if c.StartupDelay == nil {
		return DefaultStartupDelay
	}
	return c.StartupDelay.Duration()
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// GetLevel returns the configured log level
func (c LogConfig) GetLevel() string {
	return c.Level
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" default:"./buttonlight.sqlite" validate:"required"`
}

// RegistryConfig selects the device registry backend
type RegistryConfig struct {
	Driver string `yaml:"driver" default:"mqtt" validate:"oneof=mqtt memory"`
	// DeviceDriver is published as meta/driver of every virtual device.
	DeviceDriver string `yaml:"device_driver" default:"wb-buttonlight"`
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Host     string `yaml:"host" default:"127.0.0.1" validate:"required"`
	Port     int    `yaml:"port" default:"1883" validate:"port"`
	ClientID string `yaml:"client_id"` // Random suffix appended when empty
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// QoS for publications and subscriptions. Zero is a valid choice, so no default applies.
	QoS            int                  `yaml:"qos" validate:"min=0,max=2"`
	ConnectTimeout Duration             `yaml:"connect_timeout"`
	Reconnect      MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded       EmbeddedBrokerConfig `yaml:"embedded"`
}

// MQTTReconnectConfig contains reconnect backoff settings
type MQTTReconnectConfig struct {
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// EmbeddedBrokerConfig enables the in-process MQTT broker
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" default:":1883"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days" default:"30" validate:"min=1"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host" default:"0.0.0.0"`
	Port    int    `yaml:"port" default:"9090" validate:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers" default:"4" validate:"min=1"`       // Number of worker goroutines
	QueueSize int `yaml:"queue_size" default:"100" validate:"min=1"` // Event queue size
}

// GroupConfig declares one lighting group
type GroupConfig struct {
	Title   string    `yaml:"title" validate:"required"`
	Name    string    `yaml:"name" validate:"required,devicename"`
	Buttons TopicList `yaml:"buttons" validate:"dive,topic"`
	Lights  TopicList `yaml:"lights" validate:"dive,topic"`
	Motion  TopicList `yaml:"motion" validate:"dive,topic"`
	Master  bool      `yaml:"master"`
}

// TopicList accepts either a single topic or a list of topics
type TopicList []string

// UnmarshalYAML implements yaml.Unmarshaler for TopicList
func (l *TopicList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*l = nil
			return nil
		}
		*l = TopicList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: topic list must be a string or a list of strings", value.Line)
	}
}

// Topics converts the list to registry topics
func (l TopicList) Topics() []registry.Topic {
	out := make([]registry.Topic, 0, len(l))
	for _, s := range l {
		out = append(out, registry.Topic(s))
	}
	return out
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses, defaults and validates configuration data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	// MQTT defaults
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.Reconnect.InitialDelay == 0 {
		cfg.MQTT.Reconnect.InitialDelay = Duration(1 * time.Second)
	}
	if cfg.MQTT.Reconnect.MaxDelay == 0 {
		cfg.MQTT.Reconnect.MaxDelay = Duration(1 * time.Minute)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if err := newValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		fields := make([]string, 0, len(verrs))
		for _, e := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", e.Namespace(), e.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
	}

	seen := make(map[string]bool, len(cfg.Groups))
	for _, g := range cfg.Groups {
		if seen[g.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.Name)
		}
		seen[g.Name] = true
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	mustRegister(v, "port", port)
	mustRegister(v, "topic", topic)
	mustRegister(v, "devicename", deviceName)
	return v
}

func mustRegister(v *validator.Validate, name string, fn validator.Func) {
	if err := v.RegisterValidation(name, fn); err != nil {
		panic(fmt.Sprintf("registering validator %s: %v", name, err))
	}
}

// Port type validation.
func port(fl validator.FieldLevel) bool {
	val := fl.Field().Int()
	return val > 0 && val <= 65535
}

// Topic validation: "device/control".
func topic(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.HasSuffix(s, "#error") {
		return false
	}
	_, err := registry.Parse(s)
	return err == nil
}

// Device name validation: no topic separators or MQTT wildcards.
func deviceName(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "/#+ ")
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
