// Package config loads bus configuration from TOML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/eventbus/bus"
	"github.com/vinayprograms/eventbus/errors"
	"github.com/vinayprograms/eventbus/logging"
	"github.com/vinayprograms/eventbus/telemetry"
)

// ErrInsecurePermissions is returned when a config file holding NATS
// secrets is readable by group or others.
var ErrInsecurePermissions = fmt.Errorf("config file has insecure permissions")

// Transport names.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Config is the complete bus configuration.
type Config struct {
	Bus       BusConfig
	NATS      NATSConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// BusConfig selects and tunes the transport.
type BusConfig struct {
	Transport    string
	BufferSize   int
	ReplyTimeout time.Duration
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL            string
	Name           string
	Token          string
	User           string
	Password       string
	SubjectPrefix  string
	QueueGroup     string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// LogConfig configures logging.
type LogConfig struct {
	Level  logging.Level
	Format logging.Format
}

// TelemetryConfig configures tracing and traffic events.
type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	Protocol    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
	Debug       bool

	// Headers are sent with every OTLP export request.
	Headers       map[string]string
	BatchTimeout  time.Duration
	ExportTimeout time.Duration

	// Events selects a traffic event exporter: noop, file or http.
	Events         string
	EventsEndpoint string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	nats := bus.DefaultNATSConfig()
	return Config{
		Bus: BusConfig{
			Transport:  TransportMemory,
			BufferSize: bus.DefaultConfig().BufferSize,
		},
		NATS: NATSConfig{
			URL:            nats.URL,
			SubjectPrefix:  nats.SubjectPrefix,
			QueueGroup:     nats.QueueGroup,
			ReconnectWait:  nats.ReconnectWait,
			MaxReconnects:  nats.MaxReconnects,
			ConnectTimeout: nats.ConnectTimeout,
		},
		Log: LogConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatConsole,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "eventbus",
			Events:      "noop",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"eventbus.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "eventbus", "config.toml"))
	}
	return paths
}

// LoadDefault loads the first config file found in StandardPaths, falling
// back to Default plus the environment. It returns the path used, if any.
func LoadDefault() (Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, "", err
	}
	return cfg, "", cfg.Validate()
}

// Load reads a TOML file over Default, applies EVENTBUS_* environment
// overrides and validates the result. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, errors.InvalidInput("unknown config keys: " + strings.Join(keys, ", "))
	}
	if err := raw.apply(meta, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.NATS.Token != "" || cfg.NATS.Password != "" {
		if err := checkPermissions(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// checkPermissions rejects secret-bearing files readable beyond the owner.
func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o (must not be group or world accessible)",
			ErrInsecurePermissions, path, mode)
	}
	return nil
}

// applyEnv overrides fields from EVENTBUS_* variables.
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"EVENTBUS_TRANSPORT":     &c.Bus.Transport,
		"EVENTBUS_NATS_URL":      &c.NATS.URL,
		"EVENTBUS_NATS_NAME":     &c.NATS.Name,
		"EVENTBUS_NATS_TOKEN":    &c.NATS.Token,
		"EVENTBUS_NATS_USER":     &c.NATS.User,
		"EVENTBUS_NATS_PASSWORD": &c.NATS.Password,
		"EVENTBUS_OTLP_ENDPOINT": &c.Telemetry.Endpoint,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := os.LookupEnv("EVENTBUS_LOG_LEVEL"); ok {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return errors.InvalidInput("EVENTBUS_LOG_LEVEL", errors.WithCause(err))
		}
		c.Log.Level = level
	}
	if v, ok := os.LookupEnv("EVENTBUS_LOG_FORMAT"); ok {
		c.Log.Format = logging.Format(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := os.LookupEnv("EVENTBUS_REPLY_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return errors.InvalidInput("EVENTBUS_REPLY_TIMEOUT", errors.WithCause(err))
		}
		c.Bus.ReplyTimeout = d
	}
	if v, ok := os.LookupEnv("EVENTBUS_TELEMETRY"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.InvalidInput("EVENTBUS_TELEMETRY", errors.WithCause(err))
		}
		c.Telemetry.Enabled = enabled
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.InvalidInput(fmt.Sprintf(format, args...))
	}

	switch c.Bus.Transport {
	case TransportMemory, TransportNATS:
	default:
		return invalid("bus.transport must be %q or %q, got %q", TransportMemory, TransportNATS, c.Bus.Transport)
	}
	if c.Bus.BufferSize <= 0 {
		return invalid("bus.buffer_size must be positive, got %d", c.Bus.BufferSize)
	}
	if c.Bus.ReplyTimeout < 0 {
		return invalid("bus.reply_timeout must not be negative")
	}

	if c.Bus.Transport == TransportNATS {
		if c.NATS.URL == "" {
			return invalid("nats.url is required for the nats transport")
		}
		if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
			return invalid("nats.subject_prefix %q is not a valid subject prefix", c.NATS.SubjectPrefix)
		}
	}

	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		return invalid("log.level: %v", err)
	}
	switch c.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return invalid("log.format must be console or json, got %q", c.Log.Format)
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return invalid("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.BatchTimeout < 0 || c.Telemetry.ExportTimeout < 0 {
		return invalid("telemetry timeouts must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return invalid("telemetry.sample_ratio must be within [0, 1]")
	}
	switch c.Telemetry.Events {
	case "noop", "":
	case "file", "http":
		if c.Telemetry.EventsEndpoint == "" {
			return invalid("telemetry.events_endpoint is required for %s events", c.Telemetry.Events)
		}
	default:
		return invalid("telemetry.events must be noop, file or http, got %q", c.Telemetry.Events)
	}
	return nil
}

// --- Conversions ---

// TransportConfig returns the transport configuration.
func (c Config) TransportConfig(logger *logging.Logger) bus.Config {
	return bus.Config{
		BufferSize:   c.Bus.BufferSize,
		ReplyTimeout: c.Bus.ReplyTimeout,
		Logger:       logger,
	}
}

// NATSBusConfig returns the NATS transport configuration.
func (c Config) NATSBusConfig(logger *logging.Logger) bus.NATSConfig {
	return bus.NATSConfig{
		Config:         c.TransportConfig(logger),
		URL:            c.NATS.URL,
		Name:           c.NATS.Name,
		Token:          c.NATS.Token,
		User:           c.NATS.User,
		Password:       c.NATS.Password,
		SubjectPrefix:  c.NATS.SubjectPrefix,
		QueueGroup:     c.NATS.QueueGroup,
		ReconnectWait:  c.NATS.ReconnectWait,
		MaxReconnects:  c.NATS.MaxReconnects,
		ConnectTimeout: c.NATS.ConnectTimeout,
	}
}

// LoggerConfig returns the logging configuration.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
	}
}

// ProviderConfig returns the OpenTelemetry provider configuration.
func (c Config) ProviderConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Transport:      c.Bus.Transport,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
		Debug:          c.Telemetry.Debug,
		SampleRatio:    c.Telemetry.SampleRatio,
		Headers:        c.Telemetry.Headers,
		BatchTimeout:   c.Telemetry.BatchTimeout,
		ExportTimeout:  c.Telemetry.ExportTimeout,
	}
}
