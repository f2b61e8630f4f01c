package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/eventbus/logging"
)

// fileConfig mirrors the TOML layout. Durations are strings parsed with
// time.ParseDuration.
type fileConfig struct {
	Bus       fileBus       `toml:"bus"`
	NATS      fileNATS      `toml:"nats"`
	Log       fileLog       `toml:"log"`
	Telemetry fileTelemetry `toml:"telemetry"`
}

type fileBus struct {
	Transport    string `toml:"transport"`
	BufferSize   int    `toml:"buffer_size"`
	ReplyTimeout string `toml:"reply_timeout"`
}

type fileNATS struct {
	URL            string `toml:"url"`
	Name           string `toml:"name"`
	Token          string `toml:"token"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	SubjectPrefix  string `toml:"subject_prefix"`
	QueueGroup     string `toml:"queue_group"`
	ReconnectWait  string `toml:"reconnect_wait"`
	MaxReconnects  int    `toml:"max_reconnects"`
	ConnectTimeout string `toml:"connect_timeout"`
}

type fileLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type fileTelemetry struct {
	Enabled        bool              `toml:"enabled"`
	Endpoint       string            `toml:"endpoint"`
	Protocol       string            `toml:"protocol"`
	Insecure       bool              `toml:"insecure"`
	ServiceName    string            `toml:"service_name"`
	SampleRatio    float64           `toml:"sample_ratio"`
	Debug          bool              `toml:"debug"`
	Headers        map[string]string `toml:"headers"`
	BatchTimeout   string            `toml:"batch_timeout"`
	ExportTimeout  string            `toml:"export_timeout"`
	Events         string            `toml:"events"`
	EventsEndpoint string            `toml:"events_endpoint"`
}

// apply copies every key present in the file onto cfg.
func (raw fileConfig) apply(meta toml.MetaData, cfg *Config) error {
	defined := func(key ...string) bool { return meta.IsDefined(key...) }
	duration := func(name, v string, dst *time.Duration) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = d
		return nil
	}

	if defined("bus", "transport") {
		cfg.Bus.Transport = strings.ToLower(strings.TrimSpace(raw.Bus.Transport))
	}
	if defined("bus", "buffer_size") {
		cfg.Bus.BufferSize = raw.Bus.BufferSize
	}
	if defined("bus", "reply_timeout") {
		if err := duration("bus.reply_timeout", raw.Bus.ReplyTimeout, &cfg.Bus.ReplyTimeout); err != nil {
			return err
		}
	}

	strs := []struct {
		key string
		src string
		dst *string
	}{
		{"url", raw.NATS.URL, &cfg.NATS.URL},
		{"name", raw.NATS.Name, &cfg.NATS.Name},
		{"token", raw.NATS.Token, &cfg.NATS.Token},
		{"user", raw.NATS.User, &cfg.NATS.User},
		{"password", raw.NATS.Password, &cfg.NATS.Password},
		{"subject_prefix", raw.NATS.SubjectPrefix, &cfg.NATS.SubjectPrefix},
		{"queue_group", raw.NATS.QueueGroup, &cfg.NATS.QueueGroup},
	}
	for _, s := range strs {
		if defined("nats", s.key) {
			*s.dst = strings.TrimSpace(s.src)
		}
	}
	if defined("nats", "reconnect_wait") {
		if err := duration("nats.reconnect_wait", raw.NATS.ReconnectWait, &cfg.NATS.ReconnectWait); err != nil {
			return err
		}
	}
	if defined("nats", "max_reconnects") {
		cfg.NATS.MaxReconnects = raw.NATS.MaxReconnects
	}
	if defined("nats", "connect_timeout") {
		if err := duration("nats.connect_timeout", raw.NATS.ConnectTimeout, &cfg.NATS.ConnectTimeout); err != nil {
			return err
		}
	}

	if defined("log", "level") {
		level, err := logging.ParseLevel(raw.Log.Level)
		if err != nil {
			return fmt.Errorf("parse log.level: %w", err)
		}
		cfg.Log.Level = level
	}
	if defined("log", "format") {
		cfg.Log.Format = logging.Format(strings.ToLower(strings.TrimSpace(raw.Log.Format)))
	}

	t := raw.Telemetry
	if defined("telemetry", "enabled") {
		cfg.Telemetry.Enabled = t.Enabled
	}
	if defined("telemetry", "endpoint") {
		cfg.Telemetry.Endpoint = strings.TrimSpace(t.Endpoint)
	}
	if defined("telemetry", "protocol") {
		cfg.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(t.Protocol))
	}
	if defined("telemetry", "insecure") {
		cfg.Telemetry.Insecure = t.Insecure
	}
	if defined("telemetry", "service_name") {
		cfg.Telemetry.ServiceName = strings.TrimSpace(t.ServiceName)
	}
	if defined("telemetry", "sample_ratio") {
		cfg.Telemetry.SampleRatio = t.SampleRatio
	}
	if defined("telemetry", "debug") {
		cfg.Telemetry.Debug = t.Debug
	}
	if defined("telemetry", "headers") {
		cfg.Telemetry.Headers = t.Headers
	}
	if defined("telemetry", "batch_timeout") {
		if err := duration("telemetry.batch_timeout", t.BatchTimeout, &cfg.Telemetry.BatchTimeout); err != nil {
			return err
		}
	}
	if defined("telemetry", "export_timeout") {
		if err := duration("telemetry.export_timeout", t.ExportTimeout, &cfg.Telemetry.ExportTimeout); err != nil {
			return err
		}
	}
	if defined("telemetry", "events") {
		cfg.Telemetry.Events = strings.ToLower(strings.TrimSpace(t.Events))
	}
	if defined("telemetry", "events_endpoint") {
		cfg.Telemetry.EventsEndpoint = strings.TrimSpace(t.EventsEndpoint)
	}
	return nil
}
