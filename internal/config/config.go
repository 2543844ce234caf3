package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreRemote   = "remote"
	StorePostgres = "postgres"

	DispatchInProcess = "inprocess"
	DispatchAsynq     = "asynq"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Config is read from an optional YAML file and then from QALERT_*
// environment variables, which win.
type Config struct {
	Port     string `yaml:"port" envconfig:"PORT"`
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`

	Store                  string `yaml:"store" envconfig:"STORE"`
	DatabaseURL            string `yaml:"db_dsn" envconfig:"DB_DSN"`
	RemoteURL              string `yaml:"remote_url" envconfig:"REMOTE_URL"`
	RemoteToken            string `yaml:"remote_token" envconfig:"REMOTE_TOKEN"`
	ExternalTimeoutSeconds int    `yaml:"external_timeout_seconds" envconfig:"EXTERNAL_TIMEOUT_SECONDS"`
	// SubjectsFile is a YAML list of patients loaded into the memory or
	// postgres store at startup.
	SubjectsFile string `yaml:"subjects_file" envconfig:"SUBJECTS_FILE"`

	WaitIntervalMinutes int `yaml:"wait_interval_minutes" envconfig:"WAIT_INTERVAL_MINUTES"`
	DisplayPollSeconds  int `yaml:"display_poll_seconds" envconfig:"DISPLAY_POLL_SECONDS"`
	ConsolePollSeconds  int `yaml:"console_poll_seconds" envconfig:"CONSOLE_POLL_SECONDS"`

	NotifyGateway     string `yaml:"notify_gateway" envconfig:"NOTIFY_GATEWAY"`
	NotifyURL         string `yaml:"notify_url" envconfig:"NOTIFY_URL"`
	NotifyToken       string `yaml:"notify_token" envconfig:"NOTIFY_TOKEN"`
	NotifyFrom        string `yaml:"notify_from" envconfig:"NOTIFY_FROM"`
	NotifyCountryCode string `yaml:"notify_country_code" envconfig:"NOTIFY_COUNTRY_CODE"`
	NotifyLanguage    string `yaml:"notify_language" envconfig:"NOTIFY_LANGUAGE"`
	NotifyTemplate    string `yaml:"notify_template" envconfig:"NOTIFY_TEMPLATE"`
	NotifyDispatcher  string `yaml:"notify_dispatcher" envconfig:"NOTIFY_DISPATCHER"`
	NotifyQueue       string `yaml:"notify_queue" envconfig:"NOTIFY_QUEUE"`
	WorkerConcurrency int    `yaml:"worker_concurrency" envconfig:"WORKER_CONCURRENCY"`

	RedisAddr     string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"REDIS_DB"`

	SessionBackend    string `yaml:"session_backend" envconfig:"SESSION_BACKEND"`
	SessionTTLSeconds int    `yaml:"session_ttl_seconds" envconfig:"SESSION_TTL_SECONDS"`
	// StaffKey is the shared front desk key, plain or bcrypt-hashed. Empty
	// disables staff login.
	StaffKey string `yaml:"staff_key" envconfig:"STAFF_KEY"`

	RateLimitPerMinute int `yaml:"rate_limit_per_min" envconfig:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst     int `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
}

func Defaults() Config {
	return Config{
		Port:                   "8080",
		Timezone:               "Asia/Jakarta",
		Store:                  StoreMemory,
		ExternalTimeoutSeconds: 5,
		WaitIntervalMinutes:    10,
		DisplayPollSeconds:     3,
		ConsolePollSeconds:     0,
		NotifyGateway:          "log",
		NotifyFrom:             "QALERT",
		NotifyCountryCode:      "62",
		NotifyLanguage:         "id",
		NotifyDispatcher:       DispatchInProcess,
		NotifyQueue:            "notifications",
		WorkerConcurrency:      5,
		SessionBackend:         SessionMemory,
		SessionTTLSeconds:      8 * 60 * 60,
		RateLimitPerMinute:     120,
		RateLimitBurst:         30,
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process("qalert", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.trim()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) trim() {
	c.Port = strings.TrimSpace(c.Port)
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RemoteURL = strings.TrimSpace(c.RemoteURL)
	c.SubjectsFile = strings.TrimSpace(c.SubjectsFile)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.NotifyDispatcher = strings.ToLower(strings.TrimSpace(c.NotifyDispatcher))
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.Timezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&c.Store, validation.In(StoreMemory, StoreRemote, StorePostgres)),
		validation.Field(&c.DatabaseURL, validation.When(c.Store == StorePostgres, validation.Required)),
		validation.Field(&c.RemoteURL, validation.When(c.Store == StoreRemote, validation.Required)),
		validation.Field(&c.ExternalTimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.WaitIntervalMinutes, validation.Required, validation.Min(1)),
		validation.Field(&c.DisplayPollSeconds, validation.Min(0)),
		validation.Field(&c.ConsolePollSeconds, validation.Min(0)),
		validation.Field(&c.NotifyDispatcher, validation.In(DispatchInProcess, DispatchAsynq)),
		validation.Field(&c.NotifyLanguage, validation.In("id", "en")),
		validation.Field(&c.SessionBackend, validation.In(SessionMemory, SessionRedis)),
		validation.Field(&c.RedisAddr, validation.When(c.NeedsRedis(), validation.Required)),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
}

func validTimezone(value interface{}) error {
	name, _ := value.(string)
	if _, err := time.LoadLocation(name); err != nil {
		return errors.New("unknown time zone")
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.NotifyDispatcher == DispatchAsynq || c.SessionBackend == SessionRedis
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) ExternalTimeout() time.Duration {
	return seconds(c.ExternalTimeoutSeconds)
}

func (c Config) DisplayPollInterval() time.Duration {
	return seconds(c.DisplayPollSeconds)
}

func (c Config) ConsolePollInterval() time.Duration {
	return seconds(c.ConsolePollSeconds)
}

func (c Config) SessionTTL() time.Duration {
	return seconds(c.SessionTTLSeconds)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
