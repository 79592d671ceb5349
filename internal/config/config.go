// Package config loads orchestrator configuration.
// Values are resolved from (highest to lowest priority):
// 1. Environment variables (ORCH_*)
// 2. The YAML config file
// 3. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Aimtara/teachmo-sub002/internal/intake"
	"github.com/Aimtara/teachmo-sub002/internal/jobs"
	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/orchestrator"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region types

// Config holds all orchestrator configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" json:"store"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Mitigation MitigationConfig `yaml:"mitigation" json:"mitigation"`
	Schedule   ScheduleConfig   `yaml:"schedule" json:"schedule"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Relay      RelayConfig      `yaml:"relay" json:"relay"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `yaml:"path" json:"path"`
	// MaxHistory is the per-family signal ring size.
	MaxHistory int `yaml:"max_history" json:"max_history"`
}

// EngineConfig holds the control loop knobs worth changing without a rebuild.
type EngineConfig struct {
	Dwell       time.Duration    `yaml:"dwell" json:"dwell"`
	RedCooldown time.Duration    `yaml:"red_cooldown" json:"red_cooldown"`
	Weights     optimize.Weights `yaml:"weights" json:"weights"`
	Defaults    DefaultsConfig   `yaml:"defaults" json:"defaults"`
}

// DefaultsConfig is what a brand-new family starts with.
type DefaultsConfig struct {
	DailyAttentionBudgetMin int               `yaml:"daily_attention_budget_min" json:"daily_attention_budget_min"`
	MaxNotificationsPerHour int               `yaml:"max_notifications_per_hour" json:"max_notifications_per_hour"`
	QuietHours              *state.QuietHours `yaml:"quiet_hours" json:"quiet_hours"`
	Timezone                string            `yaml:"timezone" json:"timezone"`
}

// MitigationConfig tunes duplicate-storm mitigation.
type MitigationConfig struct {
	Threshold               int `yaml:"threshold" json:"threshold"`
	CooldownMinutes         int `yaml:"cooldown_minutes" json:"cooldown_minutes"`
	MaxNotificationsCeiling int `yaml:"max_notifications_ceiling" json:"max_notifications_ceiling"`
}

// ScheduleConfig drives the background jobs. An empty cron or zero interval
// disables that job.
type ScheduleConfig struct {
	DailyCron        string        `yaml:"daily_cron" json:"daily_cron"`
	WeeklyCron       string        `yaml:"weekly_cron" json:"weekly_cron"`
	ReapInterval     time.Duration `yaml:"reap_interval" json:"reap_interval"`
	DeliveryInterval time.Duration `yaml:"delivery_interval" json:"delivery_interval"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// RedisConfig enables cross-process family locks when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
}

// KafkaConfig enables the signal consumer when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	GroupID string   `yaml:"group_id" json:"group_id"`
}

// RelayConfig enables digest delivery when Addr is set.
type RelayConfig struct {
	Addr       string  `yaml:"addr" json:"addr"`
	RatePerSec float64 `yaml:"rate_per_sec" json:"rate_per_sec"`
}

// MetricsConfig exposes /metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LogConfig selects level and formatter.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// #endregion types

// #region defaults

// Default returns the default configuration.
func Default() *Config {
	engine := orchestrator.DefaultConfig()
	d := state.DefaultDefaults()
	return &Config{
		Store: StoreConfig{Driver: "memory", Path: "orchestrator.db", MaxHistory: store.DefaultMaxHistory},
		Engine: EngineConfig{
			Dwell:       engine.Reducer.Dwell,
			RedCooldown: engine.Reducer.Cooldown,
			Weights:     engine.Weights,
			Defaults: DefaultsConfig{
				DailyAttentionBudgetMin: d.DailyAttentionBudgetMin,
				MaxNotificationsPerHour: d.MaxNotificationsPerHour,
				QuietHours:              d.QuietHours,
				Timezone:                d.Timezone,
			},
		},
		Mitigation: MitigationConfig{
			Threshold:               engine.Mitigation.Threshold,
			CooldownMinutes:         int(engine.Mitigation.Cooldown / time.Minute),
			MaxNotificationsCeiling: engine.Mitigation.MaxNotificationsCeiling,
		},
		Schedule: ScheduleConfig{
			DailyCron:        "0 6 * * *",
			WeeklyCron:       "0 7 * * 1",
			ReapInterval:     5 * time.Minute,
			DeliveryInterval: 15 * time.Minute,
			Timeout:          2 * time.Minute,
		},
		Kafka:   KafkaConfig{Topic: "family-signals", GroupID: "orchestrator"},
		Relay:   RelayConfig{RatePerSec: 20},
		Metrics: MetricsConfig{Addr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load

// Load reads path (when non-empty), applies ORCH_* overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Store.Driver = getEnv("ORCH_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = getEnv("ORCH_STORE_PATH", cfg.Store.Path)
	cfg.Redis.URL = getEnv("ORCH_REDIS_URL", cfg.Redis.URL)
	if v := getEnv("ORCH_KAFKA_BROKERS", ""); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("ORCH_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getEnv("ORCH_KAFKA_GROUP", cfg.Kafka.GroupID)
	cfg.Relay.Addr = getEnv("ORCH_RELAY_ADDR", cfg.Relay.Addr)
	cfg.Metrics.Addr = getEnv("ORCH_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Log.Level = getEnv("ORCH_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("ORCH_LOG_FORMAT", cfg.Log.Format)
	cfg.Schedule.DailyCron = getEnv("ORCH_DAILY_CRON", cfg.Schedule.DailyCron)
	cfg.Schedule.WeeklyCron = getEnv("ORCH_WEEKLY_CRON", cfg.Schedule.WeeklyCron)

	var err error
	if cfg.Relay.RatePerSec, err = getFloatEnv("ORCH_RELAY_RATE", cfg.Relay.RatePerSec); err != nil {
		return err
	}
	if cfg.Mitigation.Threshold, err = getIntEnv("ORCH_MITIGATION_THRESHOLD", cfg.Mitigation.Threshold); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion load

// #region validate

// cronParser accepts the 5-field standard form.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron reports whether expr is a 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Validate checks the whole configuration and joins every problem found.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory or sqlite", c.Store.Driver))
	}
	if c.Store.MaxHistory < 0 {
		errs = append(errs, errors.New("store.max_history must not be negative"))
	}

	w := c.Engine.Weights
	for name, v := range map[string]float64{
		"kid": w.Kid, "relationship": w.Relationship, "school": w.School,
		"cognitive": w.Cognitive, "emotional": w.Emotional, "time": w.Time, "fairness": w.Fairness,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("engine.weights.%s must not be negative", name))
		}
	}
	d := c.Engine.Defaults
	if d.DailyAttentionBudgetMin < 0 || d.MaxNotificationsPerHour < 0 {
		errs = append(errs, errors.New("engine.defaults budgets must not be negative"))
	}
	if qh := d.QuietHours; qh != nil {
		_, okStart := state.ParseClock(qh.Start)
		_, okEnd := state.ParseClock(qh.End)
		if !okStart || !okEnd {
			errs = append(errs, fmt.Errorf("engine.defaults.quiet_hours %q-%q must be HH:MM", qh.Start, qh.End))
		}
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("engine.defaults.timezone: %w", err))
		}
	}

	if c.Mitigation.Threshold <= 0 {
		errs = append(errs, errors.New("mitigation.threshold must be positive"))
	}
	if c.Mitigation.CooldownMinutes <= 0 {
		errs = append(errs, errors.New("mitigation.cooldown_minutes must be positive"))
	}
	if c.Mitigation.MaxNotificationsCeiling < 0 {
		errs = append(errs, errors.New("mitigation.max_notifications_ceiling must not be negative"))
	}

	for name, expr := range map[string]string{"daily_cron": c.Schedule.DailyCron, "weekly_cron": c.Schedule.WeeklyCron} {
		if expr == "" {
			continue
		}
		if err := ValidateCron(expr); err != nil {
			errs = append(errs, fmt.Errorf("schedule.%s: %w", name, err))
		}
	}
	if c.Schedule.ReapInterval < 0 || c.Schedule.DeliveryInterval < 0 {
		errs = append(errs, errors.New("schedule intervals must not be negative"))
	}

	if len(c.Kafka.Brokers) > 0 && (c.Kafka.Topic == "" || c.Kafka.GroupID == "") {
		errs = append(errs, errors.New("kafka.topic and kafka.group_id are required when brokers are set"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// #endregion validate

// #region conversions

// StateDefaults is the starting state for new families.
func (c *Config) StateDefaults() state.Defaults {
	d := state.DefaultDefaults()
	d.DailyAttentionBudgetMin = c.Engine.Defaults.DailyAttentionBudgetMin
	d.MaxNotificationsPerHour = c.Engine.Defaults.MaxNotificationsPerHour
	d.QuietHours = c.Engine.Defaults.QuietHours
	if c.Engine.Defaults.Timezone != "" {
		d.Timezone = c.Engine.Defaults.Timezone
	}
	return d
}

// EngineConfig maps the file onto the engine's stock configuration.
func (c *Config) EngineConfig() orchestrator.Config {
	ec := orchestrator.DefaultConfig()
	if c.Engine.Dwell > 0 {
		ec.Reducer.Dwell = c.Engine.Dwell
	}
	if c.Engine.RedCooldown > 0 {
		ec.Reducer.Cooldown = c.Engine.RedCooldown
	}
	ec.Weights = c.Engine.Weights
	ec.Mitigation.Threshold = c.Mitigation.Threshold
	ec.Mitigation.Cooldown = time.Duration(c.Mitigation.CooldownMinutes) * time.Minute
	ec.Mitigation.MaxNotificationsCeiling = c.Mitigation.MaxNotificationsCeiling
	if c.Store.MaxHistory > 0 {
		ec.MaxHistory = c.Store.MaxHistory
	}
	return ec
}

// JobSchedule returns the background job cadence.
func (c *Config) JobSchedule() jobs.Schedule {
	return jobs.Schedule{
		DailyCron:        c.Schedule.DailyCron,
		WeeklyCron:       c.Schedule.WeeklyCron,
		ReapInterval:     c.Schedule.ReapInterval,
		DeliveryInterval: c.Schedule.DeliveryInterval,
		Timeout:          c.Schedule.Timeout,
	}
}

// IntakeConfig returns the Kafka reader settings.
func (c *Config) IntakeConfig() intake.Config {
	return intake.Config{Brokers: c.Kafka.Brokers, Topic: c.Kafka.Topic, GroupID: c.Kafka.GroupID}
}

// #endregion conversions
