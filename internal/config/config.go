package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"fleetpulse/internal/model"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	Kafka       KafkaConfig       `json:"kafka" yaml:"kafka"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	Settings    model.Settings    `json:"settings" yaml:"settings"`
	Conditioner ConditionerConfig `json:"conditioner" yaml:"conditioner"`
	Fanout      FanoutConfig      `json:"fanout" yaml:"fanout"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
	Advisory    AdvisoryConfig    `json:"advisory" yaml:"advisory"`
	Realtime    RealtimeConfig    `json:"realtime" yaml:"realtime"`
}

type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	MaxBodyBytes int64         `json:"max_body_bytes" yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

type ConditionerConfig struct {
	Shards    int `json:"shards" yaml:"shards"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

type BranchConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

type FanoutConfig struct {
	Alerts       BranchConfig  `json:"alerts" yaml:"alerts"`
	Maintenance  BranchConfig  `json:"maintenance" yaml:"maintenance"`
	Advisory     BranchConfig  `json:"advisory" yaml:"advisory"`
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

type AlertsConfig struct {
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	RetryDelay   time.Duration `json:"retry_delay" yaml:"retry_delay"`
	RecentLimit  int           `json:"recent_limit" yaml:"recent_limit"`
}

type AdvisoryConfig struct {
	Endpoint        string        `json:"endpoint" yaml:"endpoint"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	DefaultThrottle time.Duration `json:"default_throttle" yaml:"default_throttle"`
}

type RealtimeConfig struct {
	HistorySize int `json:"history_size" yaml:"history_size"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 2 << 20,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Kafka:   KafkaConfig{Enabled: false},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:fleetpulse.db?_pragma=busy_timeout(5000)"},
		Redis:   RedisConfig{Enabled: false, Addr: "localhost:6379", Prefix: "fleetpulse:"},
		Settings: model.Settings{
			SignatureRequired:         true,
			AdvisoryEnabled:           false,
			AdvisoryThrottleMinutes:   0,
			TimestampToleranceMinutes: 5,
		},
		Conditioner: ConditionerConfig{Shards: 16, QueueSize: 256},
		Fanout: FanoutConfig{
			Alerts:       BranchConfig{Workers: 8, QueueSize: 1024},
			Maintenance:  BranchConfig{Workers: 4, QueueSize: 512},
			Advisory:     BranchConfig{Workers: 2, QueueSize: 128},
			DrainTimeout: 10 * time.Second,
		},
		Alerts: AlertsConfig{
			DedupeWindow: 10 * time.Minute,
			RetryDelay:   1 * time.Second,
			RecentLimit:  1000,
		},
		Advisory: AdvisoryConfig{
			Timeout:         30 * time.Second,
			DefaultThrottle: 2 * time.Minute,
		},
		Realtime: RealtimeConfig{HistorySize: 100},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = def.HTTP.MaxBodyBytes
	}
	if cfg.Conditioner.Shards <= 0 {
		cfg.Conditioner.Shards = def.Conditioner.Shards
	}
	if cfg.Conditioner.QueueSize <= 0 {
		cfg.Conditioner.QueueSize = def.Conditioner.QueueSize
	}
	applyBranchDefaults(&cfg.Fanout.Alerts, def.Fanout.Alerts)
	applyBranchDefaults(&cfg.Fanout.Maintenance, def.Fanout.Maintenance)
	applyBranchDefaults(&cfg.Fanout.Advisory, def.Fanout.Advisory)
	if cfg.Fanout.DrainTimeout <= 0 {
		cfg.Fanout.DrainTimeout = def.Fanout.DrainTimeout
	}
	if cfg.Alerts.DedupeWindow <= 0 {
		cfg.Alerts.DedupeWindow = def.Alerts.DedupeWindow
	}
	if cfg.Alerts.RetryDelay <= 0 {
		cfg.Alerts.RetryDelay = def.Alerts.RetryDelay
	}
	if cfg.Alerts.RecentLimit <= 0 {
		cfg.Alerts.RecentLimit = def.Alerts.RecentLimit
	}
	if cfg.Advisory.Timeout <= 0 {
		cfg.Advisory.Timeout = def.Advisory.Timeout
	}
	if cfg.Advisory.DefaultThrottle <= 0 {
		cfg.Advisory.DefaultThrottle = def.Advisory.DefaultThrottle
	}
	if cfg.Realtime.HistorySize <= 0 {
		cfg.Realtime.HistorySize = def.Realtime.HistorySize
	}
	if cfg.Settings.TimestampToleranceMinutes <= 0 {
		cfg.Settings.TimestampToleranceMinutes = def.Settings.TimestampToleranceMinutes
	}
}

func applyBranchDefaults(b *BranchConfig, def BranchConfig) {
	if b.Workers <= 0 {
		b.Workers = def.Workers
	}
	if b.QueueSize <= 0 {
		b.QueueSize = def.QueueSize
	}
}

func Validate(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr required")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" || cfg.Kafka.GroupID == "" {
			return errors.New("kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr required when redis.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	if cfg.Settings.AdvisoryEnabled && cfg.Advisory.Endpoint == "" {
		return errors.New("advisory.endpoint required when settings.advisory_enabled is true")
	}
	if cfg.Settings.AdvisoryThrottleMinutes < 0 {
		return errors.New("settings.advisory_throttle_minutes must be >= 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an already built config; Reload and Watch are no-ops.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

// Settings returns the runtime settings section of the current config.
func (m *Manager) Settings() model.Settings {
	return m.Get().Settings
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) touch() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime())
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	last, _ := m.modTime.Load().(time.Time)
	return info.ModTime().After(last), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
