package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type App struct {
	Env         string `yaml:"env"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

func (a *App) PortString() string { return fmt.Sprintf("%d", a.Port) }

type Mongo struct {
	URI string `yaml:"uri"`
	DB  string `yaml:"db"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type NATS struct {
	URL string `yaml:"url"`
}

type Push struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (p *Push) Timeout() time.Duration { return time.Duration(p.TimeoutSeconds) * time.Second }

type JWT struct {
	HSSecret string `yaml:"hs_secret"`
}

// Sync tunes the reconciliation engine. Zero values fall back to defaults
// in Load, so a minimal config.yaml stays minimal.
type Sync struct {
	ReadFlushMillis  int `yaml:"read_flush_ms"`
	ReadFlushCap     int `yaml:"read_flush_cap"`
	OrphanTTLSeconds int `yaml:"orphan_ttl_seconds"`
	OrphanCap        int `yaml:"orphan_cap"`

	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

func (s *Sync) ReadFlushWindow() time.Duration {
	return time.Duration(s.ReadFlushMillis) * time.Millisecond
}

func (s *Sync) OrphanTTL() time.Duration {
	return time.Duration(s.OrphanTTLSeconds) * time.Second
}

func (s *Sync) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLMinutes) * time.Minute
}

type Config struct {
	App   App   `yaml:"app"`
	Mongo Mongo `yaml:"mongo"`
	Redis Redis `yaml:"redis"`
	NATS  NATS  `yaml:"nats"`
	Push  Push  `yaml:"push"`
	JWT   JWT   `yaml:"jwt"`
	Sync  Sync  `yaml:"sync"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		b, _ := os.ReadFile("config.yaml")
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	overrideFromEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.App.Port = n
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.App.MetricsPort = n
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_NAME"); v != "" {
		cfg.Mongo.DB = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PUSH_ENDPOINT"); v != "" {
		cfg.Push.Endpoint = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.HSSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.MetricsPort == 0 {
		cfg.App.MetricsPort = 9091
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "sync"
	}
	if cfg.Push.TimeoutSeconds == 0 {
		cfg.Push.TimeoutSeconds = 5
	}
	if cfg.Sync.ReadFlushMillis == 0 {
		cfg.Sync.ReadFlushMillis = 250
	}
	if cfg.Sync.ReadFlushCap == 0 {
		cfg.Sync.ReadFlushCap = 64
	}
	if cfg.Sync.OrphanTTLSeconds == 0 {
		cfg.Sync.OrphanTTLSeconds = 300
	}
	if cfg.Sync.OrphanCap == 0 {
		cfg.Sync.OrphanCap = 256
	}
	if cfg.Sync.SessionTTLMinutes == 0 {
		cfg.Sync.SessionTTLMinutes = 30
	}
}

func validate(cfg *Config) error {
	if cfg.App.Port == 0 {
		return errors.New("app.port missing or invalid")
	}
	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri missing")
	}
	if cfg.Mongo.DB == "" {
		return errors.New("mongo.db missing")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url missing")
	}
	if cfg.Push.Endpoint == "" {
		return errors.New("push.endpoint missing")
	}
	if cfg.JWT.HSSecret == "" {
		return errors.New("jwt.hs_secret missing")
	}
	return nil
}
