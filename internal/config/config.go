package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Quiz     QuizConfig     `yaml:"quiz"`
	Client   ClientConfig   `yaml:"client"`
}

type ServerConfig struct {
	Port     string   `yaml:"port" env:"PORT"`
	Tokens   []string `yaml:"tokens" env:"QUIZ_HUB_TOKENS" envSeparator:","`
	PongWait string   `yaml:"pong_wait" env:"QUIZ_PONG_WAIT"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	TTL      string `yaml:"ttl" env:"REDIS_TTL"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

type QuizConfig struct {
	TTL string `yaml:"ttl" env:"QUIZ_TTL"`
}

// ClientConfig holds the settings of the interactive host and join commands.
type ClientConfig struct {
	ServerURL         string `yaml:"server_url" env:"QUIZ_SERVER_URL"`
	APIURL            string `yaml:"api_url" env:"QUIZ_API_URL"`
	Token             string `yaml:"token" env:"QUIZ_TOKEN"`
	Name              string `yaml:"name" env:"QUIZ_NAME"`
	Avatar            string `yaml:"avatar" env:"QUIZ_AVATAR"`
	Email             string `yaml:"email" env:"QUIZ_EMAIL"`
	ReviewDwell       string `yaml:"review_dwell" env:"QUIZ_REVIEW_DWELL"`
	InvokeTimeout     string `yaml:"invoke_timeout" env:"QUIZ_INVOKE_TIMEOUT"`
	ReconnectAttempts int    `yaml:"reconnect_attempts" env:"QUIZ_RECONNECT_ATTEMPTS"`
}

// Default returns the settings used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Client.ServerURL = "ws://localhost:8080/ws"
	cfg.Client.APIURL = "http://localhost:8080/api"
	cfg.Client.ReconnectAttempts = 5
	return cfg
}

// Load reads YAML config from path on top of Default, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
