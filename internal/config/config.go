package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	TurnTimeout    time.Duration `env:"TURN_TIMEOUT" envDefault:"30s"`
	HistorySize    int           `env:"HISTORY_SIZE" envDefault:"100"`
	ListenerBuffer int           `env:"LISTENER_BUFFER" envDefault:"128"`
	SSEKeepAlive   time.Duration `env:"SSE_KEEPALIVE" envDefault:"15s"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
// Values already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return errors.New("config: HTTP_ADDR is empty")
	case c.TurnTimeout <= 0:
		return fmt.Errorf("config: TURN_TIMEOUT must be positive, got %s", c.TurnTimeout)
	case c.HistorySize <= 0:
		return fmt.Errorf("config: HISTORY_SIZE must be positive, got %d", c.HistorySize)
	case c.ListenerBuffer <= 0:
		return fmt.Errorf("config: LISTENER_BUFFER must be positive, got %d", c.ListenerBuffer)
	case c.SSEKeepAlive <= 0:
		return fmt.Errorf("config: SSE_KEEPALIVE must be positive, got %s", c.SSEKeepAlive)
	case c.LogFormat != "json" && c.LogFormat != "console":
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}
