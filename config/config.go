// Package config holds the YAML configuration of the echo server and the
// client.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
	Log    Log    `yaml:"log"`
}

// Server configures the server loop.
type Server struct {
	// Addr is the listen address, "host:port". Port 0 picks a free port.
	Addr string `yaml:"addr" validate:"required,listen_addr"`
	// Name is sent in the Server header when set.
	Name      string `yaml:"name"`
	KeepAlive bool   `yaml:"keep_alive"`
	// MaxRequestBodySize bounds request bodies; 0 means unlimited.
	MaxRequestBodySize int64         `yaml:"max_request_body_size" validate:"gte=0"`
	MaxHeaderBytes     int           `yaml:"max_header_bytes" validate:"gte=0"`
	ReadTimeout        time.Duration `yaml:"read_timeout" validate:"gte=0s"`
	WriteTimeout       time.Duration `yaml:"write_timeout" validate:"gte=0s"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" validate:"gte=0s"`
}

// Client configures outbound requests.
type Client struct {
	// Name is sent as User-Agent when set.
	Name           string `yaml:"name"`
	AllowRedirects bool   `yaml:"allow_redirects"`
	// MaxRedirects caps followed redirects per request. Turn following off
	// with allow_redirects rather than a zero cap.
	MaxRedirects  int `yaml:"max_redirects" validate:"gte=1,lte=100"`
	MaxIdlePerKey int `yaml:"max_idle_per_key" validate:"gte=1"`
	// MaxResponseBodySize bounds response bodies; 0 means unlimited.
	MaxResponseBodySize int64         `yaml:"max_response_body_size" validate:"gte=0"`
	IdleTimeout         time.Duration `yaml:"idle_timeout" validate:"gte=0s"`
	DialTimeout         time.Duration `yaml:"dial_timeout" validate:"gte=0s"`
	ReadTimeout         time.Duration `yaml:"read_timeout" validate:"gte=0s"`
	WriteTimeout        time.Duration `yaml:"write_timeout" validate:"gte=0s"`
	// RateLimit is the steady request rate per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:               "127.0.0.1:8080",
			Name:               "httpx-echo",
			KeepAlive:          true,
			MaxRequestBodySize: 10 << 20,
			MaxHeaderBytes:     64 << 10,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        90 * time.Second,
		},
		Client: Client{
			Name:                "httpx",
			AllowRedirects:      true,
			MaxRedirects:        10,
			MaxIdlePerKey:       1,
			MaxResponseBodySize: 64 << 20,
			IdleTimeout:         90 * time.Second,
			DialTimeout:         5 * time.Second,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        30 * time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Write stores cfg at path, creating parent directories. An existing file
// is never overwritten.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("config: %s already exists: %w", path, err)
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
