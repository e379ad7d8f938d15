// Package config loads enginelink settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/platform/privacylog"
)

const (
	TransportSim = "sim"
	TransportRPC = "rpc"

	DefaultListen = "127.0.0.1:8790"
)

type Config struct {
	Transport string
	RPC       RPCConfig
	Calls     CallConfig
	Server    ServerConfig
	Log       LogConfig
}

// RPCConfig configures the client side of the remote session transport.
type RPCConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// CallConfig configures linked proxies.
type CallConfig struct {
	RateLimit float64
	Burst     int
	TempDir   string
}

// ServerConfig configures the simulated session server.
type ServerConfig struct {
	Listen         string
	Token          string
	RequireToken   bool
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	WorkDir        string
}

type LogConfig struct {
	Level  string
	Format string
}

// File is the YAML shape of a config file.
type File struct {
	Transport string `yaml:"transport"`
	RPC       struct {
		URL     string        `yaml:"url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"rpc"`
	Calls struct {
		RateLimit float64 `yaml:"rateLimit"`
		Burst     int     `yaml:"burst"`
		TempDir   string  `yaml:"tempDir"`
	} `yaml:"calls"`
	Server struct {
		Listen         string  `yaml:"listen"`
		Token          string  `yaml:"token"`
		RequireToken   *bool   `yaml:"requireToken"`
		RateLimitRPS   float64 `yaml:"rateLimitRPS"`
		RateLimitBurst int     `yaml:"rateLimitBurst"`
		MaxBodyBytes   int64   `yaml:"maxBodyBytes"`
		WorkDir        string  `yaml:"workDir"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Default() Config {
	return Config{
		Transport: TransportSim,
		RPC: RPCConfig{
			URL:     "http://" + DefaultListen + "/rpc",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Listen:         DefaultListen,
			RequireToken:   true,
			RateLimitRPS:   30,
			RateLimitBurst: 60,
			MaxBodyBytes:   1 << 20,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFromPath reads path, or the first default location that exists when
// path is empty, merges it over Default and applies ENGINELINK_* overrides.
// A missing default file is not an error; a missing explicit path is.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()
	candidates := []string{"configs/enginelink.yaml", "enginelink.yaml"}
	if path != "" {
		candidates = []string{path}
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) && path == "" {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", candidate, err)
		}
		var parsed File
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", candidate, err)
		}
		Merge(&cfg, parsed)
		break
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Merge copies every field set in src over dst.
func Merge(dst *Config, src File) {
	setString(&dst.Transport, src.Transport)
	setString(&dst.RPC.URL, src.RPC.URL)
	setString(&dst.RPC.Token, src.RPC.Token)
	if src.RPC.Timeout != 0 {
		dst.RPC.Timeout = src.RPC.Timeout
	}
	if src.Calls.RateLimit != 0 {
		dst.Calls.RateLimit = src.Calls.RateLimit
	}
	if src.Calls.Burst != 0 {
		dst.Calls.Burst = src.Calls.Burst
	}
	setString(&dst.Calls.TempDir, src.Calls.TempDir)
	setString(&dst.Server.Listen, src.Server.Listen)
	setString(&dst.Server.Token, src.Server.Token)
	if src.Server.RequireToken != nil {
		dst.Server.RequireToken = *src.Server.RequireToken
	}
	if src.Server.RateLimitRPS != 0 {
		dst.Server.RateLimitRPS = src.Server.RateLimitRPS
	}
	if src.Server.RateLimitBurst != 0 {
		dst.Server.RateLimitBurst = src.Server.RateLimitBurst
	}
	if src.Server.MaxBodyBytes != 0 {
		dst.Server.MaxBodyBytes = src.Server.MaxBodyBytes
	}
	setString(&dst.Server.WorkDir, src.Server.WorkDir)
	setString(&dst.Log.Level, src.Log.Level)
	setString(&dst.Log.Format, src.Log.Format)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// ApplyEnvOverrides applies ENGINELINK_* variables. Malformed numeric or
// boolean values are errors.
func ApplyEnvOverrides(cfg *Config) error {
	setString(&cfg.Transport, os.Getenv("ENGINELINK_TRANSPORT"))
	setString(&cfg.RPC.URL, os.Getenv("ENGINELINK_RPC_URL"))
	if token := strings.TrimSpace(os.Getenv("ENGINELINK_RPC_TOKEN")); token != "" {
		cfg.RPC.Token = token
		cfg.Server.Token = token
	}
	setString(&cfg.Server.Listen, os.Getenv("ENGINELINK_LISTEN"))
	setString(&cfg.Server.WorkDir, os.Getenv("ENGINELINK_WORK_DIR"))
	setString(&cfg.Calls.TempDir, os.Getenv("ENGINELINK_TEMP_DIR"))
	setString(&cfg.Log.Level, os.Getenv("ENGINELINK_LOG_LEVEL"))
	setString(&cfg.Log.Format, os.Getenv("ENGINELINK_LOG_FORMAT"))

	var errs []error
	if raw := strings.TrimSpace(os.Getenv("ENGINELINK_RPC_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		errs = append(errs, envError("ENGINELINK_RPC_TIMEOUT", err))
		if err == nil {
			cfg.RPC.Timeout = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ENGINELINK_CALL_RATE")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		errs = append(errs, envError("ENGINELINK_CALL_RATE", err))
		if err == nil {
			cfg.Calls.RateLimit = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ENGINELINK_CALL_BURST")); raw != "" {
		v, err := strconv.Atoi(raw)
		errs = append(errs, envError("ENGINELINK_CALL_BURST", err))
		if err == nil {
			cfg.Calls.Burst = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ENGINELINK_REQUIRE_RPC_TOKEN")); raw != "" {
		v, err := strconv.ParseBool(raw)
		errs = append(errs, envError("ENGINELINK_REQUIRE_RPC_TOKEN", err))
		if err == nil {
			cfg.Server.RequireToken = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ENGINELINK_RPC_RATE_LIMIT_RPS")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		errs = append(errs, envError("ENGINELINK_RPC_RATE_LIMIT_RPS", err))
		if err == nil {
			cfg.Server.RateLimitRPS = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ENGINELINK_RPC_RATE_LIMIT_BURST")); raw != "" {
		v, err := strconv.Atoi(raw)
		errs = append(errs, envError("ENGINELINK_RPC_RATE_LIMIT_BURST", err))
		if err == nil {
			cfg.Server.RateLimitBurst = v
		}
	}
	return multierr.Combine(errs...)
}

func envError(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportSim, TransportRPC:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportSim, TransportRPC)
	}
	if c.Transport == TransportRPC && strings.TrimSpace(c.RPC.URL) == "" {
		return errors.New("rpc transport requires rpc.url")
	}
	if c.RPC.Timeout < 0 {
		return fmt.Errorf("rpc.timeout must not be negative, got %s", c.RPC.Timeout)
	}
	if c.Calls.RateLimit < 0 || c.Calls.Burst < 0 {
		return errors.New("calls.rateLimit and calls.burst must not be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.maxBodyBytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// EngineOptions returns the link options implied by the call settings.
func (c Config) EngineOptions(logger *slog.Logger) []engine.Option {
	opts := []engine.Option{engine.WithLogger(logger)}
	if c.Calls.RateLimit > 0 {
		burst := c.Calls.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, engine.WithRateLimit(rate.Limit(c.Calls.RateLimit), burst))
	}
	if c.Calls.TempDir != "" {
		opts = append(opts, engine.WithTempDir(c.Calls.TempDir))
	}
	return opts
}

// NewLogger builds a logger writing to w with the privacy sanitizing
// handler in front.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(privacylog.WrapHandler(h)), nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}
