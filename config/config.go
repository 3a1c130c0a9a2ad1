package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr         string
	ShutdownTimeout  time.Duration
	LogLevel         log.Level
	LogFormat        string
	CORSAllowOrigins []string
	RedisConn        string
	CacheTTL         time.Duration
	CachePrefix      string
	TracingEnabled   bool
	MetricsEnabled   bool
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		HTTPAddr:         ":8000",
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         log.InfoLevel,
		LogFormat:        "text",
		CORSAllowOrigins: []string{"*"},
		CacheTTL:         30 * time.Second,
		CachePrefix:      "task-api",
		TracingEnabled:   true,
		MetricsEnabled:   true,
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	env := envReader{lookup: lookup}

	if port := env.str("PORT", ""); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.HTTPAddr = env.str("HTTP_ADDR", cfg.HTTPAddr)
	cfg.ShutdownTimeout = env.dur("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	if env.boolean("DEBUG", false) {
		cfg.LogLevel = log.DebugLevel
	}
	if v := env.str("LOG_LEVEL", ""); v != "" {
		lvl, err := log.ParseLevel(v)
		if err != nil {
			env.fail("LOG_LEVEL", err)
		} else {
			cfg.LogLevel = lvl
		}
	}
	cfg.LogFormat = strings.ToLower(env.str("LOG_FORMAT", cfg.LogFormat))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		env.fail("LOG_FORMAT", fmt.Errorf("must be text or json, got %q", cfg.LogFormat))
	}

	if v := env.str("CORS_ALLOW_ORIGINS", ""); v != "" {
		cfg.CORSAllowOrigins = splitList(v)
	}

	cfg.RedisConn = env.str("REDIS_CONNECTION_STRING", "")
	cfg.CacheTTL = env.dur("CACHE_TTL", cfg.CacheTTL)
	if cfg.CacheTTL < 0 {
		env.fail("CACHE_TTL", errors.New("must not be negative"))
	}
	cfg.CachePrefix = env.str("CACHE_PREFIX", cfg.CachePrefix)
	cfg.TracingEnabled = env.boolean("TRACING_ENABLED", cfg.TracingEnabled)
	cfg.MetricsEnabled = env.boolean("METRICS_ENABLED", cfg.MetricsEnabled)

	if cfg.ShutdownTimeout <= 0 {
		env.fail("SHUTDOWN_TIMEOUT", errors.New("must be greater than zero"))
	}

	if len(env.errs) > 0 {
		return Config{}, errors.Join(env.errs...)
	}
	return cfg, nil
}

// RedisOptions parses RedisConn, accepting either a redis:// URL or the
// "host:port,password=...,ssl=true" form. It returns nil when no Redis is configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisConn == "" {
		return nil, nil
	}
	if opts, err := redis.ParseURL(c.RedisConn); err == nil {
		return opts, nil
	}
	parts := strings.Split(c.RedisConn, ",")
	if strings.TrimSpace(parts[0]) == "" || strings.Contains(parts[0], "=") {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING %q", c.RedisConn)
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (e *envReader) str(key, def string) string {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
