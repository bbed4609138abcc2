package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated process configuration for a synctv-core node.
type Config struct {
	// Required
	NodeID           string
	JWTPublishSecret string
	RedisAddr        string
	GRPCListenAddr   string
	HTTPListenAddr   string
	PostgresDSN      string

	// Optional, defaulted
	GoEnv         string
	LogLevel      string
	RedisPassword string
	KeyPrefix     string

	DedupWindow     time.Duration
	DedupCleanup    time.Duration
	PublisherTTL    time.Duration
	NodeTTL         time.Duration
	PullIdleTimeout time.Duration
	PullCheckPeriod time.Duration
	HLSSegmentSecs  int
	HLSWindowSize   int

	HeadlessServiceName string
	PodNamespace        string
	PodIP               string

	RateLimitChat string
}

// ValidateEnv reads and validates environment variables, accumulating every
// problem into a single joined error rather than failing on the first one.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var problems []string

	cfg.NodeID = os.Getenv("NODE_ID")
	if cfg.NodeID == "" {
		problems = append(problems, "NODE_ID is required")
	}

	cfg.JWTPublishSecret = os.Getenv("JWT_PUBLISH_SECRET")
	if cfg.JWTPublishSecret == "" {
		problems = append(problems, "JWT_PUBLISH_SECRET is required")
	} else if len(cfg.JWTPublishSecret) < 32 {
		problems = append(problems, fmt.Sprintf("JWT_PUBLISH_SECRET must be at least 32 characters (got %d)", len(cfg.JWTPublishSecret)))
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		problems = append(problems, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		problems = append(problems, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.GRPCListenAddr = os.Getenv("GRPC_LISTEN_ADDR")
	if cfg.GRPCListenAddr == "" {
		problems = append(problems, "GRPC_LISTEN_ADDR is required")
	}

	cfg.HTTPListenAddr = os.Getenv("HTTP_LISTEN_ADDR")
	if cfg.HTTPListenAddr == "" {
		problems = append(problems, "HTTP_LISTEN_ADDR is required")
	}

	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	if cfg.PostgresDSN == "" {
		problems = append(problems, "POSTGRES_DSN is required")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.KeyPrefix = getEnvOrDefault("KEY_PREFIX", "synctv")

	cfg.DedupWindow = getEnvDurationOrDefault("DEDUP_WINDOW", 30*time.Second)
	cfg.DedupCleanup = getEnvDurationOrDefault("DEDUP_CLEANUP_INTERVAL", 10*time.Second)
	cfg.PublisherTTL = getEnvDurationOrDefault("PUBLISHER_TTL", 120*time.Second)
	cfg.NodeTTL = getEnvDurationOrDefault("NODE_TTL", 60*time.Second)
	cfg.PullIdleTimeout = getEnvDurationOrDefault("PULL_IDLE_TIMEOUT", 5*time.Minute)
	cfg.PullCheckPeriod = getEnvDurationOrDefault("PULL_CHECK_INTERVAL", 60*time.Second)
	cfg.HLSSegmentSecs = getEnvIntOrDefault("HLS_SEGMENT_SECONDS", 5)
	cfg.HLSWindowSize = getEnvIntOrDefault("HLS_WINDOW_SIZE", 6)

	cfg.HeadlessServiceName = os.Getenv("HEADLESS_SERVICE_NAME")
	cfg.PodNamespace = os.Getenv("POD_NAMESPACE")
	cfg.PodIP = os.Getenv("POD_IP")

	cfg.RateLimitChat = getEnvOrDefault("RATE_LIMIT_CHAT", "5-S")

	if len(problems) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"node_id", cfg.NodeID,
		"jwt_publish_secret", redactSecret(cfg.JWTPublishSecret),
		"redis_addr", cfg.RedisAddr,
		"grpc_listen_addr", cfg.GRPCListenAddr,
		"http_listen_addr", cfg.HTTPListenAddr,
		"key_prefix", cfg.KeyPrefix,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
	)
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvIntOrDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
