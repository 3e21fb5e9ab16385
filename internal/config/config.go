// Package config loads the lobby configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the lobby server and the auditor.
type Config struct {
	// Transport
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TrustProxy     bool // take client IPs from X-Forwarded-For / X-Real-IP

	// Files
	HistoryFile  string
	AuditLogFile string

	// Auxiliary services, empty when disabled
	RedisAddr   string
	NATSURL     string
	DatabaseURL string

	ServerName string

	// Chat
	MaxMessages     int
	ReplayLimit     int
	CatchUpInterval time.Duration

	// Moderation
	SpamInterval      time.Duration
	BanDuration       time.Duration
	ProhibitedWords   []string // nil selects the built-in list
	NicknameBlacklist []string // nil selects the built-in list

	// Logging
	LogLevel string
	LogDev   bool
}

// Load reads the configuration. Unset keys take their defaults; malformed
// values are errors.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		HistoryFile:  getEnv("HISTORY_FILE", "chat_history.txt"),
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "moderation.log"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		NATSURL:      getEnv("NATS_URL", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		ServerName:   getEnv("SERVER_NAME", defaultServerName()),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		ProhibitedWords:   getList("PROHIBITED_WORDS"),
		NicknameBlacklist: getList("NICKNAME_BLACKLIST"),
	}

	var err error
	if cfg.WorkerPoolSize, err = getInt("WORKER_POOL_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.MaxConnections, err = getInt("MAX_CONNECTIONS", 10000); err != nil {
		return nil, err
	}
	if cfg.MaxMessages, err = getInt("MAX_MESSAGES", 200); err != nil {
		return nil, err
	}
	if cfg.ReplayLimit, err = getInt("REPLAY_LIMIT", cfg.MaxMessages); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = getDuration("READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = getDuration("WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CatchUpInterval, err = getDuration("CATCHUP_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.SpamInterval, err = getDuration("SPAM_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.BanDuration, err = getDuration("BAN_DURATION", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TrustProxy, err = getBool("TRUST_PROXY", false); err != nil {
		return nil, err
	}
	if cfg.LogDev, err = getBool("LOG_DEV", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultServerName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "lobby-1"
}

// getEnv reads an environment variable, or returns fallback when unset.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// getInt reads a positive integer.
func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return n, nil
}

// getDuration reads a positive time.ParseDuration value.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, d)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getList splits a comma-separated value, dropping blank items. It returns
// nil when the key is unset or holds no items.
func getList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
