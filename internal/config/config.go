package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Backend BackendConfig
	Server  ServerConfig
	Redis   RedisConfig
	Slack   SlackConfig
	Log     LogConfig
}

// BackendConfig holds the analytical backend endpoints and session tuning.
type BackendConfig struct {
	WSURL          string
	APIURL         string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	PingInterval   time.Duration
	CatalogTTL     time.Duration
	ReadLimit      int64
}

// ServerConfig holds settings of the local bridge server. An empty Addr
// disables the bridge.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	CORSOrigins       []string
	RateLimit         float64
	RateBurst         int
}

// RedisConfig holds Redis connection settings. An empty Addr selects the
// in-process broker.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	BotToken string //nolint:gosec // G117: Slack bot token config
	Channel  string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// SimulatorConfig holds settings of the scripted backend.
type SimulatorConfig struct {
	Addr      string
	StepDelay time.Duration
	Log       LogConfig
}

const chatPath = "/ws/chat"

// Load reads configuration from environment variables.
// Defaults target a backend running on localhost:8000.
func Load() (*Config, error) {
	reconnectDelay, err := getEnvDuration("DATACHAT_RECONNECT_DELAY", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dialTimeout, err := getEnvDuration("DATACHAT_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pingInterval, err := getEnvDuration("DATACHAT_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	catalogTTL, err := getEnvDuration("DATACHAT_CATALOG_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readLimit, err := getEnvInt("DATACHAT_READ_LIMIT", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readHeaderTimeout, err := getEnvDuration("DATACHAT_SERVER_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("DATACHAT_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("DATACHAT_RATE_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("DATACHAT_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	wsURL := strings.TrimRight(getEnv("DATACHAT_WS_URL", "ws://localhost:8000"), "/")

	cfg := &Config{
		Backend: BackendConfig{
			WSURL:          wsURL,
			APIURL:         strings.TrimRight(getEnv("DATACHAT_API_URL", deriveAPIURL(wsURL)), "/"),
			ReconnectDelay: reconnectDelay,
			DialTimeout:    dialTimeout,
			PingInterval:   pingInterval,
			CatalogTTL:     catalogTTL,
			ReadLimit:      int64(readLimit),
		},
		Server: ServerConfig{
			Addr:              getEnv("DATACHAT_LISTEN_ADDR", ""),
			ReadHeaderTimeout: readHeaderTimeout,
			CORSOrigins:       getEnvList("DATACHAT_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:         rateLimit,
			RateBurst:         rateBurst,
		},
		Redis: RedisConfig{
			Addr:     getEnv("DATACHAT_REDIS_ADDR", ""),
			Password: getEnv("DATACHAT_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Slack: SlackConfig{
			BotToken: getEnv("DATACHAT_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("DATACHAT_SLACK_CHANNEL", ""),
		},
		Log: loadLog(),
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// LoadSimulator reads the scripted backend's configuration.
func LoadSimulator() (*SimulatorConfig, error) {
	stepDelay, err := getEnvDuration("AGENTSIM_STEP_DELAY", 300*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.LoadSimulator: %w", err)
	}
	if stepDelay < 0 {
		return nil, fmt.Errorf("config.LoadSimulator: AGENTSIM_STEP_DELAY must be >= 0, got %s", stepDelay)
	}

	return &SimulatorConfig{
		Addr:      getEnv("AGENTSIM_ADDR", ":8000"),
		StepDelay: stepDelay,
		Log:       loadLog(),
	}, nil
}

// ChatURL returns the websocket endpoint of the chat protocol.
func (c *BackendConfig) ChatURL() string {
	return c.WSURL + chatPath
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.WSURL)
	if err != nil {
		return fmt.Errorf("DATACHAT_WS_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("DATACHAT_WS_URL must use ws:// or wss://, got %q", c.Backend.WSURL)
	}
	if u.Host == "" {
		return errors.New("DATACHAT_WS_URL must include a host")
	}

	api, err := url.Parse(c.Backend.APIURL)
	if err != nil {
		return fmt.Errorf("DATACHAT_API_URL: %w", err)
	}
	if api.Scheme != "http" && api.Scheme != "https" {
		return fmt.Errorf("DATACHAT_API_URL must use http:// or https://, got %q", c.Backend.APIURL)
	}

	// Bounds checks.
	if c.Backend.ReconnectDelay <= 0 {
		return fmt.Errorf("DATACHAT_RECONNECT_DELAY must be positive, got %s", c.Backend.ReconnectDelay)
	}
	if c.Backend.DialTimeout <= 0 {
		return fmt.Errorf("DATACHAT_DIAL_TIMEOUT must be positive, got %s", c.Backend.DialTimeout)
	}
	if c.Backend.PingInterval < 0 {
		return fmt.Errorf("DATACHAT_PING_INTERVAL must be >= 0, got %s", c.Backend.PingInterval)
	}
	if c.Backend.ReadLimit <= 0 {
		return fmt.Errorf("DATACHAT_READ_LIMIT must be positive, got %d", c.Backend.ReadLimit)
	}
	if c.Backend.CatalogTTL < 0 {
		return fmt.Errorf("DATACHAT_CATALOG_TTL must be >= 0, got %s", c.Backend.CatalogTTL)
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("DATACHAT_SERVER_READ_HEADER_TIMEOUT must be positive, got %s", c.Server.ReadHeaderTimeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("DATACHAT_RATE_LIMIT must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("DATACHAT_RATE_BURST must be >= 1, got %d", c.Server.RateBurst)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("DATACHAT_REDIS_DB must be >= 0, got %d", c.Redis.DB)
	}
	if c.Slack.BotToken != "" && c.Slack.Channel == "" {
		return errors.New("DATACHAT_SLACK_CHANNEL is required when DATACHAT_SLACK_BOT_TOKEN is set")
	}

	return nil
}

// deriveAPIURL maps ws:// to http:// and wss:// to https:// on the same host.
func deriveAPIURL(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}

func loadLog() LogConfig {
	return LogConfig{
		Level:  getEnv("DATACHAT_LOG_LEVEL", "info"),
		Format: getEnv("DATACHAT_LOG_FORMAT", "json"),
		File:   getEnv("DATACHAT_LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
