package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Correlation CorrelationConfig
	Flood       FloodConfig
	Dispatch    DispatchConfig
	Trail       TrailConfig
	Redis       RedisConfig
	Feed        FeedConfig
	Sink        SinkConfig
	Server      ServerConfig
}

// CorrelationConfig bounds the audit-trail attribution loop.
type CorrelationConfig struct {
	Window         time.Duration // how long after a diff an audit entry may surface
	Epsilon        time.Duration // clock-skew allowance before the diff's open time
	MaxAttempts    int           // bounded backoff budget per request
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FetchLimit     int     // entries per trail fetch
	FetchRate      float64 // trail fetches per second, shared across requests
	FetchBurst     int
	MaxInFlight    int64 // concurrent trail fetches
}

// FloodConfig tunes coalescing and the abuse signal.
type FloodConfig struct {
	CoalesceWindow   time.Duration
	MentionThreshold int
}

// DispatchConfig tunes the asynchronous sink hand-off.
type DispatchConfig struct {
	BufferSize  int
	EmitTimeout time.Duration
	DedupTTL    time.Duration
}

// TrailConfig holds the audit-trail REST API settings.
type TrailConfig struct {
	BaseURL string
	Token   string //nolint:gosec // G117: trail credential passed through opaquely
	Timeout time.Duration
}

// RedisConfig holds Redis connection settings. Addr empty means in-process
// claim/dedup stores (single-instance deployment).
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// FeedConfig holds upstream snapshot-feed settings.
type FeedConfig struct {
	URL   string
	Token string //nolint:gosec // G117: feed credential passed through opaquely
}

// SinkConfig selects and configures the notification sink.
type SinkConfig struct {
	Platform     string // "discord", "slack" or "log"
	ChannelID    string
	DiscordToken string //nolint:gosec // G117: sink credential passed through opaquely
	SlackToken   string //nolint:gosec // G117: sink credential passed through opaquely
}

// ServerConfig holds the ops HTTP server settings (healthz, metrics).
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads configuration from environment variables. Defaults are safe for
// local development; sink and feed credentials must be set explicitly.
func Load() (*Config, error) {
	window, err := getEnvDuration("GUILDWATCH_CORRELATION_WINDOW", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	epsilon, err := getEnvDuration("GUILDWATCH_CORRELATION_EPSILON", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxAttempts, err := getEnvInt("GUILDWATCH_CORRELATION_MAX_ATTEMPTS", 6)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	initialBackoff, err := getEnvDuration("GUILDWATCH_CORRELATION_INITIAL_BACKOFF", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxBackoff, err := getEnvDuration("GUILDWATCH_CORRELATION_MAX_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fetchLimit, err := getEnvInt("GUILDWATCH_CORRELATION_FETCH_LIMIT", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fetchRate, err := getEnvFloat("GUILDWATCH_CORRELATION_FETCH_RATE", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fetchBurst, err := getEnvInt("GUILDWATCH_CORRELATION_FETCH_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxInFlight, err := getEnvInt("GUILDWATCH_CORRELATION_MAX_IN_FLIGHT", 8)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	coalesceWindow, err := getEnvDuration("GUILDWATCH_FLOOD_COALESCE_WINDOW", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	mentionThreshold, err := getEnvInt("GUILDWATCH_FLOOD_MENTION_THRESHOLD", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	bufferSize, err := getEnvInt("GUILDWATCH_DISPATCH_BUFFER", 256)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	emitTimeout, err := getEnvDuration("GUILDWATCH_DISPATCH_EMIT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dedupTTL, err := getEnvDuration("GUILDWATCH_DISPATCH_DEDUP_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if dedupTTL == 0 {
		// Duplicate feed deliveries land within the correlation horizon.
		dedupTTL = 2 * window
	}

	trailTimeout, err := getEnvDuration("GUILDWATCH_TRAIL_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("GUILDWATCH_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("GUILDWATCH_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("GUILDWATCH_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Correlation: CorrelationConfig{
			Window:         window,
			Epsilon:        epsilon,
			MaxAttempts:    maxAttempts,
			InitialBackoff: initialBackoff,
			MaxBackoff:     maxBackoff,
			FetchLimit:     fetchLimit,
			FetchRate:      fetchRate,
			FetchBurst:     fetchBurst,
			MaxInFlight:    int64(maxInFlight),
		},
		Flood: FloodConfig{
			CoalesceWindow:   coalesceWindow,
			MentionThreshold: mentionThreshold,
		},
		Dispatch: DispatchConfig{
			BufferSize:  bufferSize,
			EmitTimeout: emitTimeout,
			DedupTTL:    dedupTTL,
		},
		Trail: TrailConfig{
			BaseURL: getEnv("GUILDWATCH_TRAIL_URL", ""),
			Token:   getEnv("GUILDWATCH_TRAIL_TOKEN", ""),
			Timeout: trailTimeout,
		},
		Redis: RedisConfig{
			Addr:     getEnv("GUILDWATCH_REDIS_ADDR", ""),
			Password: getEnv("GUILDWATCH_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Feed: FeedConfig{
			URL:   getEnv("GUILDWATCH_FEED_URL", ""),
			Token: getEnv("GUILDWATCH_FEED_TOKEN", ""),
		},
		Sink: SinkConfig{
			Platform:     getEnv("GUILDWATCH_SINK_PLATFORM", "log"),
			ChannelID:    getEnv("GUILDWATCH_SINK_CHANNEL_ID", ""),
			DiscordToken: getEnv("GUILDWATCH_SINK_DISCORD_TOKEN", ""),
			SlackToken:   getEnv("GUILDWATCH_SINK_SLACK_TOKEN", ""),
		},
		Server: ServerConfig{
			Addr:         getEnv("GUILDWATCH_SERVER_ADDR", ":9090"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("GUILDWATCH_CORRELATION_WINDOW must be positive, got %s", c.Correlation.Window)
	}
	if c.Correlation.Epsilon < 0 {
		return fmt.Errorf("GUILDWATCH_CORRELATION_EPSILON must be >= 0, got %s", c.Correlation.Epsilon)
	}
	if c.Correlation.MaxAttempts < 1 {
		return fmt.Errorf("GUILDWATCH_CORRELATION_MAX_ATTEMPTS must be >= 1, got %d", c.Correlation.MaxAttempts)
	}
	if c.Correlation.InitialBackoff <= 0 || c.Correlation.MaxBackoff < c.Correlation.InitialBackoff {
		return errors.New("correlation backoff schedule invalid: initial must be positive and max >= initial")
	}
	if c.Correlation.FetchLimit < 1 {
		return fmt.Errorf("GUILDWATCH_CORRELATION_FETCH_LIMIT must be >= 1, got %d", c.Correlation.FetchLimit)
	}
	if c.Correlation.FetchRate <= 0 {
		return fmt.Errorf("GUILDWATCH_CORRELATION_FETCH_RATE must be positive, got %g", c.Correlation.FetchRate)
	}
	if c.Correlation.MaxInFlight < 1 {
		return fmt.Errorf("GUILDWATCH_CORRELATION_MAX_IN_FLIGHT must be >= 1, got %d", c.Correlation.MaxInFlight)
	}
	if c.Flood.CoalesceWindow <= 0 {
		return fmt.Errorf("GUILDWATCH_FLOOD_COALESCE_WINDOW must be positive, got %s", c.Flood.CoalesceWindow)
	}
	if c.Flood.MentionThreshold < 1 {
		return fmt.Errorf("GUILDWATCH_FLOOD_MENTION_THRESHOLD must be >= 1, got %d", c.Flood.MentionThreshold)
	}
	if c.Dispatch.BufferSize < 1 {
		return fmt.Errorf("GUILDWATCH_DISPATCH_BUFFER must be >= 1, got %d", c.Dispatch.BufferSize)
	}
	if c.Dispatch.EmitTimeout <= 0 {
		return fmt.Errorf("GUILDWATCH_DISPATCH_EMIT_TIMEOUT must be positive, got %s", c.Dispatch.EmitTimeout)
	}

	switch c.Sink.Platform {
	case "log":
	case "discord", "slack":
		if c.Sink.ChannelID == "" {
			return fmt.Errorf("GUILDWATCH_SINK_CHANNEL_ID is required for sink platform %q", c.Sink.Platform)
		}
		if c.Sink.Platform == "discord" && c.Sink.DiscordToken == "" {
			return errors.New("GUILDWATCH_SINK_DISCORD_TOKEN is required for sink platform \"discord\"")
		}
		if c.Sink.Platform == "slack" && c.Sink.SlackToken == "" {
			return errors.New("GUILDWATCH_SINK_SLACK_TOKEN is required for sink platform \"slack\"")
		}
	default:
		return fmt.Errorf("GUILDWATCH_SINK_PLATFORM must be discord, slack or log, got %q", c.Sink.Platform)
	}

	if c.Trail.Timeout <= 0 {
		return fmt.Errorf("GUILDWATCH_TRAIL_TIMEOUT must be positive, got %s", c.Trail.Timeout)
	}
	if c.Trail.BaseURL == "" {
		log.Warn().Msg("GUILDWATCH_TRAIL_URL not set; every change will be attributed to Unknown")
	}

	if c.Redis.Addr == "" {
		log.Warn().Msg("GUILDWATCH_REDIS_ADDR not set; claims and dedup are in-process only (single instance)")
	}

	return nil
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
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
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
