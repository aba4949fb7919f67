package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the relay.
type Config struct {
	App      AppConfig
	Discord  DiscordConfig
	Tickets  TicketConfig
	Welcome  WelcomeConfig
	Reaper   ReaperConfig
	Snapshot SnapshotConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
}

// AppConfig controls the staff API server.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// DiscordConfig holds gateway credentials and guild layout.
type DiscordConfig struct {
	Token          string
	GuildID        string
	StaffRoles     []string
	TicketCategory string
	LogChannel     string
	Status         string
	CommandPrefix  string
}

// TicketConfig tunes ticket lifecycle behavior.
type TicketConfig struct {
	LimitPerUser            int
	AutoCloseHours          int
	CloseConfirmation       bool
	ConfirmTimeoutSeconds   int
	AnonymousReplies        bool
	DeleteDelaySeconds      int
	SelectionTimeoutSeconds int
	TypingWindowSeconds     int
	Categories              []string
}

// WelcomeConfig controls the greeting throttle.
type WelcomeConfig struct {
	CooldownSeconds int
}

// ReaperConfig controls the idle sweep cadence.
type ReaperConfig struct {
	IntervalSeconds int
	RetrySeconds    int
}

// SnapshotConfig selects where persistent state is flushed.
type SnapshotConfig struct {
	Backend      string
	FilePath     string
	RedisKey     string
	FlushSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines staff API authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	StaffUsername         string
	StaffPasswordHash     string
	BcryptCost            int
}

// Snapshot backends.
const (
	SnapshotBackendFile     = "file"
	SnapshotBackendPostgres = "postgres"
	SnapshotBackendRedis    = "redis"
	SnapshotBackendNone     = "none"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "modmail-relay"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Discord: DiscordConfig{
			Token:          os.Getenv("DISCORD_TOKEN"),
			GuildID:        os.Getenv("DISCORD_GUILD_ID"),
			StaffRoles:     getEnvAsList("DISCORD_STAFF_ROLES", []string{"Admin", "Moderator", "On-Duty Support"}),
			TicketCategory: getEnv("DISCORD_TICKET_CATEGORY", "MODMAIL"),
			LogChannel:     getEnv("DISCORD_LOG_CHANNEL", "modmail-logs"),
			Status:         getEnv("DISCORD_STATUS", "DMs for support"),
			CommandPrefix:  getEnv("DISCORD_COMMAND_PREFIX", "!"),
		},
		Tickets: TicketConfig{
			LimitPerUser:            getEnvAsInt("TICKET_LIMIT_PER_USER", 1),
			AutoCloseHours:          getEnvAsInt("TICKET_AUTO_CLOSE_HOURS", 48),
			CloseConfirmation:       getEnvAsBool("TICKET_CLOSE_CONFIRMATION", true),
			ConfirmTimeoutSeconds:   getEnvAsInt("TICKET_CONFIRM_TIMEOUT_SECONDS", 30),
			AnonymousReplies:        getEnvAsBool("TICKET_ANONYMOUS_REPLIES", false),
			DeleteDelaySeconds:      getEnvAsInt("TICKET_DELETE_DELAY_SECONDS", 5),
			SelectionTimeoutSeconds: getEnvAsInt("TICKET_SELECTION_TIMEOUT_SECONDS", 180),
			TypingWindowSeconds:     getEnvAsInt("TICKET_TYPING_WINDOW_SECONDS", 5),
			Categories:              getEnvAsList("TICKET_CATEGORIES", []string{"Support", "Development", "Billing", "Urgent"}),
		},
		Welcome: WelcomeConfig{
			CooldownSeconds: getEnvAsInt("WELCOME_COOLDOWN_SECONDS", 300),
		},
		Reaper: ReaperConfig{
			IntervalSeconds: getEnvAsInt("REAPER_INTERVAL_SECONDS", 900),
			RetrySeconds:    getEnvAsInt("REAPER_RETRY_SECONDS", 300),
		},
		Snapshot: SnapshotConfig{
			Backend:      strings.ToLower(getEnv("SNAPSHOT_BACKEND", SnapshotBackendFile)),
			FilePath:     getEnv("SNAPSHOT_FILE", "modmail_data.json"),
			RedisKey:     getEnv("SNAPSHOT_REDIS_KEY", "modmail:snapshot"),
			FlushSeconds: getEnvAsInt("SNAPSHOT_FLUSH_SECONDS", 60),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			StaffUsername:         getEnv("AUTH_STAFF_USERNAME", "staff"),
			StaffPasswordHash:     os.Getenv("AUTH_STAFF_PASSWORD_HASH"),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
	}

	if cfg.Discord.Token == "" {
		return nil, errors.New("DISCORD_TOKEN is required")
	}
	switch cfg.Snapshot.Backend {
	case SnapshotBackendFile, SnapshotBackendPostgres, SnapshotBackendRedis, SnapshotBackendNone:
	default:
		return nil, fmt.Errorf("invalid SNAPSHOT_BACKEND %q", cfg.Snapshot.Backend)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AutoCloseAfter returns the idle threshold; zero disables auto-close.
func (t TicketConfig) AutoCloseAfter() time.Duration {
	if t.AutoCloseHours <= 0 {
		return 0
	}
	return time.Duration(t.AutoCloseHours) * time.Hour
}

// ConfirmTimeout bounds how long a close confirmation stays valid.
func (t TicketConfig) ConfirmTimeout() time.Duration {
	return seconds(t.ConfirmTimeoutSeconds, 30)
}

// DeleteDelay is the grace period before a closed channel is deleted.
func (t TicketConfig) DeleteDelay() time.Duration {
	return seconds(t.DeleteDelaySeconds, 5)
}

// SelectionTimeout bounds how long a ticket selection prompt stays valid.
func (t TicketConfig) SelectionTimeout() time.Duration {
	return seconds(t.SelectionTimeoutSeconds, 180)
}

// TypingWindow is how long one relayed typing indicator lasts.
func (t TicketConfig) TypingWindow() time.Duration {
	return seconds(t.TypingWindowSeconds, 5)
}

// Cooldown is the minimum gap between two greetings to the same user.
func (w WelcomeConfig) Cooldown() time.Duration {
	if w.CooldownSeconds < 0 {
		return 0
	}
	return time.Duration(w.CooldownSeconds) * time.Second
}

// Interval is the time between two successful sweeps.
func (r ReaperConfig) Interval() time.Duration {
	return seconds(r.IntervalSeconds, 900)
}

// RetryInterval is the shortened wait after a failed sweep.
func (r ReaperConfig) RetryInterval() time.Duration {
	return seconds(r.RetrySeconds, 300)
}

// FlushInterval is the time between two snapshot flushes.
func (s SnapshotConfig) FlushInterval() time.Duration {
	return seconds(s.FlushSeconds, 60)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
