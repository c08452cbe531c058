package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration settings for the application.
// It includes the environment type, both database connections, the redis address,
// the telegram token with the chats the bot talks to, and the review policy.
type Config struct {
	Env            string         `yaml:"env"`              // Env is the current environment: local, development, production.
	Database       PostgresConfig `yaml:"postgres"`         // Database holds the ticket database configuration
	Directory      PostgresConfig `yaml:"directory"`        // Directory holds the CRM replica configuration
	Token          string         `yaml:"token"`            // Token is an unique telegram bot token
	PollerTimeout  time.Duration  `yaml:"poller_timeout"`   // PollerTimeout is the long polling timeout
	RedisAddr      string         `yaml:"redis_addr"`       // RedisAddr is the redis server address.
	CheckingGroup  int64          `yaml:"checking_group"`   // CheckingGroup is the reviewers' group chat id
	OperatorChat   int64          `yaml:"operator_chat"`    // OperatorChat receives delivery failure reports, 0 disables
	ClientURL      string         `yaml:"client_url"`       // ClientURL is the CRM card link, {id} is replaced by the client id
	SettingsPath   string         `yaml:"settings_path"`    // SettingsPath is the file the runtime toggles are saved to
	MonitoringPort int            `yaml:"monitoring_port"`  // MonitoringPort serves /healthz and /metrics
	OwnersCacheTTL time.Duration  `yaml:"owners_cache_ttl"` // OwnersCacheTTL is how long resolved owners stay in redis
	Review         ReviewConfig   `yaml:"review"`           // Review holds the escalation policy and role codes
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `yaml:"host"`     // Host is the database server address.
	Port     string `yaml:"port"`     // Port is the database server port.
	User     string `yaml:"user"`     // User is the database user.
	Password string `yaml:"password"` // Password is the database user's password.
	Name     string `yaml:"db_name"`  // Name is the name of the database.
}

// URL renders the connection string for scheme, "postgres" for pgx or "pgx5" for migrations.
func (p PostgresConfig) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     p.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// ReviewConfig holds the escalation ceilings and the directory role codes.
type ReviewConfig struct {
	AppealLimit       int   `yaml:"appeal_limit"`
	CassationLimit    int   `yaml:"cassation_limit"`
	DocRoles          []int `yaml:"doc_roles"`
	LawRoles          []int `yaml:"law_roles"`
	AdminRoles        []int `yaml:"admin_roles"`
	NotifyMaxAttempts int   `yaml:"notify_max_attempts"`
}

// MustLoad loads the configuration from the environment (and .env when present) and returns a Config struct.
// It panics on malformed values.
func MustLoad() *Config {
	_ = godotenv.Load()

	timeout, err := time.ParseDuration(setDefaultEnv("THEMIS_TELEGRAM_TIMEOUT", "10s"))
	if err != nil {
		panic("failed to parse interval from configuration")
	}

	cacheTTL, err := time.ParseDuration(setDefaultEnv("THEMIS_OWNERS_CACHE_TTL", "10m"))
	if err != nil {
		panic("failed to parse owners cache ttl from configuration")
	}

	return &Config{
		Env:           setDefaultEnv("THEMIS_ENV", "production"),
		Token:         os.Getenv("THEMIS_TELEGRAM_TOKEN"),
		PollerTimeout: timeout,
		Database: PostgresConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     setDefaultEnv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
		},
		Directory: PostgresConfig{
			Host:     os.Getenv("DIRECTORY_DB_HOST"),
			Port:     setDefaultEnv("DIRECTORY_DB_PORT", "5432"),
			User:     os.Getenv("DIRECTORY_DB_USERNAME"),
			Password: os.Getenv("DIRECTORY_DB_PASSWORD"),
			Name:     os.Getenv("DIRECTORY_DB_NAME"),
		},
		RedisAddr:      setDefaultEnv("REDIS_ADDR", "localhost:6379"),
		CheckingGroup:  mustInt64("THEMIS_CHECKING_GROUP_ID", "0"),
		OperatorChat:   mustInt64("THEMIS_OPERATOR_CHAT_ID", "0"),
		ClientURL:      os.Getenv("THEMIS_CLIENT_URL"),
		SettingsPath:   setDefaultEnv("THEMIS_SETTINGS_PATH", "settings.yaml"),
		MonitoringPort: mustInt("THEMIS_MONITORING_PORT", "8080"),
		OwnersCacheTTL: cacheTTL,
		Review: ReviewConfig{
			AppealLimit:       mustInt("THEMIS_APPEAL_LIMIT", "2"),
			CassationLimit:    mustInt("THEMIS_CASSATION_LIMIT", "1"),
			DocRoles:          mustIntList("THEMIS_DOC_ROLES", "3,8"),
			LawRoles:          mustIntList("THEMIS_LAW_ROLES", "2,31"),
			AdminRoles:        mustIntList("THEMIS_ADMIN_ROLES", "5,17,29,30"),
			NotifyMaxAttempts: mustInt("THEMIS_NOTIFY_MAX_ATTEMPTS", "5"),
		},
	}
}

// ClientLink returns the CRM card link of a client, or "" when no template is configured.
func (c *Config) ClientLink(clientID int64) string {
	if c.ClientURL == "" {
		return ""
	}
	return strings.ReplaceAll(c.ClientURL, "{id}", strconv.FormatInt(clientID, 10))
}

func setDefaultEnv(key, override string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = override
	}

	return value
}

func mustInt(key, override string) int {
	value, err := strconv.Atoi(setDefaultEnv(key, override))
	if err != nil {
		panic("failed to parse " + key + " from configuration")
	}
	return value
}

func mustInt64(key, override string) int64 {
	value, err := strconv.ParseInt(setDefaultEnv(key, override), 10, 64)
	if err != nil {
		panic("failed to parse " + key + " from configuration")
	}
	return value
}

func mustIntList(key, override string) []int {
	raw := strings.TrimSpace(setDefaultEnv(key, override))
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			panic("failed to parse " + key + " from configuration")
		}
		values = append(values, value)
	}
	return values
}
