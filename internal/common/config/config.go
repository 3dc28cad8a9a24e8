// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Wizard        WizardConfig       `mapstructure:"wizard"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
	Debug        bool   `mapstructure:"debug"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTL       int    `mapstructure:"ttl"` // seconds, 0 keeps entries forever
}

// AuthConfig holds the identity provider settings.
type AuthConfig struct {
	Keycloak struct {
		Enabled      bool   `mapstructure:"enabled"`
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		Timeout      int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"keycloak"`
}

// WizardConfig tunes the questionnaire engine.
type WizardConfig struct {
	DebounceMs          int             `mapstructure:"debounce_ms"`
	LoadTimeoutMs       int             `mapstructure:"load_timeout_ms"`
	CheckpointTimeoutMs int             `mapstructure:"checkpoint_timeout_ms"`
	Milestones          []int           `mapstructure:"milestones"`
	StepTablePath       string          `mapstructure:"step_table_path"`
	EventBuffer         int             `mapstructure:"event_buffer"`
	ProgressWeights     ProgressWeights `mapstructure:"progress_weights"`
}

// ProgressWeights are the coverage-estimate weights per answer section.
type ProgressWeights struct {
	Answer             int `mapstructure:"answer"`
	GoalSelection      int `mapstructure:"goal_selection"`
	GoalPrioritization int `mapstructure:"goal_prioritization"`
	GoalDetails        int `mapstructure:"goal_details"`
}

func (w WizardConfig) Debounce() time.Duration {
	return GetDuration(w.DebounceMs)
}

func (w WizardConfig) LoadTimeout() time.Duration {
	return GetDuration(w.LoadTimeoutMs)
}

func (w WizardConfig) CheckpointTimeout() time.Duration {
	return GetDuration(w.CheckpointTimeoutMs)
}

// NotificationConfig holds settings for the submission notifier.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
		Region    string `mapstructure:"region"`
	} `mapstructure:"email"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
