package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty"`
	CORS     CORSConfig     `yaml:"cors,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

type ServerConfig struct {
	InsecureListenAddress string `yaml:"insecure_listen_address,omitempty"`
}

type DatabaseConfig struct {
	PostgreSQL PostgreSQLConfig `yaml:"postgresql,omitempty"`
}

type PostgreSQLConfig struct {
	Addr           string        `yaml:"addr,omitempty"`
	Port           int           `yaml:"port,omitempty"`
	Database       string        `yaml:"database,omitempty"`
	User           string        `yaml:"user,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	SSLMode        string        `yaml:"sslmode,omitempty"`
	DialTimeout    time.Duration `yaml:"dial_timeout,omitempty"`
	MinConnections int           `yaml:"min_connections,omitempty"`
	MaxConnections int           `yaml:"max_connections,omitempty"`
	MaxRetries     int           `yaml:"max_retries,omitempty"`
	RetryDelay     time.Duration `yaml:"retry_delay,omitempty"`
	RunMigrations  bool          `yaml:"run_migrations,omitempty"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods   []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders   []string `yaml:"allowed_headers,omitempty"`
	AllowCredentials bool     `yaml:"allow_credentials,omitempty"`
	MaxAge           int      `yaml:"max_age,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

var DefaultConfig = &Config{
	Server: ServerConfig{
		InsecureListenAddress: ":9091",
	},
	Database: DatabaseConfig{
		PostgreSQL: PostgreSQLConfig{
			Addr:           "localhost",
			Port:           5432,
			Database:       "gpustats",
			User:           "postgres",
			SSLMode:        "disable",
			DialTimeout:    5 * time.Second,
			MinConnections: 3,
			MaxConnections: 20,
			MaxRetries:     3,
			RetryDelay:     time.Second,
		},
	},
	CORS: CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	},
	Logging: LoggingConfig{
		Level:  "info",
		Format: "text",
	},
}

func LoadConfig(path string) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(f, DefaultConfig)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

func RegisterPostgreSQLFlags(fs *flag.FlagSet) {
	pg := &DefaultConfig.Database.PostgreSQL
	fs.StringVar(&pg.Addr, "postgresql-addr", getEnv("POSTGRESQL_ADDR", pg.Addr), "Address of the postgresql server.")
	fs.IntVar(&pg.Port, "postgresql-port", pg.Port, "Port of the postgresql server.")
	fs.StringVar(&pg.Database, "postgresql-database", getEnv("POSTGRESQL_DATABASE", pg.Database), "Database for the postgresql server.")
	fs.StringVar(&pg.User, "postgresql-user", getEnv("POSTGRESQL_USER", pg.User), "Username for the postgresql server.")
	fs.StringVar(&pg.Password, "postgresql-password", getEnv("POSTGRESQL_PASSWORD", pg.Password), "Password for the postgresql server.")
	fs.StringVar(&pg.SSLMode, "postgresql-sslmode", pg.SSLMode, "SSL mode for the postgresql server.")
	fs.DurationVar(&pg.DialTimeout, "postgresql-dial-timeout", pg.DialTimeout, "Timeout to dial postgresql.")
	fs.IntVar(&pg.MinConnections, "postgresql-min-connections", pg.MinConnections, "Number of connections to open eagerly at startup.")
	fs.IntVar(&pg.MaxConnections, "postgresql-max-connections", pg.MaxConnections, "Upper bound on open connections in the pool.")
	fs.IntVar(&pg.MaxRetries, "postgresql-max-retries", pg.MaxRetries, "Number of attempts to acquire a healthy connection.")
	fs.DurationVar(&pg.RetryDelay, "postgresql-retry-delay", pg.RetryDelay, "Delay between connection acquire attempts.")
	fs.BoolVar(&pg.RunMigrations, "postgresql-run-migrations", pg.RunMigrations, "Run database migrations at startup.")
}

func RegisterLoggingFlags(fs *flag.FlagSet) {
	fs.StringVar(&DefaultConfig.Logging.Level, "log-level", DefaultConfig.Logging.Level, "Log level. Supported values: debug, info, warn, error.")
	fs.StringVar(&DefaultConfig.Logging.Format, "log-format", DefaultConfig.Logging.Format, "Log format. Supported values: text, json.")
}

// DSN renders a key/value connection string. Never log its output,
// it contains the password.
func (c PostgreSQLConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Addr, c.Port, c.User, c.Password, c.Database, c.SSLMode, int(c.DialTimeout.Seconds()),
	)
}

// GetSanitizedConfig returns a copy safe to expose over the API.
func (c *Config) GetSanitizedConfig() *Config {
	out := *c
	out.Database.PostgreSQL.User = ""
	out.Database.PostgreSQL.Password = ""
	return &out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
