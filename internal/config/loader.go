package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Storage drivers understood by the scheduler binary.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort int    `yaml:"http_port"`
	LogLevel string `yaml:"log_level"`
	// TimeZone names the location recurrence and snapshots are evaluated in.
	// Empty means the process location.
	TimeZone        string        `yaml:"time_zone"`
	ConflictHorizon time.Duration `yaml:"conflict_horizon"`
	CalendarDomain  string        `yaml:"calendar_domain"`

	Storage   StorageConfig   `yaml:"storage"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SnapshotConfig controls periodic checkpoints. Schedule accepts the standard
// five field cron syntax and descriptors such as "@every 5m".
type SnapshotConfig struct {
	Schedule string `yaml:"schedule"`
	Keep     int    `yaml:"keep"`
}

// ArchiveConfig enables the S3 copy of every snapshot when Bucket is set.
type ArchiveConfig struct {
	Bucket           string `yaml:"bucket"`
	Region           string `yaml:"region"`
	Prefix           string `yaml:"prefix"`
	Endpoint         string `yaml:"endpoint"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	PathStyle        bool   `yaml:"path_style"`
	IncludePasswords bool   `yaml:"include_passwords"`
}

// RedisConfig enables commit notifications over pub/sub when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
	Channel  string `yaml:"channel"`
}

// AMQPConfig enables commit notifications over RabbitMQ when URL is set.
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// BootstrapConfig names the administrator created when the store has no
// users. An empty password disables the bootstrap.
type BootstrapConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPPort:        8080,
		LogLevel:        "info",
		ConflictHorizon: 365 * 24 * time.Hour,
		CalendarDomain:  "resource-scheduler",
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "scheduler.db",
		},
		Snapshots: SnapshotConfig{
			Schedule: "@every 5m",
			Keep:     10,
		},
		AMQP:      AMQPConfig{Queue: "scheduler.commits"},
		Bootstrap: BootstrapConfig{Username: "admin"},
	}
}

// Load parses configuration values from the current process environment.
//
// An optional .env file (SCHEDULER_ENV_FILE, default ".env") fills variables
// that are not already set. An optional YAML file named by
// SCHEDULER_CONFIG_FILE is applied over the defaults, and SCHEDULER_*
// variables override both. Invalid and missing entries are reported together.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("SCHEDULER_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("環境ファイルを読み込めません: %s: %w", envFile, err)
	}

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("SCHEDULER_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルを読み込めません: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイルの形式が不正です: %s: %w", path, err)
		}
	}

	p := envParser{}
	p.readInt("SCHEDULER_HTTP_PORT", &cfg.HTTPPort, func(v int) bool { return v > 0 && v < 65536 })
	p.readString("SCHEDULER_LOG_LEVEL", &cfg.LogLevel)
	p.readString("SCHEDULER_TIME_ZONE", &cfg.TimeZone)
	p.readDuration("SCHEDULER_CONFLICT_HORIZON", &cfg.ConflictHorizon)
	p.readString("SCHEDULER_CALENDAR_DOMAIN", &cfg.CalendarDomain)

	p.readString("SCHEDULER_STORAGE_DRIVER", &cfg.Storage.Driver)
	p.readString("SCHEDULER_SQLITE_PATH", &cfg.Storage.SQLitePath)
	p.readString("SCHEDULER_POSTGRES_DSN", &cfg.Storage.PostgresDSN)

	p.readString("SCHEDULER_SNAPSHOT_SCHEDULE", &cfg.Snapshots.Schedule)
	p.readInt("SCHEDULER_SNAPSHOT_KEEP", &cfg.Snapshots.Keep, func(v int) bool { return v >= 0 })

	p.readString("SCHEDULER_S3_BUCKET", &cfg.Archive.Bucket)
	p.readString("SCHEDULER_S3_REGION", &cfg.Archive.Region)
	p.readString("SCHEDULER_S3_PREFIX", &cfg.Archive.Prefix)
	p.readString("SCHEDULER_S3_ENDPOINT", &cfg.Archive.Endpoint)
	p.readString("SCHEDULER_S3_ACCESS_KEY_ID", &cfg.Archive.AccessKeyID)
	p.readString("SCHEDULER_S3_SECRET_ACCESS_KEY", &cfg.Archive.SecretAccessKey)
	p.readBool("SCHEDULER_S3_PATH_STYLE", &cfg.Archive.PathStyle)
	p.readBool("SCHEDULER_S3_INCLUDE_PASSWORDS", &cfg.Archive.IncludePasswords)

	p.readString("SCHEDULER_REDIS_ADDR", &cfg.Redis.Addr)
	p.readString("SCHEDULER_REDIS_PASSWORD", &cfg.Redis.Password)
	p.readInt("SCHEDULER_REDIS_DB", &cfg.Redis.DB, func(v int) bool { return v >= 0 })
	p.readBool("SCHEDULER_REDIS_TLS", &cfg.Redis.TLS)
	p.readString("SCHEDULER_REDIS_CHANNEL", &cfg.Redis.Channel)

	p.readString("SCHEDULER_AMQP_URL", &cfg.AMQP.URL)
	p.readString("SCHEDULER_AMQP_QUEUE", &cfg.AMQP.Queue)

	p.readString("SCHEDULER_ADMIN_USERNAME", &cfg.Bootstrap.Username)
	p.readString("SCHEDULER_ADMIN_PASSWORD", &cfg.Bootstrap.Password)

	cfg.validate(&p)

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

// Location resolves TimeZone.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

func (c *Config) validate(p *envParser) {
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			p.missing = append(p.missing, "SCHEDULER_SQLITE_PATH")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			p.missing = append(p.missing, "SCHEDULER_POSTGRES_DSN")
		}
	case DriverMemory:
	default:
		p.addInvalid("SCHEDULER_STORAGE_DRIVER")
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		p.addInvalid("SCHEDULER_HTTP_PORT")
	}
	if c.ConflictHorizon <= 0 {
		p.addInvalid("SCHEDULER_CONFLICT_HORIZON")
	}
	if _, err := c.Location(); err != nil {
		p.addInvalid("SCHEDULER_TIME_ZONE")
	}
	if c.Snapshots.Schedule != "" {
		if _, err := cron.ParseStandard(c.Snapshots.Schedule); err != nil {
			p.addInvalid("SCHEDULER_SNAPSHOT_SCHEDULE")
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		p.addInvalid("SCHEDULER_LOG_LEVEL")
	}
	if c.Bootstrap.Password != "" && c.Bootstrap.Username == "" {
		p.missing = append(p.missing, "SCHEDULER_ADMIN_USERNAME")
	}
	if (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		p.missing = append(p.missing, "SCHEDULER_S3_ACCESS_KEY_ID/SCHEDULER_S3_SECRET_ACCESS_KEY")
	}
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envParser reads overrides and records the keys that failed to parse.
type envParser struct {
	missing []string
	invalid []string
}

func (p *envParser) addInvalid(key string) {
	for _, k := range p.invalid {
		if k == key {
			return
		}
	}
	p.invalid = append(p.invalid, key)
}

func (p *envParser) readString(key string, dst *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func (p *envParser) readInt(key string, dst *int, valid func(int) bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || !valid(n) {
		p.addInvalid(key)
		return
	}
	*dst = n
}

func (p *envParser) readBool(key string, dst *bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.addInvalid(key)
		return
	}
	*dst = b
}

func (p *envParser) readDuration(key string, dst *time.Duration) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		p.addInvalid(key)
		return
	}
	*dst = d
}
