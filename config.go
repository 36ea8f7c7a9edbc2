package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NplusM420/think-marketplace/internal/catalog"
	"github.com/NplusM420/think-marketplace/internal/database"
	"github.com/NplusM420/think-marketplace/internal/logger"
)

// Event bus drivers.
const (
	eventsNone  = "none"
	eventsNATS  = "nats"
	eventsRedis = "redis"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"   toml:"server"`
	Database database.Config `yaml:"database" toml:"database"`
	Admin    AdminConfig     `yaml:"admin"    toml:"admin"`
	Events   EventsConfig    `yaml:"events"   toml:"events"`
	Export   ExportConfig    `yaml:"export"   toml:"export"`
	Log      logger.Config   `yaml:"log"      toml:"log"`
}

type ServerConfig struct {
	Host            string        `env:"HOST"                    yaml:"host"             toml:"host"`
	Port            int           `env:"PORT"                    yaml:"port"             toml:"port"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT"     yaml:"read_timeout"     toml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT"    yaml:"write_timeout"    toml:"write_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AdminConfig struct {
	Code          string        `env:"ADMIN_CODE"            yaml:"code"           toml:"code"`
	CodeHash      string        `env:"ADMIN_CODE_HASH"       yaml:"code_hash"      toml:"code_hash"`
	SessionSecret string        `env:"SESSION_SECRET"        yaml:"session_secret" toml:"session_secret"`
	SessionTTL    time.Duration `env:"SESSION_TTL"           yaml:"session_ttl"    toml:"session_ttl"`
	SecureCookie  bool          `env:"SESSION_SECURE_COOKIE" yaml:"secure_cookie"  toml:"secure_cookie"`
}

type EventsConfig struct {
	Driver        string `env:"EVENTS_DRIVER"  yaml:"driver"         toml:"driver"`
	NATSURL       string `env:"NATS_URL"       yaml:"nats_url"       toml:"nats_url"`
	RedisAddress  string `env:"REDIS_ADDR"     yaml:"redis_address"  toml:"redis_address"`
	RedisPassword string `env:"REDIS_PASSWORD" yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `env:"REDIS_DB"       yaml:"redis_db"       toml:"redis_db"`
	RedisStream   string `env:"REDIS_STREAM"   yaml:"redis_stream"   toml:"redis_stream"`
}

type ExportConfig struct {
	// Interval of zero disables the scheduler.
	Interval time.Duration    `env:"EXPORT_INTERVAL" yaml:"interval"  toml:"interval"`
	FilePath string           `env:"EXPORT_FILE"     yaml:"file_path" toml:"file_path"`
	S3       catalog.S3Config `yaml:"s3" toml:"s3"`
}

// LoadConfig reads path (YAML or TOML by extension; empty or missing means
// defaults only), applies defaults and then environment overrides. .env files
// are loaded first so they feed the overrides.
func LoadConfig(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg Config
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	setDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	// godotenv never overrides variables already set, so .env.local wins over .env.
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yml", ".yaml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = database.DriverSQLite
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./marketplace.db"
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = eventsNone
	}
	if cfg.Export.S3.Key == "" {
		cfg.Export.S3.Key = "catalog.jsonl"
	}
	if cfg.Export.S3.Region == "" {
		cfg.Export.S3.Region = "us-east-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks cross-field requirements. A missing admin code is allowed:
// the gate then refuses every login.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.Admin.SessionSecret == "" {
		return errors.New("admin.session_secret (SESSION_SECRET) is required")
	}
	switch c.Events.Driver {
	case eventsNone:
	case eventsNATS:
		if c.Events.NATSURL == "" {
			return errors.New("events.nats_url is required for the nats driver")
		}
	case eventsRedis:
		if c.Events.RedisAddress == "" {
			return errors.New("events.redis_address is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported events driver %q", c.Events.Driver)
	}
	if c.Export.Interval < 0 {
		return errors.New("export.interval must not be negative")
	}
	if c.Export.Interval > 0 && c.Export.FilePath == "" && c.Export.S3.Bucket == "" {
		return errors.New("export.interval is set but no export destination is configured")
	}
	return nil
}

// applyEnvOverrides sets every field carrying an `env` tag from the
// environment, recursing into nested structs.
func applyEnvOverrides(cfg any) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return applyEnvToStruct(v)
}

func applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		val, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if err := setField(field, strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, val string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(val)
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
