// Package config loads process configuration: built-in defaults, then an
// optional YAML file, then command-line flags.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

const CodeConfigInvalid = "CONFIG_INVALID"

type Config struct {
	HTTP       HTTPConfig  `koanf:"http"`
	MySQL      MySQLConfig `koanf:"mysql"`
	Redis      RedisConfig `koanf:"redis"`
	Kafka      KafkaConfig `koanf:"kafka"`
	SMTP       SMTPConfig  `koanf:"smtp"`
	JWT        JWTConfig   `koanf:"jwt"`
	Auth       AuthConfig  `koanf:"auth"`
	Log        LogConfig   `koanf:"log"`
	Outbox     JobConfig   `koanf:"outbox"`
	Reconciler JobConfig   `koanf:"reconciler"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type JWTConfig struct {
	Secret     string        `koanf:"secret"`
	Issuer     string        `koanf:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
}

type AuthConfig struct {
	BcryptCost   int           `koanf:"bcrypt_cost"`
	EmailCodeTTL time.Duration `koanf:"email_code_ttl"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// JobConfig schedules a background loop.
type JobConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

var defaults = map[string]any{
	"http.addr":               ":8080",
	"http.shutdown_timeout":   10 * time.Second,
	"mysql.dsn":               "",
	"mysql.max_open_conns":    50,
	"mysql.max_idle_conns":    10,
	"mysql.conn_max_lifetime": time.Hour,
	"redis.addr":              "127.0.0.1:6379",
	"redis.password":          "",
	"redis.db":                0,
	"kafka.brokers":           []string{"127.0.0.1:9092"},
	"kafka.topic":             "community.membership",
	"smtp.host":               "localhost",
	"smtp.port":               587,
	"smtp.username":           "",
	"smtp.password":           "",
	"smtp.from":               "NoReply <no-reply@example.com>",
	"jwt.secret":              "",
	"jwt.issuer":              "lee-social",
	"jwt.access_ttl":          15 * time.Minute,
	"jwt.refresh_ttl":         7 * 24 * time.Hour,
	"auth.bcrypt_cost":        bcrypt.DefaultCost,
	"auth.email_code_ttl":     5 * time.Minute,
	"log.format":              "json",
	"log.level":               "info",
	"outbox.interval":         time.Second,
	"outbox.batch_size":       200,
	"reconciler.interval":     5 * time.Minute,
	"reconciler.batch_size":   500,
}

// RegisterFlags adds the overridable settings to fs. Flag names are the
// dotted config keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http.addr", ":8080", "HTTP listen address")
	fs.String("mysql.dsn", "", "MySQL DSN")
	fs.String("redis.addr", "127.0.0.1:6379", "Redis address")
	fs.StringSlice("kafka.brokers", []string{"127.0.0.1:9092"}, "Kafka brokers")
	fs.String("jwt.secret", "", "HMAC secret for access tokens")
	fs.String("log.format", "json", "log format: json or text")
	fs.String("log.level", "info", "log level")
}

// Load layers defaults, the YAML file at path (if non-empty) and the flags
// the user actually set. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("path", path).Wrapf(err, "load config file")
		}
	}

	if fs != nil {
		// 未显式设置的 flag 不覆盖已有值
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, oops.Code(CodeConfigInvalid).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeConfigInvalid).Wrapf(err, "decode config")
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.JWT.Secret) == "":
		return oops.Code(CodeConfigInvalid).With("key", "jwt.secret").Errorf("jwt secret is required")
	case strings.TrimSpace(c.MySQL.DSN) == "":
		return oops.Code(CodeConfigInvalid).With("key", "mysql.dsn").Errorf("mysql dsn is required")
	case c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost:
		return oops.Code(CodeConfigInvalid).With("key", "auth.bcrypt_cost").Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	case c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0:
		return oops.Code(CodeConfigInvalid).With("key", "jwt").Errorf("token lifetimes must be positive")
	case c.JWT.AccessTTL >= c.JWT.RefreshTTL:
		return oops.Code(CodeConfigInvalid).With("key", "jwt.access_ttl").Errorf("access token must expire before the refresh token")
	case len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "":
		return oops.Code(CodeConfigInvalid).With("key", "kafka").Errorf("kafka brokers and topic are required")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return oops.Code(CodeConfigInvalid).With("key", "log.format").Errorf("log format must be json or text")
	}
	return nil
}
