// Package config loads the sarpushd configuration.
//
// Values are read from a YAML file, then SARPUSH_* environment variables, and
// then command-line flags; later sources override earlier ones. For example
// SARPUSH_DISPATCH_DRY_RUN=true sets dispatch.dry_run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kposflag "github.com/knadh/koanf/providers/posflag"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Config for sarpushd.
type Config struct {
	Log      Log       `koanf:"log"`
	Database Database  `koanf:"database"`
	AMQP     AMQP      `koanf:"amqp"`
	Dispatch Dispatch  `koanf:"dispatch"`
	Profiles []Profile `koanf:"profiles"`
}

type Log struct {
	Level  string `koanf:"level"`  // logrus level name.
	Format string `koanf:"format"` // "text" or "json".
}

type Database struct {
	DSN string `koanf:"dsn"` // PostgreSQL; use an in-memory store if empty.
}

type AMQP struct {
	DSN        string `koanf:"dsn"` // Don't consume requests if empty.
	Queue      string `koanf:"queue"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
}

type Dispatch struct {
	Workers      int           `koanf:"workers"`
	Timeout      time.Duration `koanf:"timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
	HeloDomain   string        `koanf:"helo_domain"`
	DryRun       bool          `koanf:"dry_run"` // Write to stdout instead of sending.
}

// Profile is a sender profile which is added to the store on startup, if a
// profile with the same ID doesn't exist yet.
type Profile struct {
	ID           string `koanf:"id"`
	SMTPAddress  string `koanf:"smtp_address"`
	TLS          bool   `koanf:"tls"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	EmailAddress string `koanf:"email_address"`
	Name         string `koanf:"name"`
}

// Defaults for unset values.
var Defaults = Config{
	Log: Log{
		Level:  "info",
		Format: "text",
	},
	Dispatch: Dispatch{
		Workers:    4,
		Timeout:    time.Minute,
		HeloDomain: "localhost",
	},
}

// Flag names and the key they set.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"database":        "database.dsn",
	"amqp":            "amqp.dsn",
	"amqp-queue":      "amqp.queue",
	"amqp-exchange":   "amqp.exchange",
	"amqp-routingkey": "amqp.routing_key",
	"workers":         "dispatch.workers",
	"timeout":         "dispatch.timeout",
	"poll-interval":   "dispatch.poll_interval",
	"helo-domain":     "dispatch.helo_domain",
	"dry-run":         "dispatch.dry_run",
}

// RegisterFlags adds the flags Load reads to f.
func RegisterFlags(f *pflag.FlagSet) {
	f.StringP("config", "c", "", "Configuration file path")
	f.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	f.String("log-format", "", `Log format ("text" or "json")`)
	f.String("database", "", "PostgreSQL DSN; keep notifications in memory if empty")
	f.String("amqp", "", "AMQP DSN to consume notification requests from")
	f.String("amqp-queue", "", "AMQP queue name")
	f.String("amqp-exchange", "", "AMQP exchange; use the default exchange if empty")
	f.String("amqp-routingkey", "", "AMQP routing key; the queue name if empty")
	f.Int("workers", 0, "Number of concurrent senders")
	f.Duration("timeout", 0, "Timeout for delivering a single notification")
	f.Duration("poll-interval", 0, "Also check the database for pending notifications this often")
	f.String("helo-domain", "", "Domain to send with EHLO")
	f.Bool("dry-run", false, "Write notifications to stdout instead of sending them")
}

// SearchPaths are the directories searched for sarpush.yaml when no file is
// given.
func SearchPaths() []string {
	paths := []string{"."}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".sarpush"))
	}
	return append(paths, "/etc/sarpush")
}

func findFile(dirs []string) string {
	for _, dir := range dirs {
		for _, ext := range []string{"yaml", "yml"} {
			p := filepath.Join(dir, "sarpush."+ext)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SARPUSH_")), "_", ".", 1)
}

// Load the configuration from path, the environment, and the flags in f; f
// may be nil. If path is empty the SearchPaths are tried, and it's not an
// error if there is no file.
func Load(path string, f *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = findFile(SearchPaths())
	}
	if path != "" {
		if err := k.Load(kfile.Provider(path), kyaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config.Load: %s: %w", path, err)
		}
	}

	if err := k.Load(kenv.Provider("SARPUSH_", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config.Load: environment: %w", err)
	}

	if f != nil {
		// Only flags that were set; the defaults are merged below.
		p := kposflag.ProviderWithValue(f, ".", nil, func(name, value string) (string, interface{}) {
			if fl := f.Lookup(name); fl == nil || !fl.Changed {
				return "", nil
			}
			return flagKeys[name], value
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, fmt.Errorf("config.Load: flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	if err := mergo.Merge(&cfg, Defaults); err != nil {
		return Config{}, fmt.Errorf("config.Load: defaults: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate the configuration.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format: must be \"text\" or \"json\", not %q", c.Log.Format)
	}
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("config: dispatch.workers: must be at least 1, not %d", c.Dispatch.Workers)
	}
	if c.Dispatch.Timeout < 0 || c.Dispatch.PollInterval < 0 {
		return fmt.Errorf("config: dispatch: durations can't be negative")
	}
	seen := make(map[string]bool)
	for i, p := range c.Profiles {
		switch {
		case p.ID == "":
			return fmt.Errorf("config: profiles[%d]: id is required", i)
		case seen[p.ID]:
			return fmt.Errorf("config: profiles[%d]: duplicate id %q", i, p.ID)
		case p.SMTPAddress == "" || p.EmailAddress == "":
			return fmt.Errorf("config: profiles[%d]: smtp_address and email_address are required", i)
		}
		seen[p.ID] = true
	}
	return nil
}

// Logger creates a logger from the configuration.
//
// The DEBUG and LOG_LEVEL environment variables override the level.
func (l Log) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("config.Log.Logger: %w", err)
	}
	if os.Getenv("DEBUG") != "" || strings.ToUpper(os.Getenv("LOG_LEVEL")) == "DEBUG" {
		level = logrus.DebugLevel
	}
	if strings.ToUpper(os.Getenv("LOG_LEVEL")) == "TRACE" {
		level = logrus.TraceLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.Out = os.Stdout
	if l.Format == "json" {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &logrus.TextFormatter{
			ForceColors:     true,
			FullTimestamp:   true,
			DisableQuote:    true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}
	return logger, nil
}
