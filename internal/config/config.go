// Package config provides functionality for managing configuration options
// for the application using command-line flags, environment variables and
// an optional yaml config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// EnvPrefix prefixes every environment variable, e.g. KEEPSYNC_SERVER_URL.
const EnvPrefix = "KEEPSYNC"

// Options holds the configuration values for the application.
type Options struct {
	// Username is the local account's login name.
	Username string `mapstructure:"username"`
	// AccountFile is the path of the sealed account key file.
	AccountFile string `mapstructure:"account-file"`
	// Passphrase unlocks the account file.
	Passphrase string `mapstructure:"passphrase"`

	// Backend selects the storage backend: http or postgres.
	Backend string `mapstructure:"backend"`
	// ServerURL is the storage service base URL (http backend).
	ServerURL string `mapstructure:"server-url"`
	// CertFile, KeyFile and CAFile enable mutual TLS (http backend).
	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`
	CAFile   string `mapstructure:"ca"`
	// Compress enables zstd request and response bodies (http backend).
	Compress bool `mapstructure:"compress"`

	// DatabaseDSN holds the database connection string (postgres backend).
	DatabaseDSN string `mapstructure:"database-dsn"`
	// TombstoneRetention is how long deleted containers and items are kept.
	TombstoneRetention time.Duration `mapstructure:"tombstone-retention"`
	// TombstoneInterval is how often the tombstone cleaner runs; 0 disables it.
	TombstoneInterval time.Duration `mapstructure:"tombstone-interval"`

	// PushListen is the webhook receiver's listening address (ip:port).
	PushListen string `mapstructure:"push-listen"`
	// PushURL is the public webhook URL registered with the service.
	PushURL string `mapstructure:"push-url"`
	// PushToken authenticates webhook deliveries.
	PushToken string `mapstructure:"push-token"`

	// CallTimeout bounds every backend call; 0 disables it.
	CallTimeout time.Duration `mapstructure:"call-timeout"`
	// LogLevel is the zap level name.
	LogLevel string `mapstructure:"log-level"`
}

// RegisterFlags declares every option on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("username", "", "account username")
	fs.String("account-file", defaultAccountFile(), "path to the sealed account key file")
	fs.String("passphrase", "", "account file passphrase")
	fs.String("backend", BackendHTTP, "storage backend: http | postgres")
	fs.String("server-url", "https://localhost:8080", "storage service base URL")
	fs.String("cert", "", "path to client cert")
	fs.String("key", "", "path to client key")
	fs.String("ca", "", "path to CA cert")
	fs.Bool("compress", false, "compress request and response bodies with zstd")
	fs.String("database-dsn", "", "postgres connection string")
	fs.Duration("tombstone-retention", 30*24*time.Hour, "how long deleted entries are kept")
	fs.Duration("tombstone-interval", time.Hour, "tombstone cleaner interval, 0 disables")
	fs.String("push-listen", "127.0.0.1:8787", "push webhook listen address")
	fs.String("push-url", "", "public push webhook URL to subscribe with")
	fs.String("push-token", "", "push webhook bearer token")
	fs.Duration("call-timeout", 10*time.Second, "timeout for each backend call, 0 disables")
	fs.String("log-level", "info", "log level: debug | info | warn | error")
}

// Load resolves options from fs, the environment and the config file, in
// decreasing precedence after explicitly set flags. An empty configFile
// looks for config.yaml in the user config directory; a missing file there
// is not an error.
func Load(v *viper.Viper, fs *pflag.FlagSet, configFile string) (*Options, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error while reading config file: %w", err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("error while parsing config: %w", err)
	}
	return &opts, nil
}

// Validate reports the first inconsistency in o.
func (o *Options) Validate() error {
	if o.Username == "" {
		return errors.New("username is required")
	}
	switch o.Backend {
	case BackendHTTP:
		if o.ServerURL == "" {
			return errors.New("server-url is required for the http backend")
		}
		if (o.CertFile == "") != (o.KeyFile == "") {
			return errors.New("cert and key must be set together")
		}
	case BackendPostgres:
		if o.DatabaseDSN == "" {
			return errors.New("database-dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", o.Backend)
	}
	if o.CallTimeout < 0 {
		return errors.New("call-timeout must not be negative")
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "keepsync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "keepsync")
	}
	return ".keepsync"
}

func defaultAccountFile() string {
	return filepath.Join(configDir(), "account.json")
}
