// Package config loads adusers settings from a YAML file, a dotenv file,
// ADUSERS_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "ADUSERS"

// DefaultEnvFile is loaded when Options.EnvFile is empty. It may be absent.
const DefaultEnvFile = ".env"

// Config is the complete adusers configuration.
type Config struct {
	Domain    string        `mapstructure:"domain"`
	Container string        `mapstructure:"container"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	BaseDN    string        `mapstructure:"base_dn"`
	LDAPURLs  []string      `mapstructure:"ldap_urls"`
	Timeout   time.Duration `mapstructure:"timeout" default:"30s"`
	PageSize  uint32        `mapstructure:"page_size" default:"1000"`
	Output    string        `mapstructure:"output" default:"table"`

	TLS      TLSConfig      `mapstructure:"tls"`
	Kerberos KerberosConfig `mapstructure:"kerberos"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Log      LogConfig      `mapstructure:"log"`
	Export   ExportConfig   `mapstructure:"export"`
}

type TLSConfig struct {
	UseTLS             bool   `mapstructure:"use_tls" default:"true"`
	SkipTLS            bool   `mapstructure:"skip_tls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	CACertFile         string `mapstructure:"ca_cert_file"`
}

type KerberosConfig struct {
	Realm  string `mapstructure:"realm"`
	Keytab string `mapstructure:"keytab"`
	Config string `mapstructure:"config"`
	CCache string `mapstructure:"ccache"`
	SPN    string `mapstructure:"spn"`
}

type PoolConfig struct {
	MaxConnections int `mapstructure:"max_connections" default:"4"`
}

type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries" default:"0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" default:"warn"`
	Format string `mapstructure:"format" default:"text"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir" default:"."`
}

// Keys lists every configuration key. Each one is bound to the environment
// variable ADUSERS_<KEY> with dots replaced by underscores.
var Keys = []string{
	"domain", "container", "username", "password", "base_dn", "ldap_urls",
	"timeout", "page_size", "output",
	"tls.use_tls", "tls.skip_tls", "tls.insecure_skip_verify", "tls.ca_cert_file",
	"kerberos.realm", "kerberos.keytab", "kerberos.config", "kerberos.ccache", "kerberos.spn",
	"pool.max_connections",
	"retry.max_retries",
	"log.level", "log.format",
	"export.dir",
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"domain":     "domain",
	"container":  "container",
	"username":   "username",
	"password":   "password",
	"base-dn":    "base_dn",
	"ldap-url":   "ldap_urls",
	"page-size":  "page_size",
	"output":     "output",
	"log-level":  "log.level",
	"log-format": "log.format",
	"export-dir": "export.dir",
}

// Options controls where Load looks for settings.
type Options struct {
	// ConfigFile is an explicit YAML file. It must exist when set.
	ConfigFile string
	// EnvFile is a dotenv file. When empty DefaultEnvFile is tried.
	EnvFile string
	// Flags, when set, override every other source for flags the user changed.
	Flags *pflag.FlagSet
}

// Load builds a Config from defaults, the config file, the environment and
// flags, then validates it.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone is not consulted by Unmarshal.
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	path, err := configFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(name string) error {
	explicit := name != ""
	if !explicit {
		name = DefaultEnvFile
	}

	err := godotenv.Load(name)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", name, err)
}

// configFile returns the file to read, or "" when none exists.
func configFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}

	for _, candidate := range DefaultConfigFiles() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// DefaultConfigFiles lists the files searched when no config file is given.
func DefaultConfigFiles() []string {
	var files []string
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, "adusers", "config.yaml"))
	}
	return append(files, "adusers.yaml")
}

// bindFlags binds only flags the user set, so unset flags never mask the
// config file or environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.PageSize == 0 {
		errs = append(errs, errors.New("page_size must be greater than zero"))
	}
	if c.Pool.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("pool.max_connections must be at least 1, got %d", c.Pool.MaxConnections))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries cannot be negative, got %d", c.Retry.MaxRetries))
	}
	if c.Password != "" && c.Username == "" {
		errs = append(errs, errors.New("password is set without username"))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error, off", c.Log.Level))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	switch strings.ToLower(c.Output) {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output %q must be table or json", c.Output))
	}

	for _, u := range c.LDAPURLs {
		if !strings.HasPrefix(u, "ldap://") && !strings.HasPrefix(u, "ldaps://") {
			errs = append(errs, fmt.Errorf("ldap_urls entry %q must start with ldap:// or ldaps://", u))
		}
	}

	if c.BaseDN != "" {
		if err := ldapclient.ValidateDNSyntax(c.BaseDN); err != nil {
			errs = append(errs, fmt.Errorf("base_dn: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ConnectionConfig converts c to the LDAP client configuration. The domain,
// container and credentials are applied by the directory service options.
func (c *Config) ConnectionConfig() *ldapclient.ConnectionConfig {
	conn := ldapclient.DefaultConfig()

	conn.Domain = c.Domain
	conn.LDAPURLs = c.LDAPURLs
	conn.BaseDN = c.BaseDN
	conn.Timeout = c.Timeout
	conn.PageSize = c.PageSize
	conn.Username = c.Username
	conn.Password = c.Password

	// skip_tls wins over the use_tls default.
	conn.UseTLS = c.TLS.UseTLS && !c.TLS.SkipTLS
	conn.SkipTLS = c.TLS.SkipTLS
	conn.TLSCACertFile = c.TLS.CACertFile
	conn.TLSConfig.InsecureSkipVerify = c.TLS.InsecureSkipVerify

	conn.KerberosRealm = c.Kerberos.Realm
	conn.KerberosKeytab = c.Kerberos.Keytab
	conn.KerberosConfig = c.Kerberos.Config
	conn.KerberosCCache = c.Kerberos.CCache
	conn.KerberosSPN = c.Kerberos.SPN

	conn.MaxConnections = c.Pool.MaxConnections
	conn.MaxRetries = c.Retry.MaxRetries

	return conn
}
