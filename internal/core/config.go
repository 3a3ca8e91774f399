package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to clientpatch.
type Config struct {
	// Directory holding the keystore, the client cache and the patch ledger.
	// Defaults to ~/.clientpatch.
	ConfigDir string `mapstructure:"config_dir"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	Keystore struct {
		// JKS keystore holding the signing key. Relative to config_dir unless absolute.
		Path     string `mapstructure:"path"`
		Password string `mapstructure:"password"`
		Alias    string `mapstructure:"alias"`
	} `mapstructure:"keystore"`

	Cache struct {
		// Directory of signed launcher clients. Relative to config_dir unless absolute.
		Dir string `mapstructure:"dir"`
		// Disable to always patch and sign from scratch.
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"cache"`

	Database struct {
		// Either sqlite or postgres.
		Engine string `mapstructure:"engine"`
		// SQLite database file. Relative to config_dir unless absolute.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int    `mapstructure:"port"`
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Dump every patch result to the log.
		DumpResults bool `mapstructure:"dump_results"`
		//  Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "CLIENTPATCH"

// DefaultConfigDir returns ~/.clientpatch, falling back to the working
// directory when there is no home directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clientpatch"
	}
	return filepath.Join(home, ".clientpatch")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_dir", DefaultConfigDir())
	v.SetDefault("log_file_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("keystore.path", filepath.Join("signkey", "fake-cert.jks"))
	v.SetDefault("keystore.password", "123456")
	v.SetDefault("keystore.alias", "test")
	v.SetDefault("cache.dir", "runelite")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.filename", "clientpatch.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "clientpatch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("debugging.dump_results", false)
	v.SetDefault("debugging.database_logging_enabled", false)
}

// LoadConfig reads config.yaml from configPath, or from DefaultConfigDir when
// configPath is empty, on top of the defaults. A missing config file is not an
// error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if configPath == "" {
		configPath = DefaultConfigDir()
	}
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, keystore.path can be set using: <envVarPrefix>_KEYSTORE_PATH
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ConfigDir, path)
}

// KeystorePath returns the absolute location of the signing keystore.
func (c *Config) KeystorePath() string {
	return c.resolve(c.Keystore.Path)
}

// CacheDir returns the absolute location of the signed client cache.
func (c *Config) CacheDir() string {
	return c.resolve(c.Cache.Dir)
}

// DatabaseFile returns the absolute location of the SQLite ledger.
func (c *Config) DatabaseFile() string {
	return c.resolve(c.Database.Filename)
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}
