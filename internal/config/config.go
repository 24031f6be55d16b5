package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kyleking/bb-biodiversity/internal/errors"
)

// EnvPrefix is prepended to every environment variable the config reads.
const EnvPrefix = "BB_"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Server   ServerConfig   `json:"server"   yaml:"server"`
	Dataset  DatasetConfig  `json:"dataset"  yaml:"dataset"`
	Logging  LoggingConfig  `json:"logging"  yaml:"logging"`
}

// DatabaseConfig represents the backing store connection
type DatabaseConfig struct {
	Driver          string `json:"driver"             yaml:"driver"             env:"DB_DRIVER"             envDefault:"sqlite3"`                                  // sqlite3, duckdb, pgx
	DSN             string `json:"dsn"                yaml:"dsn"                env:"DB_DSN"                envDefault:"DataSets/belly_button_biodiversity.sqlite"` // file path or connection string
	ReadOnly        bool   `json:"read_only"          yaml:"read_only"          env:"DB_READ_ONLY"          envDefault:"true"`
	MaxConnections  int    `json:"max_connections"    yaml:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     yaml:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  yaml:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" yaml:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	QueryTimeout    string `json:"query_timeout"      yaml:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"` // 0 disables
	Schema          string `json:"schema"             yaml:"schema"             env:"DB_SCHEMA"`                              // empty: main, or public for pgx
}

// ServerConfig represents the HTTP listener
type ServerConfig struct {
	Addr            string `json:"addr"             yaml:"addr"             env:"SERVER_ADDR"             envDefault:":5000"`
	ReadTimeout     string `json:"read_timeout"     yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     envDefault:"15s"`
	WriteTimeout    string `json:"write_timeout"    yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    envDefault:"15s"`
	IdleTimeout     string `json:"idle_timeout"     yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     envDefault:"60s"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MonitorInterval string `json:"monitor_interval" yaml:"monitor_interval" env:"SERVER_MONITOR_INTERVAL" envDefault:"1m"` // 0 disables
}

// DatasetConfig names the physical tables and fixed columns of the dataset
type DatasetConfig struct {
	ObservationsTable      string `json:"observations_table"       yaml:"observations_table"       env:"DATASET_OBSERVATIONS_TABLE" envDefault:"samples"`
	MetadataTable          string `json:"metadata_table"           yaml:"metadata_table"           env:"DATASET_METADATA_TABLE"     envDefault:"samples_metadata"`
	TaxonomyTable          string `json:"taxonomy_table"           yaml:"taxonomy_table"           env:"DATASET_TAXONOMY_TABLE"     envDefault:"otu"`
	OTUIDColumn            string `json:"otu_id_column"            yaml:"otu_id_column"            env:"DATASET_OTU_ID_COLUMN"      envDefault:"otu_id"`
	DescriptionColumn      string `json:"description_column"       yaml:"description_column"       env:"DATASET_DESCRIPTION_COLUMN" envDefault:"lowest_taxonomic_unit_found"`
	SampleIDColumn         string `json:"sample_id_column"         yaml:"sample_id_column"         env:"DATASET_SAMPLE_ID_COLUMN"   envDefault:"SAMPLEID"`
	WashingFrequencyColumn string `json:"washing_frequency_column" yaml:"washing_frequency_column" env:"DATASET_WFREQ_COLUMN"       envDefault:"WFREQ"`
	SampleLabelPrefix      string `json:"sample_label_prefix"      yaml:"sample_label_prefix"      env:"DATASET_LABEL_PREFIX"       envDefault:"BB_"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      yaml:"level"      env:"LOG_LEVEL"      envDefault:"info"`                                    // debug, info, warn, error
	Format    string `json:"format"     yaml:"format"     env:"LOG_FORMAT"     envDefault:"text"`                                    // text, json
	Output    string `json:"output"     yaml:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                                  // stdout, stderr, file
	File      string `json:"file"       yaml:"file"       env:"LOG_FILE"       envDefault:"~/.config/bb-biodiversity/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" yaml:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DefaultConfig returns the configuration produced by defaults alone,
// ignoring the environment and any config file.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})

	return cfg
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides.
//
// Precedence, lowest first: defaults, config file, environment, flags. The
// "config" override names an explicit config file, which must then exist.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := &Config{}

	// Defaults and environment. Keys actually present in the environment are
	// remembered so the config file cannot shadow them.
	fromEnv := map[string]bool{}
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: EnvPrefix,
		OnSet: func(tag string, _ interface{}, isDefault bool) {
			if !isDefault {
				fromEnv[tag] = true
			}
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	configPath, explicit := getConfigPath(flagOverrides)
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath, fromEnv); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON or YAML file. Fields
// whose environment variable is in fromEnv keep their current value.
func loadConfigFromFile(config *Config, configPath string, fromEnv map[string]bool) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Decode on top of a copy so keys absent from the file keep their value.
	fileConfig := *config

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileConfig)
	default:
		err = json.Unmarshal(data, &fileConfig)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig, fromEnv)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "config":
			// consumed by getConfigPath
		case "db-driver":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Driver = str
			}
		case "db-dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Database.DSN = str
			}
		case "addr":
			if str, ok := value.(string); ok && str != "" {
				config.Server.Addr = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "log-format":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Format = str
			}
		default:
			return fmt.Errorf("unknown override: %s", key)
		}
	}

	return nil
}

// mergeConfigs copies source into target, skipping fields that were set
// from the environment.
func mergeConfigs(target, source *Config, fromEnv map[string]bool) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		for i := range s.NumField() {
			field := s.Type().Field(i)
			if field.Type.Kind() == reflect.Struct {
				mergeValues(t.Field(i), s.Field(i))
				continue
			}

			if tag := field.Tag.Get("env"); tag != "" && (fromEnv[EnvPrefix+tag] || fromEnv[tag]) {
				continue
			}

			t.Field(i).Set(s.Field(i))
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validDrivers := map[string]bool{
		"sqlite3": true, "duckdb": true, "pgx": true,
	}
	if !validDrivers[config.Database.Driver] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid database driver: %s (must be sqlite3, duckdb, or pgx)", config.Database.Driver),
			"database.driver",
		)
	}

	if config.Database.DSN == "" {
		return errors.NewConfigError("database dsn must not be empty", "database.dsn")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level),
			"logging.level",
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid log format: %s (must be text or json)", config.Logging.Format),
			"logging.format",
		)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid log output: %s (must be stdout, stderr, or file)", config.Logging.Output),
			"logging.output",
		)
	}

	durations := map[string]string{
		"database.query_timeout":      config.Database.QueryTimeout,
		"database.conn_max_lifetime":  config.Database.ConnMaxLifetime,
		"database.conn_max_idle_time": config.Database.ConnMaxIdleTime,
		"server.read_timeout":         config.Server.ReadTimeout,
		"server.write_timeout":        config.Server.WriteTimeout,
		"server.idle_timeout":         config.Server.IdleTimeout,
		"server.shutdown_timeout":     config.Server.ShutdownTimeout,
		"server.monitor_interval":     config.Server.MonitorInterval,
	}
	for field, value := range durations {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return errors.NewConfigError(fmt.Sprintf("invalid duration %q", value), field)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return errors.NewConfigError(
			fmt.Sprintf("database max connections must be positive: %d", config.Database.MaxConnections),
			"database.max_connections",
		)
	}

	if config.Database.MaxIdleConns < 0 {
		return errors.NewConfigError(
			fmt.Sprintf("database max idle conns must not be negative: %d", config.Database.MaxIdleConns),
			"database.max_idle_conns",
		)
	}

	ds := config.Dataset
	for name, value := range map[string]string{
		"observations_table":       ds.ObservationsTable,
		"metadata_table":           ds.MetadataTable,
		"taxonomy_table":           ds.TaxonomyTable,
		"otu_id_column":            ds.OTUIDColumn,
		"description_column":       ds.DescriptionColumn,
		"sample_id_column":         ds.SampleIDColumn,
		"washing_frequency_column": ds.WashingFrequencyColumn,
	} {
		if value == "" {
			return errors.NewConfigError("value must not be empty", "dataset."+name)
		}
	}

	return nil
}

// dsnSecret matches password-like key=value pairs in keyword/value
// connection strings such as "host=db password=secret".
var dsnSecret = regexp.MustCompile(`(?i)\b([a-z_]*(?:pass|secret|token)[a-z_]*)\s*=\s*('[^']*'|\S+)`)

// dsnUserinfo matches the userinfo of a URL that failed to parse.
var dsnUserinfo = regexp.MustCompile(`://[^@/]*@`)

const redacted = "xxxxx"

// RedactedDSN returns the DSN with credentials masked, for logs and display.
// URL userinfo passwords and password-like query parameters are replaced, as
// are password-like pairs of keyword/value strings. Plain paths are returned
// unchanged.
func (d DatabaseConfig) RedactedDSN() string {
	if !strings.Contains(d.DSN, "://") && !strings.HasPrefix(d.DSN, "file:") {
		return dsnSecret.ReplaceAllString(d.DSN, "$1="+redacted)
	}

	u, err := url.Parse(d.DSN)
	if err != nil {
		masked := dsnUserinfo.ReplaceAllString(d.DSN, "://"+redacted+"@")
		return dsnSecret.ReplaceAllString(masked, "$1="+redacted)
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if isSecretKey(key) {
				q.Set(key, redacted)
			}
		}

		u.RawQuery = q.Encode()
	}

	return u.Redacted()
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "pass") || strings.Contains(k, "secret") || strings.Contains(k, "token")
}

// QueryTimeoutDuration returns the per-query timeout; zero means none.
func (d DatabaseConfig) QueryTimeoutDuration() time.Duration {
	return mustDuration(d.QueryTimeout)
}

// PoolLifetimes returns the connection max lifetime and max idle time.
func (d DatabaseConfig) PoolLifetimes() (lifetime, idle time.Duration) {
	return mustDuration(d.ConnMaxLifetime), mustDuration(d.ConnMaxIdleTime)
}

// Timeouts returns the parsed HTTP server timeouts.
func (s ServerConfig) Timeouts() (read, write, idle, shutdown time.Duration) {
	return mustDuration(s.ReadTimeout),
		mustDuration(s.WriteTimeout),
		mustDuration(s.IdleTimeout),
		mustDuration(s.ShutdownTimeout)
}

// MonitorIntervalDuration returns how often runtime and pool stats are
// sampled while serving; zero means never.
func (s ServerConfig) MonitorIntervalDuration() time.Duration {
	return mustDuration(s.MonitorInterval)
}

// mustDuration parses a duration already checked by validateConfig.
func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}

	return d
}

// getConfigPath returns the path to the configuration file and whether it
// was named explicitly.
func getConfigPath(overrides map[string]interface{}) (string, bool) {
	if str, ok := overrides["config"].(string); ok && str != "" {
		return ExpandPath(str), true
	}

	if configPath := os.Getenv(EnvPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath), true
	}

	return filepath.Join(GetConfigDir(), "config.json"), false
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	if c.Database.Driver != "pgx" {
		c.Database.DSN = ExpandPath(c.Database.DSN)
	}

	c.Logging.File = ExpandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/bb-biodiversity"
	}

	return filepath.Join(homeDir, ".config", "bb-biodiversity")
}
