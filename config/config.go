package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/spektr-org/reports/access"
	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

// Config is a complete reporting deployment: how to log, where entities
// live, what they look like, who may see them and the saved reports.
type Config struct {
	Locale  string      `yaml:"locale" env:"REPORTS_LOCALE"`
	Workers int         `yaml:"workers" env:"REPORTS_WORKERS"`
	Log     LogConfig   `yaml:"log"`
	Store   StoreConfig `yaml:"store"`

	Schema    schema.Config    `yaml:"schema"`
	Data      []DataFile       `yaml:"data"`
	Relations []RelationConfig `yaml:"relations"`

	Users  []engine.User `yaml:"users"`
	Access AccessConfig  `yaml:"access"`

	Filters []engine.Filter    `yaml:"filters"`
	Reports []engine.Report    `yaml:"reports"`
	Charts  []engine.ChartSpec `yaml:"charts"`

	dir string // directory of the loaded file
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" env:"REPORTS_LOG_LEVEL"`
	Format string `yaml:"format" env:"REPORTS_LOG_FORMAT"`
}

// StoreConfig selects the store adapter
type StoreConfig struct {
	Driver string `yaml:"driver" env:"REPORTS_STORE_DRIVER"` // memory or sqlite
	DSN    string `yaml:"dsn" env:"REPORTS_STORE_DSN"`
}

// DataFile is a CSV file holding entities of one type
type DataFile struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// RelationConfig links two entities. Subject and object are "<type>/<id>".
type RelationConfig struct {
	Type    string `yaml:"type"`
	Subject string `yaml:"subject"`
	Object  string `yaml:"object"`
}

// AccessConfig contains credential and visibility settings
type AccessConfig struct {
	Ownership *access.Ownership   `yaml:"ownership"`
	Hidden    access.HiddenFields `yaml:"hidden"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Locale:  "en",
		Workers: 4,
		Log: LogConfig{
			Level:  "info",
			Format: "terminal",
		},
		Store: StoreConfig{
			Driver: "memory",
		},
	}
}

// Load builds the configuration: defaults, then the file, then the
// environment.
func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := config.LoadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	c.dir = filepath.Dir(configPath)
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if locale := os.Getenv("REPORTS_LOCALE"); locale != "" {
		c.Locale = locale
	}

	if workers := os.Getenv("REPORTS_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid REPORTS_WORKERS %q: %w", workers, err)
		}
		c.Workers = n
	}

	if level := os.Getenv("REPORTS_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if format := os.Getenv("REPORTS_LOG_FORMAT"); format != "" {
		c.Log.Format = strings.ToLower(format)
	}

	if driver := os.Getenv("REPORTS_STORE_DRIVER"); driver != "" {
		c.Store.Driver = strings.ToLower(driver)
	}

	if dsn := os.Getenv("REPORTS_STORE_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}

	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if _, err := language.Parse(c.Locale); err != nil {
		return fmt.Errorf("invalid locale %q: %w", c.Locale, err)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}

	validFormats := map[string]bool{
		"terminal": true,
		"text":     true,
		"json":     true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("sqlite store requires a dsn")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	// Data files may introduce types discovered from their columns.
	declared := make(map[string]bool)
	for _, t := range c.Schema.Types {
		declared[t.Key] = true
	}
	for _, d := range c.Data {
		if d.Type == "" {
			return fmt.Errorf("data file %s: type cannot be empty", d.Path)
		}
		declared[d.Type] = true
		if d.Path == "" {
			return fmt.Errorf("data file for %s: path cannot be empty", d.Type)
		}
	}

	for _, r := range c.Relations {
		if _, ok := c.Schema.RelationType(r.Type); !ok {
			return fmt.Errorf("relation %s: unknown relation type", r.Type)
		}
		for _, end := range []string{r.Subject, r.Object} {
			if _, _, err := SplitRef(end); err != nil {
				return fmt.Errorf("relation %s: %w", r.Type, err)
			}
		}
	}

	users := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("user id cannot be empty")
		}
		if users[u.ID] {
			return fmt.Errorf("duplicate user: %s", u.ID)
		}
		users[u.ID] = true
	}

	for _, f := range c.Filters {
		if f.ID == "" {
			return fmt.Errorf("filter %q: id cannot be empty", f.Name)
		}
		for _, cond := range f.Conditions {
			if err := cond.Validate(); err != nil {
				return fmt.Errorf("filter %s: %w", f.ID, err)
			}
		}
	}

	reports := make(map[string]bool, len(c.Reports))
	for _, r := range c.Reports {
		if r.ID == "" {
			return fmt.Errorf("report %q: id cannot be empty", r.Name)
		}
		if !declared[r.EntityType] {
			return fmt.Errorf("report %s: %w: %s", r.ID, schema.ErrUnknownType, r.EntityType)
		}
		reports[r.ID] = true
	}

	for _, ch := range c.Charts {
		if ch.ID == "" {
			return fmt.Errorf("chart %q: id cannot be empty", ch.Name)
		}
		if !reports[ch.ReportID] {
			return fmt.Errorf("chart %s: unknown report %s", ch.ID, ch.ReportID)
		}
	}

	return nil
}

// LocaleTag returns the parsed locale, English when it does not parse.
func (c *Config) LocaleTag() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// User returns the configured user with the given id.
func (c *Config) User(id string) (*engine.User, bool) {
	for i := range c.Users {
		if c.Users[i].ID == id {
			return &c.Users[i], true
		}
	}
	return nil, false
}

// DataPath resolves a data file path against the directory of the loaded
// configuration file.
func (c *Config) DataPath(d DataFile) string {
	if filepath.IsAbs(d.Path) || c.dir == "" {
		return d.Path
	}
	return filepath.Join(c.dir, d.Path)
}

// SplitRef splits "<type>/<id>".
func SplitRef(ref string) (entityType, id string, err error) {
	entityType, id, ok := strings.Cut(ref, "/")
	if !ok || entityType == "" || id == "" {
		return "", "", fmt.Errorf("malformed entity reference %q (expected type/id)", ref)
	}
	return entityType, id, nil
}
