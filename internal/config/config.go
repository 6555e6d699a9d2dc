// Package config loads the cyclewatch configuration file: project catalogs
// (countries, types, severities), cycle definitions and crawler settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the root of the YAML configuration file.
type Config struct {
	Database  Database  `yaml:"database"`
	Server    Server    `yaml:"server"`
	Scheduler Scheduler `yaml:"scheduler"`
	Notifier  Notifier  `yaml:"notifier"`
	Projects  []Project `yaml:"projects"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Scheduler controls the periodic discovery of builds to index.
type Scheduler struct {
	// Enabled is the global on/off switch, consulted once per tick.
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	// Workers bounds how many executions are reconciled concurrently
	// within one tick. Each execution always gets its own transaction.
	Workers int `yaml:"workers"`
	// MinExecutionsToKeep is the minimum number of recent builds indexed
	// per cycle, even when they are older than MaxExecutionDaysToKeep.
	MinExecutionsToKeep int `yaml:"minExecutionsToKeep"`
	// MaxExecutionDaysToKeep bounds how far back builds are indexed; the
	// larger of the two bounds wins.
	MaxExecutionDaysToKeep int `yaml:"maxExecutionDaysToKeep"`
}

// Notifier configures the post-commit quality notification hook.
type Notifier struct {
	WebhookURL string `yaml:"webhookUrl"`
}

// Project is one project catalog plus its fetcher settings and cycles.
type Project struct {
	Code       string                     `yaml:"code"`
	Name       string                     `yaml:"name"`
	Countries  []model.Country            `yaml:"countries"`
	Types      []model.Type               `yaml:"types"`
	Severities []model.Severity           `yaml:"severities"`
	Cycles     []model.CycleDefinition    `yaml:"cycles"`
	Thresholds map[string]model.Threshold `yaml:"thresholds"`
	Fetcher    Fetcher                    `yaml:"fetcher"`
}

// Fetcher selects and configures the build source of one project. Exactly
// one of the three sections must be set.
type Fetcher struct {
	HTTP       *HTTPFetcher       `yaml:"http,omitempty"`
	FileSystem *FileSystemFetcher `yaml:"filesystem,omitempty"`
	S3         *S3Fetcher         `yaml:"s3,omitempty"`
}

type HTTPFetcher struct {
	BaseURL string   `yaml:"baseUrl"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

type FileSystemFetcher struct {
	Root string `yaml:"root"`
	// DeleteAfterIndexing removes an execution folder once its DONE
	// execution has been committed.
	DeleteAfterIndexing bool `yaml:"deleteAfterIndexing"`
}

type S3Fetcher struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Prefix    string `yaml:"prefix"`
}

// Load reads the YAML configuration at path. A .env file next to the
// working directory is honored first so ${VAR} expansion in the file and
// credential lookups see local development values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: Database{Path: "cyclewatch.db"},
		Server:   Server{Addr: ":8080"},
		Scheduler: Scheduler{
			Enabled:                true,
			Interval:               Duration(time.Minute),
			Workers:                1,
			MinExecutionsToKeep:    20,
			MaxExecutionDaysToKeep: 14,
		},
	}
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i := range c.Projects {
		p := &c.Projects[i]
		if p.Code == "" {
			return fmt.Errorf("project %d: missing code", i)
		}
		if seen[p.Code] {
			return fmt.Errorf("project %q: duplicate code", p.Code)
		}
		seen[p.Code] = true

		configured := 0
		for _, set := range []bool{p.Fetcher.HTTP != nil, p.Fetcher.FileSystem != nil, p.Fetcher.S3 != nil} {
			if set {
				configured++
			}
		}
		if configured != 1 {
			return fmt.Errorf("project %q: exactly one fetcher must be configured, got %d", p.Code, configured)
		}

		for j := range p.Cycles {
			cycle := &p.Cycles[j]
			if cycle.Branch == "" || cycle.Name == "" {
				return fmt.Errorf("project %q: cycle needs both branch and name", p.Code)
			}
			if cycle.ProjectCode == "" {
				cycle.ProjectCode = p.Code
			}
		}
		if err := validateSeverities(p.Severities); err != nil {
			return fmt.Errorf("project %q: %w", p.Code, err)
		}
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", c.Scheduler.Workers)
	}
	return nil
}

func validateSeverities(severities []model.Severity) error {
	defaults := 0
	codes := map[string]bool{}
	for _, s := range severities {
		if s.Code == "" || s.Code == model.SeverityAll.Code {
			return fmt.Errorf("severity code %q is reserved or empty", s.Code)
		}
		if codes[s.Code] {
			return fmt.Errorf("duplicate severity code %q", s.Code)
		}
		codes[s.Code] = true
		if s.DefaultOnMissing {
			defaults++
		}
	}
	if len(severities) > 0 && defaults != 1 {
		return fmt.Errorf("exactly one severity must be flagged defaultOnMissing, got %d", defaults)
	}
	return nil
}

// ProjectByCode returns the project with the given code.
func (c *Config) ProjectByCode(code string) (*Project, error) {
	for i := range c.Projects {
		if c.Projects[i].Code == code {
			return &c.Projects[i], nil
		}
	}
	return nil, fmt.Errorf("project %q not configured", code)
}

// Catalog lookups fail loudly: an unknown code referenced by live or
// historical CI data means the project catalog and the CI configuration
// drifted apart, and a human must reconcile them.

// CountryByCode returns the catalog country with the given code.
func (p *Project) CountryByCode(code string) (model.Country, error) {
	for _, country := range p.Countries {
		if country.Code == code {
			return country, nil
		}
	}
	return model.Country{}, fmt.Errorf("country %q not found in project %q catalog", code, p.Code)
}

// TypeByCode returns the catalog test type with the given code.
func (p *Project) TypeByCode(code string) (model.Type, error) {
	for _, t := range p.Types {
		if t.Code == code {
			return t, nil
		}
	}
	return model.Type{}, fmt.Errorf("type %q not found in project %q catalog: "+
		"a run in a format cyclewatch cannot understand must be configured as a type without source", code, p.Code)
}

// DefaultSeverity returns the catalog severity applied to scenarios with no
// severity tag. Validation guarantees exactly one is flagged.
func (p *Project) DefaultSeverity() model.Severity {
	for _, s := range p.Severities {
		if s.DefaultOnMissing {
			return s
		}
	}
	return model.Severity{}
}

// SeverityByCode returns the catalog severity with the given code.
func (p *Project) SeverityByCode(code string) (model.Severity, error) {
	for _, s := range p.Severities {
		if s.Code == code {
			return s, nil
		}
	}
	return model.Severity{}, fmt.Errorf("severity %q not found in project %q catalog", code, p.Code)
}
