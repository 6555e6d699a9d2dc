package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cyclewatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
database:
  path: /tmp/cyclewatch-test.db
scheduler:
  interval: 5m
  workers: 3
projects:
  - code: phones
    name: Phone shop
    countries:
      - code: fr
        name: France
      - code: us
        name: United States
    types:
      - code: firefox
        name: Desktop
        source:
          code: web
          technology: CUCUMBER
    severities:
      - code: sanity-check
        position: 1
        name: Sanity Check
        shortName: Sanity
      - code: high
        position: 2
        name: High
        shortName: High
        defaultOnMissing: true
    cycles:
      - branch: develop
        name: day
    thresholds:
      high:
        failure: 95
        warning: 98
    fetcher:
      http:
        baseUrl: https://ci.example.com/artifacts
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got, want := cfg.Database.Path, "/tmp/cyclewatch-test.db"; got != want {
		t.Errorf("Database.Path = %q, want %q", got, want)
	}
	if got, want := cfg.Server.Addr, ":8080"; got != want {
		t.Errorf("Server.Addr = %q, want default %q", got, want)
	}
	if got, want := cfg.Scheduler.Interval, Duration(5*time.Minute); got != want {
		t.Errorf("Scheduler.Interval = %v, want %v", got, want)
	}
	if got, want := cfg.Scheduler.Workers, 3; got != want {
		t.Errorf("Scheduler.Workers = %d, want %d", got, want)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled = false, want default true")
	}
	if got, want := cfg.Scheduler.MinExecutionsToKeep, 20; got != want {
		t.Errorf("Scheduler.MinExecutionsToKeep = %d, want default %d", got, want)
	}

	if len(cfg.Projects) != 1 {
		t.Fatalf("got %d projects, want 1", len(cfg.Projects))
	}
	p := cfg.Projects[0]
	if p.Fetcher.HTTP == nil {
		t.Fatal("Fetcher.HTTP not parsed")
	}
	if got, want := p.Fetcher.HTTP.BaseURL, "https://ci.example.com/artifacts"; got != want {
		t.Errorf("BaseURL = %q, want %q", got, want)
	}
	if got, want := p.Thresholds["high"].Failure, 95; got != want {
		t.Errorf("Thresholds[high].Failure = %d, want %d", got, want)
	}
	if got, want := p.Cycles[0].ProjectCode, "phones"; got != want {
		t.Errorf("Cycles[0].ProjectCode = %q, want inherited %q", got, want)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CI_TOKEN", "hunter2")
	path := writeConfig(t, strings.Replace(validConfig,
		"baseUrl: https://ci.example.com/artifacts",
		"baseUrl: https://ci.example.com/artifacts\n        token: ${CI_TOKEN}", 1))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.Projects[0].Fetcher.HTTP.Token, "hunter2"; got != want {
		t.Errorf("Token = %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() of a missing file succeeded")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name: "missing project code",
			mutate: func(c string) string {
				return strings.Replace(c, "code: phones", "code: \"\"", 1)
			},
			wantErr: "missing code",
		},
		{
			name: "two fetchers",
			mutate: func(c string) string {
				return c + "      filesystem:\n        root: /var/ci\n"
			},
			wantErr: "exactly one fetcher must be configured, got 2",
		},
		{
			name: "no fetcher",
			mutate: func(c string) string {
				i := strings.Index(c, "    fetcher:")
				return c[:i]
			},
			wantErr: "exactly one fetcher must be configured, got 0",
		},
		{
			name: "cycle without branch",
			mutate: func(c string) string {
				return strings.Replace(c, "branch: develop", "branch: \"\"", 1)
			},
			wantErr: "cycle needs both branch and name",
		},
		{
			name: "reserved severity code",
			mutate: func(c string) string {
				return strings.Replace(c, "code: sanity-check", "code: \"*\"", 1)
			},
			wantErr: `severity code "*" is reserved or empty`,
		},
		{
			name: "duplicate severity code",
			mutate: func(c string) string {
				return strings.Replace(c, "code: sanity-check", "code: high", 1)
			},
			wantErr: `duplicate severity code "high"`,
		},
		{
			name: "no default severity",
			mutate: func(c string) string {
				return strings.Replace(c, "defaultOnMissing: true", "defaultOnMissing: false", 1)
			},
			wantErr: "exactly one severity must be flagged defaultOnMissing, got 0",
		},
		{
			name: "two default severities",
			mutate: func(c string) string {
				return strings.Replace(c, "shortName: Sanity", "shortName: Sanity\n        defaultOnMissing: true", 1)
			},
			wantErr: "exactly one severity must be flagged defaultOnMissing, got 2",
		},
		{
			name: "zero workers",
			mutate: func(c string) string {
				return strings.Replace(c, "workers: 3", "workers: 0", 1)
			},
			wantErr: "scheduler.workers must be >= 1, got 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.mutate(validConfig))
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDuplicateProjectCode(t *testing.T) {
	second := strings.Replace(validConfig[strings.Index(validConfig, "  - code: phones"):],
		"name: Phone shop", "name: Phone shop again", 1)
	path := writeConfig(t, validConfig+second)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate code") {
		t.Fatalf("Load() error = %v, want duplicate code error", err)
	}
}

func TestCatalogLookups(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p, err := cfg.ProjectByCode("phones")
	if err != nil {
		t.Fatalf("ProjectByCode() error = %v", err)
	}

	country, err := p.CountryByCode("fr")
	if err != nil {
		t.Fatalf("CountryByCode() error = %v", err)
	}
	if country.Name != "France" {
		t.Errorf("country name = %q, want France", country.Name)
	}
	if _, err := p.CountryByCode("de"); err == nil {
		t.Error("CountryByCode(de) succeeded, want error")
	}

	typ, err := p.TypeByCode("firefox")
	if err != nil {
		t.Fatalf("TypeByCode() error = %v", err)
	}
	if typ.Source == nil || typ.Source.Code != "web" {
		t.Errorf("type source = %+v, want code web", typ.Source)
	}
	if _, err := p.TypeByCode("safari"); err == nil {
		t.Error("TypeByCode(safari) succeeded, want error")
	}

	if got, want := p.DefaultSeverity().Code, "high"; got != want {
		t.Errorf("DefaultSeverity().Code = %q, want %q", got, want)
	}
	if _, err := p.SeverityByCode("low"); err == nil {
		t.Error("SeverityByCode(low) succeeded, want error")
	}

	if _, err := cfg.ProjectByCode("cars"); err == nil {
		t.Error("ProjectByCode(cars) succeeded, want error")
	}
}
