// Package config loads normstore.yaml.
//
// Loading is three steps: decode the YAML file over the defaults (a missing
// file leaves the defaults alone), apply NORMSTORE_* environment overrides,
// then validate the result against the embedded CUE schema.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/normstore/internal/kv"
	"github.com/roach88/normstore/internal/kv/memory"
	"github.com/roach88/normstore/internal/kv/postgres"
	"github.com/roach88/normstore/internal/kv/s3"
	"github.com/roach88/normstore/internal/kv/sqlite"
)

//go:embed schema.cue
var schemaCUE string

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "normstore.yaml"

// Config is the decoded configuration. The json tags name the fields for
// the CUE schema.
type Config struct {
	Backend  string         `yaml:"backend" json:"backend"`
	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	S3       S3Config       `yaml:"s3" json:"s3"`

	Database string `yaml:"database" json:"database"`
	Store    string `yaml:"store" json:"store"`
	Key      string `yaml:"key" json:"key"`
	Timeout  string `yaml:"timeout" json:"timeout"`

	Cleanup CleanupConfig `yaml:"cleanup" json:"cleanup"`
	Sort    SortConfig    `yaml:"sort" json:"sort"`
}

type SQLiteConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

type S3Config struct {
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	PathStyle    bool   `yaml:"path_style" json:"path_style"`
	BucketPrefix string `yaml:"bucket_prefix" json:"bucket_prefix"`
}

// CleanupConfig selects records purged when the collection is attached.
type CleanupConfig struct {
	// Pattern is a path.Match glob over record keys. Empty disables cleanup.
	Pattern string `yaml:"pattern" json:"pattern"`
}

type SortConfig struct {
	Field string `yaml:"field" json:"field"`
	Order string `yaml:"order" json:"order"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:  BackendSQLite,
		SQLite:   SQLiteConfig{Dir: ".normstore"},
		S3:       S3Config{Region: "us-east-1"},
		Database: "normstore",
		Store:    "collections",
		Key:      "records",
		Timeout:  "5s",
		Sort:     SortConfig{Order: "asc"},
	}
}

// ValidationError lists every schema violation found in a configuration.
type ValidationError struct {
	Issues []Issue
}

// Issue is one schema violation.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Field != "" {
			msgs = append(msgs, is.Field+": "+is.Message)
		} else {
			msgs = append(msgs, is.Message)
		}
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Load reads the file at p (a missing file is not an error), applies the
// environment and validates.
func Load(p string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", p, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from NORMSTORE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"NORMSTORE_BACKEND":          &c.Backend,
		"NORMSTORE_SQLITE_DIR":       &c.SQLite.Dir,
		"NORMSTORE_POSTGRES_DSN":     &c.Postgres.DSN,
		"NORMSTORE_S3_REGION":        &c.S3.Region,
		"NORMSTORE_S3_ENDPOINT":      &c.S3.Endpoint,
		"NORMSTORE_S3_BUCKET_PREFIX": &c.S3.BucketPrefix,
		"NORMSTORE_DATABASE":         &c.Database,
		"NORMSTORE_STORE":            &c.Store,
		"NORMSTORE_KEY":              &c.Key,
		"NORMSTORE_TIMEOUT":          &c.Timeout,
		"NORMSTORE_CLEANUP_PATTERN":  &c.Cleanup.Pattern,
		"NORMSTORE_SORT_FIELD":       &c.Sort.Field,
		"NORMSTORE_SORT_ORDER":       &c.Sort.Order,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("NORMSTORE_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NORMSTORE_S3_PATH_STYLE: %w", err)
		}
		c.S3.PathStyle = b
	}
	return nil
}

// Validate checks c against the CUE schema and the few rules CUE cannot
// express (a parseable glob).
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	var issues []Issue
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			issues = append(issues, Issue{
				Field:   strings.Join(e.Path(), "."),
				Message: fmt.Sprintf(format, args...),
			})
		}
	}
	if c.Cleanup.Pattern != "" {
		if _, err := path.Match(c.Cleanup.Pattern, ""); err != nil {
			issues = append(issues, Issue{Field: "cleanup.pattern", Message: err.Error()})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// TimeoutDuration returns the per-operation timeout, zero for none.
func (c *Config) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// CleanupPredicate returns the attach-time cleanup predicate, or nil when no
// pattern is configured.
func (c *Config) CleanupPredicate() func(value []byte, key string) bool {
	if c.Cleanup.Pattern == "" {
		return nil
	}
	return MatchKeys(c.Cleanup.Pattern)
}

// MatchKeys returns a predicate selecting records whose key matches the
// glob pattern. The pattern must already be valid.
func MatchKeys(pattern string) func(value []byte, key string) bool {
	return func(_ []byte, key string) bool {
		ok, _ := path.Match(pattern, key)
		return ok
	}
}

// OpenBackend constructs the configured kv backend. The caller closes it.
func (c *Config) OpenBackend(ctx context.Context) (kv.Backend, error) {
	switch c.Backend {
	case BackendSQLite:
		return sqlite.New(c.SQLite.Dir), nil
	case BackendMemory:
		return memory.New(), nil
	case BackendPostgres:
		return postgres.New(c.Postgres.DSN), nil
	case BackendS3:
		b, err := s3.New(ctx, s3.Config{
			Region:       c.S3.Region,
			Endpoint:     c.S3.Endpoint,
			PathStyle:    c.S3.PathStyle,
			BucketPrefix: c.S3.BucketPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}
