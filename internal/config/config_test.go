package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normstore/internal/kv/memory"
	"github.com/roach88/normstore/internal/kv/postgres"
	"github.com/roach88/normstore/internal/kv/s3"
	"github.com/roach88/normstore/internal/kv/sqlite"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "normstore.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5*time.Second, cfg.TimeoutDuration())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
backend: memory
database: app
store: state
key: todos
timeout: 250ms
cleanup:
  pattern: "tmp-*"
sort:
  field: title
  order: desc
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "app", cfg.Database)
	assert.Equal(t, "state", cfg.Store)
	assert.Equal(t, "todos", cfg.Key)
	assert.Equal(t, 250*time.Millisecond, cfg.TimeoutDuration())
	assert.Equal(t, SortConfig{Field: "title", Order: "desc"}, cfg.Sort)
	assert.Equal(t, ".normstore", cfg.SQLite.Dir, "unset fields keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "backend: memory\nkey: from-file\n")
	t.Setenv("NORMSTORE_KEY", "from-env")
	t.Setenv("NORMSTORE_BACKEND", "postgres")
	t.Setenv("NORMSTORE_POSTGRES_DSN", "postgres://db/app")
	t.Setenv("NORMSTORE_S3_PATH_STYLE", "true")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Key)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://db/app", cfg.Postgres.DSN)
	assert.True(t, cfg.S3.PathStyle)
}

func TestLoad_BadEnvBool(t *testing.T) {
	t.Setenv("NORMSTORE_S3_PATH_STYLE", "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "NORMSTORE_S3_PATH_STYLE")
}

func TestLoad_ParseError(t *testing.T) {
	p := writeConfig(t, "backend: [unterminated\n")
	_, err := Load(p)
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown backend", "backend: redis\n", "backend"},
		{"bad order", "sort: {order: sideways}\n", "sort.order"},
		{"bad timeout", "timeout: soon\n", "timeout"},
		{"empty key", "key: \"\"\n", "key"},
		{"slash in store", "store: a/b\n", "store"},
		{"postgres without dsn", "backend: postgres\n", "postgres.dsn"},
		{"sqlite without dir", "sqlite: {dir: \"\"}\n", "sqlite.dir"},
		{"bad glob", "cleanup: {pattern: \"[\"}\n", "cleanup.pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)

			var fields []string
			for _, is := range verr.Issues {
				fields = append(fields, is.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_CollectsAllIssues(t *testing.T) {
	_, err := Load(writeConfig(t, "backend: redis\nkey: \"\"\n"))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Issues), 2)
	assert.Contains(t, verr.Error(), "invalid config")
}

func TestCleanupPredicate(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.CleanupPredicate())

	cfg.Cleanup.Pattern = "session-*"
	pred := cfg.CleanupPredicate()
	require.NotNil(t, pred)
	assert.True(t, pred(nil, "session-42"))
	assert.False(t, pred(nil, "records"))
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	cfg := Default()

	cfg.Backend = BackendSQLite
	cfg.SQLite.Dir = t.TempDir()
	b, err := cfg.OpenBackend(ctx)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Backend{}, b)

	cfg.Backend = BackendMemory
	b, err = cfg.OpenBackend(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	cfg.Backend = BackendPostgres
	b, err = cfg.OpenBackend(ctx)
	require.NoError(t, err)
	assert.IsType(t, &postgres.Backend{}, b)

	cfg.Backend = BackendS3
	cfg.S3.Endpoint = "http://localhost:9000"
	b, err = cfg.OpenBackend(ctx)
	require.NoError(t, err)
	assert.IsType(t, &s3.Backend{}, b)

	cfg.Backend = "tape"
	_, err = cfg.OpenBackend(ctx)
	assert.ErrorContains(t, err, "unknown backend")
}
