package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normstore/internal/kv"
	"github.com/roach88/normstore/internal/kv/sqlite"
	"github.com/roach88/normstore/internal/record"
)

// cliEnv runs commands against one config file backed by a temp SQLite dir.
type cliEnv struct {
	t          *testing.T
	dir        string
	dataDir    string
	configPath string
	ids        *record.FixedGenerator
}

func newCLIEnv(t *testing.T, extraConfig string, ids ...string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := &cliEnv{
		t:          t,
		dir:        dir,
		dataDir:    filepath.Join(dir, "data"),
		configPath: filepath.Join(dir, "normstore.yaml"),
		ids:        record.NewFixedGenerator(ids...),
	}
	e.writeConfig(fmt.Sprintf("sqlite:\n  dir: %q\n%s", e.dataDir, extraConfig))
	return e
}

func (e *cliEnv) writeConfig(body string) {
	e.t.Helper()
	cfg := "backend: sqlite\ndatabase: test\nstore: collections\nkey: records\n" + body
	require.NoError(e.t, os.WriteFile(e.configPath, []byte(cfg), 0o644))
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// run executes one command and returns stdout, stderr and the error.
func (e *cliEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	cmd := newRootCommand(&RootOptions{IDs: e.ids})
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// transcript runs each command in turn and records what a terminal shows.
func (e *cliEnv) transcript(steps ...[]string) []byte {
	e.t.Helper()
	var b bytes.Buffer
	for _, args := range steps {
		out, _, err := e.run(args...)
		fmt.Fprintf(&b, "$ normstore %s\n%s", strings.Join(args, " "), out)
		if err != nil {
			fmt.Fprintf(&b, "[exit %d]\n", GetExitCode(err))
		}
	}
	return b.Bytes()
}

// handle opens the backing store directly, bypassing the CLI.
func (e *cliEnv) handle() (kv.Handle, func()) {
	e.t.Helper()
	b := sqlite.New(e.dataDir)
	h, err := b.Open(context.Background(), "test", "collections")
	require.NoError(e.t, err)
	return h, func() { _ = b.Close() }
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCLI_Lifecycle(t *testing.T) {
	e := newCLIEnv(t, "", "gen-1")

	got := e.transcript(
		[]string{"list"},
		[]string{"add", `{"id":"a","title":"alpha","createdAt":1}`},
		[]string{"add", `{"id":"b","title":"beta","createdAt":2}`, `{"title":"gamma","createdAt":3}`},
		[]string{"add", `{"id":"a","title":"ignored"}`},
		[]string{"update", "a", `{"title":"alpha2"}`},
		[]string{"list"},
		[]string{"remove", "b", "missing"},
		[]string{"sort", "--field", "title"},
		[]string{"list"},
		[]string{"get", "gen-1"},
		[]string{"get", "b"},
		[]string{"clear"},
		[]string{"list"},
	)

	newGoldie(t).Assert(t, "lifecycle", got)
}

func TestCLI_JSONOutput(t *testing.T) {
	e := newCLIEnv(t, "")

	got := e.transcript(
		[]string{"--format", "json", "add", `{"id":"x","n":1}`},
		[]string{"--format", "json", "list"},
		[]string{"--format", "json", "get", "nope"},
	)

	newGoldie(t).Assert(t, "json_output", got)
}

func TestCLI_StateSurvivesAcrossInvocations(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("add", `{"id":"1","v":"one"}`)
	require.NoError(t, err)

	h, closeBackend := e.handle()
	data, err := h.Get(context.Background(), "collections", "records")
	closeBackend()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":["1"],"entities":{"1":{"id":"1","v":"one"}}}`, string(data))

	out, _, err := e.run("get", "1")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"1\",\"v\":\"one\"}\n", out)
}

func TestCLI_ReadOnlyCommandsDoNotWrite(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("list")
	require.NoError(t, err)
	_, _, err = e.run("remove", "nothing")
	require.NoError(t, err)

	h, closeBackend := e.handle()
	defer closeBackend()
	_, err = h.Get(context.Background(), "collections", "records")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestCLI_NumericIDsMatchStrings(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("add", `{"id":7,"v":"seven"}`)
	require.NoError(t, err)

	out, _, err := e.run("get", "7")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":7,\"v\":\"seven\"}\n", out)
}

func TestCLI_Upsert(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("add", `{"id":"a","title":"old","keep":true}`)
	require.NoError(t, err)

	out, _, err := e.run("upsert", `{"id":"a","title":"new"}`, `{"id":"b"}`)
	require.NoError(t, err)
	assert.Equal(t, "upserted 2 records (2 total)\n", out)

	out, _, err = e.run("get", "a")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"a\",\"title\":\"new\"}\n", out, "upsert replaces the record wholesale")
}

func TestCLI_UpdateFromFile(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("add", `{"id":"a","n":1}`, `{"id":"b","n":2}`)
	require.NoError(t, err)

	file := e.writeFile("changes.yaml", `
- id: a
  changes: {n: 10}
- id: b
  changes: {id: c}
- id: missing
  changes: {n: 0}
`)
	out, _, err := e.run("update", "--file", file)
	require.NoError(t, err)
	assert.Equal(t, "updated 2 records (2 total)\n", out)

	out, _, err = e.run("list")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"a\",\"n\":10}\n{\"id\":\"c\",\"n\":2}\n", out, "re-keyed record keeps its position")
}

func TestCLI_UpdateArgs(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("update", "a")
	require.Error(t, err)

	_, _, err = e.run("update", "--file", "x.yaml", "a", "{}")
	require.Error(t, err)

	out, _, err := e.run("update", "a", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "no change (0 total)\n", out)
}

func TestCLI_UpdateRejectsEmptyReplacementID(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("add", `{"id":"a","n":1}`)
	require.NoError(t, err)

	for _, changes := range []string{`{"id":""}`, `{"id":null}`} {
		out, _, err := e.run("update", "a", changes)
		require.Error(t, err, changes)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E004]")
	}

	file := e.writeFile("changes.yaml", "- id: a\n  changes: {id: null}\n")
	out, _, err := e.run("update", "--file", file)
	require.Error(t, err)
	assert.Contains(t, out, "Error [E004]")

	out, _, err = e.run("list")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"a\",\"n\":1}\n", out)
}

func TestCLI_SetReplacesCollection(t *testing.T) {
	e := newCLIEnv(t, "", "gen-1")

	_, _, err := e.run("add", `{"id":"old"}`)
	require.NoError(t, err)

	file := e.writeFile("records.yaml", `
- id: b
  title: second
- title: generated
- id: a
  title: first
`)
	out, _, err := e.run("set", file)
	require.NoError(t, err)
	assert.Equal(t, "set 3 records (3 total)\n", out)

	out, _, err = e.run("list")
	require.NoError(t, err)
	assert.Equal(t,
		"{\"id\":\"b\",\"title\":\"second\"}\n{\"id\":\"gen-1\",\"title\":\"generated\"}\n{\"id\":\"a\",\"title\":\"first\"}\n",
		out)
}

func TestCLI_SortUsesConfiguredField(t *testing.T) {
	e := newCLIEnv(t, "sort:\n  field: rank\n  order: desc\n")

	_, _, err := e.run("add", `{"id":"low","rank":1}`, `{"id":"high","rank":9}`, `{"id":"mid","rank":5}`)
	require.NoError(t, err)

	out, _, err := e.run("list")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"high\",\"rank\":9}\n{\"id\":\"mid\",\"rank\":5}\n{\"id\":\"low\",\"rank\":1}\n", out)

	out, _, err = e.run("sort")
	require.NoError(t, err)
	assert.Equal(t, "no change (3 total)\n", out)

	out, _, err = e.run("sort", "--field", "rank", "--order", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
}

func TestCLI_Purge(t *testing.T) {
	e := newCLIEnv(t, "")

	_, _, err := e.run("add", `{"id":"a"}`)
	require.NoError(t, err)

	h, closeBackend := e.handle()
	for _, k := range []string{"draft-2", "draft-1", "final"} {
		require.NoError(t, h.Put(context.Background(), "collections", k, []byte(`{}`)))
	}
	closeBackend()

	out, _, err := e.run("purge", "--pattern", "draft-*")
	require.NoError(t, err)
	assert.Equal(t, "purged 2 entries\n  draft-1\n  draft-2\n", out)

	out, _, err = e.run("list")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"a\"}\n", out)

	out, _, err = e.run("purge", "--pattern", "[")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E004]")
}

func TestCLI_CleanupPatternRunsOnAttach(t *testing.T) {
	e := newCLIEnv(t, "cleanup:\n  pattern: \"tmp-*\"\n")

	h, closeBackend := e.handle()
	require.NoError(t, h.Put(context.Background(), "collections", "tmp-1", []byte(`1`)))
	require.NoError(t, h.Put(context.Background(), "collections", "keep", []byte(`1`)))
	closeBackend()

	_, _, err := e.run("list")
	require.NoError(t, err)

	h, closeBackend = e.handle()
	defer closeBackend()
	_, err = h.Get(context.Background(), "collections", "tmp-1")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = h.Get(context.Background(), "collections", "keep")
	assert.NoError(t, err)
}

func TestCLI_InvalidRecord(t *testing.T) {
	e := newCLIEnv(t, "")

	out, _, err := e.run("add", "not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
	assert.Contains(t, out, "argument 1")
}

func TestCLI_InvalidConfig(t *testing.T) {
	e := newCLIEnv(t, "")
	e.writeConfig("sqlite:\n  dir: \"\"\n")

	out, _, err := e.run("--format", "json", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `"code":"E002"`)
	assert.Contains(t, out, "sqlite.dir")
}

func TestCLI_MissingInputFile(t *testing.T) {
	e := newCLIEnv(t, "")

	out, _, err := e.run("set", filepath.Join(e.dir, "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "Error [E006]")
}

func TestCLI_UnavailableBackendKeepsWorkingInMemory(t *testing.T) {
	e := newCLIEnv(t, "")
	// A regular file where the data directory should be makes every open fail.
	require.NoError(t, os.WriteFile(e.dataDir, []byte("not a dir"), 0o644))

	out, stderr, err := e.run("add", `{"id":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, "added 1 record (1 total)\n", out)
	assert.Contains(t, stderr, "open backing store failed")
	assert.Contains(t, stderr, "write failed: backing store unavailable")
}

func TestCLI_VerboseLogsAttachAndMetrics(t *testing.T) {
	e := newCLIEnv(t, "")

	_, stderr, err := e.run("-v", "add", `{"id":"a"}`)
	require.NoError(t, err)
	assert.Contains(t, stderr, "attaching collection")
	assert.Contains(t, stderr, "persist metric")
	assert.Contains(t, stderr, "value persisted")

	_, stderr, err = e.run("list")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "attaching collection")
}
