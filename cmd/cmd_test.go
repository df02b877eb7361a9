package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/watch"
)

const svcSrc = `package svc

type Server struct {
	Addr string
}

func (s *Server) Run() error { return nil }

func New(addr string) *Server { return &Server{Addr: addr} }
`

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, projectArgs, modulePath = "", nil, ""
	verbosity, quiet, logLevel = 0, true, ""
	outlineDepth, outlineSelect, outlineJSON = 2, "", false
	diffSave = false
	checkLint = false
	statsDepth = 3
	watchDebounce, watchMetricsAddr = watch.DefaultDebounce, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "svc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "svc", "server.go"), []byte(svcSrc), 0o644))
	return dir
}

func TestOutline_File(t *testing.T) {
	dir := writeProject(t)
	out, err := run(t, "-q", "-p", "demo="+dir, "outline", filepath.Join(dir, "svc", "server.go"))
	require.NoError(t, err)
	assert.Contains(t, out, "file server.go")
	assert.Contains(t, out, "  type Server")
	assert.Contains(t, out, "    field Addr")
}

func TestOutline_Select(t *testing.T) {
	dir := writeProject(t)
	out, err := run(t, "-q", "-p", "demo="+dir, "outline", "--depth", "-1",
		"--select", `$..children[?(@.kind == "func")].name`, filepath.Join(dir, "svc"))
	require.NoError(t, err)
	assert.Contains(t, out, `"New"`)
	assert.NotContains(t, out, `"Server"`)
}

func TestOutline_OutsideProject(t *testing.T) {
	dir := writeProject(t)
	_, err := run(t, "-q", "-p", "demo="+dir, "outline", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside every project")
}

func TestDiff_ReportsAddedFunc(t *testing.T) {
	dir := writeProject(t)
	next := filepath.Join(t.TempDir(), "next.go")
	require.NoError(t, os.WriteFile(next, []byte(svcSrc+"\nfunc Stop() {}\n"), 0o644))
	target := filepath.Join(dir, "svc", "server.go")

	out, err := run(t, "-q", "-p", "demo="+dir, "diff", target, next)
	require.NoError(t, err)
	assert.Contains(t, out, "Stop[+]")

	onDisk, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, svcSrc, string(onDisk), "diff without --save leaves the file alone")
}

func TestDiff_NoChange(t *testing.T) {
	dir := writeProject(t)
	same := filepath.Join(t.TempDir(), "same.go")
	require.NoError(t, os.WriteFile(same, []byte(svcSrc), 0o644))

	out, err := run(t, "-q", "-p", "demo="+dir, "diff", filepath.Join(dir, "svc", "server.go"), same)
	require.NoError(t, err)
	assert.Contains(t, out, "no structural change")
}

func TestExport_WritesArchive(t *testing.T) {
	dir := writeProject(t)
	src := filepath.Join(dir, "svc", "server.go")
	dst := filepath.Join(t.TempDir(), "server.facts")

	out, err := run(t, "export", src, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	info, facts, err := ingest.ReadArchive(dst)
	require.NoError(t, err)
	assert.Equal(t, "server.go", info.Source)
	assert.NotEmpty(t, facts)
}

func TestExport_RejectsBadOutput(t *testing.T) {
	dir := writeProject(t)
	_, err := run(t, "export", filepath.Join(dir, "svc", "server.go"), filepath.Join(t.TempDir(), "out.db"))
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.go")
	bad := filepath.Join(dir, "bad.go")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(good, []byte("package x\n\nfunc A() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("package x\n\nfunc A( {\n"), 0o644))
	require.NoError(t, os.WriteFile(notes, []byte("hello"), 0o644))

	out, err := run(t, "check", good, notes)
	require.NoError(t, err)
	assert.Contains(t, out, "no grammar")

	out, err = run(t, "check", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "bad.go:")
}

func TestCheck_Lint(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(file, []byte("package x\n\nvar names []string\n"), 0o644))

	_, err := run(t, "check", file)
	require.NoError(t, err)

	out, err := run(t, "check", "--lint", file)
	require.Error(t, err)
	assert.Contains(t, out, "(nil-slice)")
}

func TestStats(t *testing.T) {
	dir := writeProject(t)
	out, err := run(t, "-q", "-p", "demo="+dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "TIER")
	assert.Contains(t, out, "pinned")
	assert.Contains(t, out, "member")
	assert.Contains(t, out, "buffers")
}

func TestLoadConfig_File(t *testing.T) {
	dir := writeProject(t)
	cfgFile := filepath.Join(t.TempDir(), "skein.hcl")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
project "demo" { path = "`+filepath.ToSlash(dir)+`" }
cache { files = 5 }
`), 0o644))
	_, err := run(t, "-q", "--config", cfgFile, "outline", dir)
	require.NoError(t, err)

	configPath = cfgFile
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, 5, cfg.Cache.Files)
	assert.Equal(t, 100, cfg.Cache.Members)
}
