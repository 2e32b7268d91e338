package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"config.yml": `name: cli
version: "1.0"
logger:
  level: error
fx:
  manifests:
    - ` + filepath.Join(dir, "site.yml") + `
fetch:
  root: ` + dir + `
  cache: true
`,
		"site.yml": `
data:
  settings:
    type: json
    path: settings.json
  notes:
    type: raw
    path: notes.txt
    defer: true
`,
		"settings.json": `{"theme":"dark"}`,
		"notes.txt":     "remember",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return filepath.Join(dir, "config.yml")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	configPath := writeProject(t)

	out, err := run(t, "resolve", "data.settings", "--config", configPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, strings.TrimSpace(out))

	out, err = run(t, "resolve", "data.notes", "-c", configPath)
	require.NoError(t, err)
	assert.Equal(t, "remember\n", out)

	_, err = run(t, "resolve", "data.missing", "-c", configPath)
	assert.Error(t, err)
}

func TestManifestCommand(t *testing.T) {
	configPath := writeProject(t)

	out, err := run(t, "manifest", "-c", configPath)
	require.NoError(t, err)
	assert.Equal(t, "data.notes\ndata.settings\n", out)
}

func TestResolveRequiresPath(t *testing.T) {
	_, err := run(t, "resolve")
	assert.Error(t, err)
}
