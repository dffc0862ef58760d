package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScript = `[
  {"title": "Intro", "description": "Start here", "content": [{"type": "text", "value": "hello"}]},
  {"title": "Empty", "description": "", "content": []}
]`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runValidate(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"validate-content"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateContentReportsSummary(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "script.json", validScript)
	settings := writeFile(t, dir, "settings.json", `{"create_paid_users": true, "next_step_delay": {"type": "Period", "value": 3600}}`)

	out, err := runValidate(t, "--script", script, "--settings", settings, "--timezone", "UTC")
	require.NoError(t, err)

	assert.Contains(t, out, "catalog: 2 steps")
	assert.Contains(t, out, "step 2 (Empty) has no content")
	assert.Contains(t, out, "policy: delay Period 1h0m0s, create paid users true")
}

func TestValidateContentRejectsUnknownDelay(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "script.json", validScript)
	settings := writeFile(t, dir, "settings.json", `{"next_step_delay": {"type": "Weekly", "value": 1}}`)

	_, err := runValidate(t, "--script", script, "--settings", settings, "--timezone", "UTC")
	require.Error(t, err)
}

func TestValidateContentRejectsUnknownItemType(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "script.json", `[{"title": "Bad", "content": [{"type": "sticker", "file_id": "x"}]}]`)
	settings := writeFile(t, dir, "settings.json", `{}`)

	_, err := runValidate(t, "--script", script, "--settings", settings, "--timezone", "UTC")
	require.ErrorContains(t, err, "unknown type")
}

func TestValidateContentMissingFile(t *testing.T) {
	_, err := runValidate(t, "--script", filepath.Join(t.TempDir(), "missing.json"), "--timezone", "UTC")
	require.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Subset(t, names, []string{"check-config", "validate-content", "logs"})
}
