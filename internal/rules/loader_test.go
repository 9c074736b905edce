package rules

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir_SingleAndList(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "one.yaml", `
id: single-rule
name: Single rule
severity: high
conditions:
  process_name: mimikatz.exe
tags: [credential_access]
`)
	writeFile(t, dir, "many.yml", `
- id: list-a
  name: List rule A
  severity: low
  conditions:
    operation: DeleteFile
- id: list-b
  name: List rule B
  severity: medium
  operator: OR
  match_type: regex
  conditions:
    command_line: '-enc'
    path_accessed: '\\temp\\'
`)
	writeFile(t, dir, "notes.txt", "not a rule file")

	rules, err := NewLoader(dir, discardLogger()).LoadDir()
	require.NoError(t, err)
	require.Len(t, rules, 3)

	// Files load in sorted order: many.yml before one.yaml.
	assert.Equal(t, "list-a", rules[0].ID)
	assert.Equal(t, "list-b", rules[1].ID)
	assert.Equal(t, "single-rule", rules[2].ID)

	assert.Equal(t, "custom", rules[0].Category)
	assert.Contains(t, rules[2].SourceFile, "one.yaml")
	assert.Equal(t, []string{"credential_access"}, rules[2].Tags)

	// The loaded documents compile cleanly.
	set, err := Compile(rules)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}

func TestLoadDir_Recursive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "extra"), 0o755))
	writeFile(t, dir, "top.yaml", "id: top\nname: Top\nseverity: low\nconditions:\n  process_name: a.exe\n")
	writeFile(t, filepath.Join(dir, "extra"), "nested.yaml",
		"id: nested\nname: Nested\nseverity: low\nconditions:\n  process_name: b.exe\n")

	rules, err := NewLoader(dir, discardLogger()).LoadDir()
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestLoadDir_ParseErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "id: [unclosed")

	_, err := NewLoader(dir, discardLogger()).LoadDir()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope"), discardLogger()).LoadDir()
	assert.Error(t, err)
}

func TestLoadDir_DisabledRuleSurvivesLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "off.yaml", `
id: off-rule
name: Disabled
severity: low
enabled: false
conditions:
  process_name: x.exe
`)

	rules, err := NewLoader(dir, discardLogger()).LoadDir()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].IsEnabled())

	set, err := Compile(rules)
	require.NoError(t, err)
	assert.Empty(t, set.Enabled())
}
