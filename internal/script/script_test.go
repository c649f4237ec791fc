package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/logging"
)

func writeForgeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFilesCollectsRule(t *testing.T) {
	dir := t.TempDir()
	file := writeForgeFile(t, dir, "FORGE", `
rule({
  name = "compile",
  command = "cc",
  args = {"-c", "main.c"},
  inputs = {"main.c"},
  outputs = {"main.o"},
})
`)

	l := NewLoader(dir, logging.NewNopLogger())
	rules, err := l.LoadFiles([]string{file})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "compile", rules[0].Name)
	assert.Equal(t, "cc", rules[0].Command)
	assert.Equal(t, []string{"-c", "main.c"}, rules[0].Args)
	assert.Equal(t, []string{"main.c"}, rules[0].Inputs)
	assert.Equal(t, []string{"main.o"}, rules[0].Outputs)
}

func TestLoadFilesCollectsMultipleRulesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	f1 := writeForgeFile(t, dir, "a.forge", `rule({name = "a", command = "echo"})`)
	f2 := writeForgeFile(t, dir, "b.forge", `rule({name = "b", command = "echo"})`)

	l := NewLoader(dir, logging.NewNopLogger())
	rules, err := l.LoadFiles([]string{f2, f1, f1})
	require.NoError(t, err)
	require.Len(t, rules, 2)
}

func TestLoadFilesRejectsFileWithoutRule(t *testing.T) {
	dir := t.TempDir()
	file := writeForgeFile(t, dir, "empty.forge", `print("hello")`)

	l := NewLoader(dir, logging.NewNopLogger())
	_, err := l.LoadFiles([]string{file})
	require.Error(t, err)
}

func TestLoadFilesAllowsRequireOnlyFile(t *testing.T) {
	dir := t.TempDir()
	file := writeForgeFile(t, dir, "shared.forge", `
local function require(name) end
require("prelude.helpers")
`)

	l := NewLoader(dir, logging.NewNopLogger())
	rules, err := l.LoadFiles([]string{file})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadFilesRejectsRuleMissingName(t *testing.T) {
	dir := t.TempDir()
	file := writeForgeFile(t, dir, "bad.forge", `rule({command = "echo"})`)

	l := NewLoader(dir, logging.NewNopLogger())
	_, err := l.LoadFiles([]string{file})
	require.Error(t, err)
}

func TestLoadFilesEnvTableBecomesStringMap(t *testing.T) {
	dir := t.TempDir()
	file := writeForgeFile(t, dir, "env.forge", `
rule({
  name = "with-env",
  command = "cc",
  env = {FOO = "bar", BAZ = "qux"},
})
`)

	l := NewLoader(dir, logging.NewNopLogger())
	rules, err := l.LoadFiles([]string{file})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "bar", rules[0].Env["FOO"])
	assert.Equal(t, "qux", rules[0].Env["BAZ"])
}

func TestLoadFilesFSExistsHelper(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o644))
	file := writeForgeFile(t, dir, "check.forge", `
if not fs.exists("present.txt") then
  error("expected present.txt to exist")
end
if fs.exists("absent.txt") then
  error("expected absent.txt to not exist")
end
rule({name = "checked", command = "echo"})
`)

	l := NewLoader(dir, logging.NewNopLogger())
	rules, err := l.LoadFiles([]string{file})
	require.NoError(t, err)
	require.Len(t, rules, 1)
}
