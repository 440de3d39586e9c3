package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-circuit/internal/errs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestTransplantCommand(t *testing.T) {
	out, err := execute(t, "transplant", "--task", "reverse")
	require.NoError(t, err)
	assert.Contains(t, out, "equivalent: true")
	assert.Contains(t, out, "runtime [BOS 3 2 1]")
}

func TestDatasetCommand(t *testing.T) {
	out, err := execute(t, "dataset", "--task", "reverse")
	require.NoError(t, err)
	assert.Contains(t, out, "validation: 30 examples, seq_len 4")
	assert.NotContains(t, out, "test:")

	out, err = execute(t, "dataset", "--task", "proportion", "--n", "4", "--seed", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "validation: 4 examples")
	assert.Contains(t, out, "test: 4 examples")

	_, err = execute(t, "dataset", "--task", "reverse", "--n", "0")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestRunCommandRejectsKLForReverse(t *testing.T) {
	_, err := execute(t, "run", "--task", "reverse", "--metric", "kl_div")
	assert.ErrorIs(t, err, errs.ErrSemanticMisuse)
}

func TestRunCommandExports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")
	out, err := execute(t, "run", "--task", "proportion", "--n", "6", "--export", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "validation l2 (patched)")
	assert.Contains(t, out, "test kl_div (patched)")
	assert.Contains(t, out, "exported 3 records to 1 sinks")

	for _, kind := range []string{"batches", "metrics", "verification"} {
		_, err := os.Stat(filepath.Join(dir, kind+".arrows"))
		assert.NoError(t, err, kind)
	}
}

func TestCatalogCommand(t *testing.T) {
	out, err := execute(t, "catalog", "--task", "proportion")
	require.NoError(t, err)
	assert.Contains(t, out, "proportion: 14 edges")
	assert.Contains(t, out, "commit e612e50")

	out, err = execute(t, "catalog", "--task", "reverse", "--hooks")
	require.NoError(t, err)
	assert.Contains(t, out, "hook_embed(None,)")

	_, err = execute(t, "catalog", "--task", "sort")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestConfigFileIsRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("task: proportion\n"), 0644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "catalog"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "proportion: 14 edges")
}
