package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/store"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestSeedSummaryList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.json")

	out := run(t, "--store", path, "seed", "--seed", "7", "--pushes", "3")
	assert.Contains(t, out, "seeded")

	s, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, s.Len(), "3 pushes + force push + 2 iocs")

	out = run(t, "--store", path, "summary")
	assert.Contains(t, out, "6 item(s)")
	assert.Contains(t, out, "push")

	out = run(t, "--store", path, "list", "--kind", "push")
	assert.Contains(t, out, "push-")
}

func TestExportFiltered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence.json")
	dest := filepath.Join(dir, "pushes.json")

	run(t, "--store", path, "seed", "--seed", "7", "--pushes", "3")
	out := run(t, "--store", path, "export", "--kind", "push", dest)
	assert.Contains(t, out, "exported 3 item(s)")

	exported, err := store.Load(dest)
	require.NoError(t, err)
	assert.Equal(t, 3, exported.Len())
	for _, ev := range exported.All() {
		assert.Equal(t, "push", ev.Kind())
	}
}

func TestSeedIsDeterministicPerSeed(t *testing.T) {
	a := filepath.Join(t.TempDir(), "a.json")
	b := filepath.Join(t.TempDir(), "b.json")
	run(t, "--store", a, "seed", "--seed", "42", "--pushes", "2")
	run(t, "--store", b, "seed", "--seed", "42", "--pushes", "2")

	sa, err := store.Load(a)
	require.NoError(t, err)
	sb, err := store.Load(b)
	require.NoError(t, err)
	require.Equal(t, sa.Len(), sb.Len())
	for i, ev := range sa.All() {
		assert.Equal(t, ev.ID(), sb.All()[i].ID())
	}
}
