package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTriggerTable_Match(t *testing.T) {
	table := NewTriggerTable([]Trigger{
		{Phrase: "hellokaun", Reply: "canned reply"},
	})

	// Case-insensitive substring containment.
	reply, ok := table.Match("Hellokaun there")
	require.True(t, ok)
	assert.Equal(t, "canned reply", reply)

	_, ok = table.Match("nothing relevant here")
	assert.False(t, ok)

	reply, ok = table.Match("say HELLOKAUN loudly")
	require.True(t, ok)
	assert.Equal(t, "canned reply", reply)
}

func TestTriggerTable_FirstMatchWins(t *testing.T) {
	table := NewTriggerTable([]Trigger{
		{Phrase: "hello", Reply: "first"},
		{Phrase: "hellokaun", Reply: "second"},
	})

	reply, ok := table.Match("hellokaun")
	require.True(t, ok)
	assert.Equal(t, "first", reply, "entries are tried in file order")
}

func TestNewTriggerTable_DropsEmptyPhrases(t *testing.T) {
	table := NewTriggerTable([]Trigger{
		{Phrase: "  ", Reply: "x"},
		{Phrase: "ping", Reply: "pong"},
	})
	assert.Equal(t, 1, table.Len())
}

func TestLoadTriggers_Defaults(t *testing.T) {
	table, err := LoadTriggers("")
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	_, ok := table.Match("hellokaun")
	assert.True(t, ok)

	// Missing file also falls back to defaults.
	table, err = LoadTriggers(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestLoadTriggers_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	content := `
- phrase: Interested
  reply: "Great, let's talk."
- phrase: price
  reply: "It costs 10."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := LoadTriggers(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	reply, ok := table.Match("I am INTERESTED in this")
	require.True(t, ok)
	assert.Equal(t, "Great, let's talk.", reply)
}

func TestLoadTriggers_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0o644))

	_, err := LoadTriggers(path)
	assert.Error(t, err, "malformed file must error so a reload keeps the old table")
}

func TestLoadTriggers_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	_, err := LoadTriggers(path)
	assert.Error(t, err)
}

func TestWatcher_FlagsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triggers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- phrase: a\n  reply: b\n"), 0o644))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	assert.False(t, w.Dirty())

	require.NoError(t, os.WriteFile(path, []byte("- phrase: c\n  reply: d\n"), 0o644))

	assert.Eventually(t, w.Dirty, 5*time.Second, 20*time.Millisecond)

	// The flag is consumed on read.
	assert.False(t, w.Dirty())
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triggers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- phrase: a\n  reply: b\n"), 0o644))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.False(t, w.Dirty())
}
