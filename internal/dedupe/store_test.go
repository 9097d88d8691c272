package dedupe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, maxEntries, flushEvery int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replied.json")
	return New(path, maxEntries, flushEvery, zap.NewNop())
}

func TestStore_AddContains(t *testing.T) {
	s := newTestStore(t, 100, 5)

	fp := Fingerprint("Alice", "hellokaun there")
	assert.False(t, s.Contains(fp))

	s.Add(fp)
	assert.True(t, s.Contains(fp))
	assert.Equal(t, 1, s.Len())

	// Adding the same pair twice leaves the size unchanged.
	s.Add(Fingerprint("Alice", "hellokaun there"))
	assert.Equal(t, 1, s.Len())
}

func TestFingerprint_Composite(t *testing.T) {
	a := Fingerprint("Alice", "hi")
	b := Fingerprint("Bob", "hi")
	c := Fingerprint("Alice", "bye")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)

	// Same display name and preview collide, by design of the key.
	assert.Equal(t, a, Fingerprint(" Alice ", " hi "))
}

func TestStore_Cap(t *testing.T) {
	s := newTestStore(t, 10, 1000)

	for i := 0; i < 25; i++ {
		s.Add(Fingerprint(fmt.Sprintf("user-%d", i), "msg"))
	}

	assert.Equal(t, 10, s.Len(), "size must never exceed the cap")

	// Oldest-inserted entries were evicted, newest survive.
	assert.False(t, s.Contains(Fingerprint("user-0", "msg")))
	assert.True(t, s.Contains(Fingerprint("user-24", "msg")))
}

func TestStore_FlushLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")

	s := New(path, 100, 1000, zap.NewNop())
	fps := []string{
		Fingerprint("Alice", "one"),
		Fingerprint("Bob", "two"),
		Fingerprint("Carol", "three"),
	}
	for _, fp := range fps {
		s.Add(fp)
	}
	require.NoError(t, s.Flush())

	reloaded := New(path, 100, 1000, zap.NewNop())
	require.NoError(t, reloaded.Load())

	assert.Equal(t, s.Len(), reloaded.Len())
	for _, fp := range fps {
		assert.True(t, reloaded.Contains(fp))
	}
}

func TestStore_FlushEvery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")
	s := New(path, 100, 5, zap.NewNop())

	for i := 0; i < 4; i++ {
		s.Add(Fingerprint(fmt.Sprintf("u%d", i), "m"))
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no flush expected before the fifth add")

	s.Add(Fingerprint("u4", "m"))
	_, err = os.Stat(path)
	assert.NoError(t, err, "fifth add must trigger a flush")
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := newTestStore(t, 100, 5)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
}

func TestStore_LoadTruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")

	var entries []string
	for i := 0; i < 30; i++ {
		entries = append(entries, Fingerprint(fmt.Sprintf("u%d", i), "m"))
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s := New(path, 10, 5, zap.NewNop())
	require.NoError(t, s.Load())

	assert.Equal(t, 10, s.Len())
	assert.True(t, s.Contains(Fingerprint("u29", "m")), "newest entries kept")
	assert.False(t, s.Contains(Fingerprint("u0", "m")), "oldest entries dropped")
}

func TestStore_LoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(path, 10, 5, zap.NewNop())
	assert.Error(t, s.Load())
}
