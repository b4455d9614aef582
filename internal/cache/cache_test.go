package cache

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/splitpack/internal/errors"
)

func TestKeyFor(t *testing.T) {
	src := Sum([]byte("export const a = 1"))

	a := KeyFor("/p/a.js", src, "esbuild:es2017")
	assert.Equal(t, a, KeyFor("/p/a.js", src, "esbuild:es2017"))
	assert.NotEqual(t, a, KeyFor("/p/b.js", src, "esbuild:es2017"))
	assert.NotEqual(t, a, KeyFor("/p/a.js", src, "esbuild:es2020"))
	assert.NotEqual(t, a, KeyFor("/p/a.js", Sum([]byte("x")), "esbuild:es2017"))
}

func TestCacheTiers(t *testing.T) {
	dir := t.TempDir()
	src := Sum([]byte("source"))
	key := KeyFor("/p/a.js", src, "chain")

	c, err := New(dir, 8)
	require.NoError(t, err)

	_, tier, err := c.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierMiss, tier)

	_, err = c.Put(key, "/p/a.js", src, []byte("code"), nil)
	require.NoError(t, err)

	e, tier, err := c.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, tier)
	assert.Equal(t, []byte("code"), e.Code)

	// A fresh cache over the same directory simulates the next build.
	next, err := New(dir, 8)
	require.NoError(t, err)
	e, tier, err = next.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierDisk, tier)
	assert.Equal(t, []byte("code"), e.Code)

	_, tier, err = next.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, tier)

	stats := next.Stats()
	assert.Equal(t, int64(1), stats.DiskHits)
	assert.Equal(t, int64(1), stats.MemoryHits)
}

func TestCacheClear(t *testing.T) {
	dir := t.TempDir()
	src := Sum([]byte("source"))
	key := KeyFor("/p/a.js", src, "chain")

	c, err := New(dir, 8)
	require.NoError(t, err)
	_, err = c.Put(key, "/p/a.js", src, []byte("code"), nil)
	require.NoError(t, err)

	require.NoError(t, c.Clear())

	_, tier, err := c.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierMiss, tier)

	next, err := New(dir, 8)
	require.NoError(t, err)
	_, tier, err = next.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierMiss, tier, "disk tier is emptied too")

	_, err = c.Put(key, "/p/a.js", src, []byte("code"), nil)
	require.NoError(t, err, "entries dir is usable after a clear")
}

func TestCacheCorruptionIsRecoverable(t *testing.T) {
	t.Run("tampered output", func(t *testing.T) {
		src := Sum([]byte("source"))
		key := KeyFor("/p/a.js", src, "chain")
		c, err := New("", 8)
		require.NoError(t, err)

		e, err := c.Put(key, "/p/a.js", src, []byte("code"), nil)
		require.NoError(t, err)
		e.Code = []byte("tampered")

		got, tier, err := c.Get(key, src)
		assert.Nil(t, got)
		assert.Equal(t, TierMiss, tier)
		require.Error(t, err)
		assert.True(t, errors.IsRecoverable(err))
		assert.Equal(t, int64(1), c.Stats().Corruptions)

		// The bad entry is evicted so the next lookup is a clean miss.
		_, _, err = c.Get(key, src)
		assert.NoError(t, err)
	})

	t.Run("unreadable disk entry", func(t *testing.T) {
		dir := t.TempDir()
		src := Sum([]byte("source"))
		key := KeyFor("/p/a.js", src, "chain")

		store, err := OpenDiskStore(dir)
		require.NoError(t, err)
		require.NoError(t, store.Put(key, &Entry{Schema: diskSchemaVersion}))
		require.NoError(t, os.WriteFile(store.pathFor(key), []byte{0xc1, 0x00}, 0o644))

		c, err := New(dir, 8)
		require.NoError(t, err)
		_, tier, err := c.Get(key, src)
		assert.Equal(t, TierMiss, tier)
		assert.True(t, errors.IsRecoverable(err))

		_, statErr := os.Stat(store.pathFor(key))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("source mismatch", func(t *testing.T) {
		src := Sum([]byte("source"))
		key := KeyFor("/p/a.js", src, "chain")
		c, err := New("", 8)
		require.NoError(t, err)
		_, err = c.Put(key, "/p/a.js", src, []byte("code"), nil)
		require.NoError(t, err)

		_, _, err = c.Get(key, Sum([]byte("other")))
		assert.ErrorContains(t, err, "source hash mismatch")
	})
}

func TestCacheConcurrentWritersSameKey(t *testing.T) {
	dir := t.TempDir()
	src := Sum([]byte("source"))
	key := KeyFor("/p/a.js", src, "chain")

	c, err := New(dir, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Put(key, "/p/a.js", src, []byte("identical"), []byte("map"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	next, err := New(dir, 8)
	require.NoError(t, err)
	e, tier, err := next.Get(key, src)
	require.NoError(t, err)
	assert.Equal(t, TierDisk, tier)
	assert.Equal(t, []byte("identical"), e.Code)
	assert.Equal(t, []byte("map"), e.Map)
}
