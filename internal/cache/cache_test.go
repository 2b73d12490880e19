package cache

import (
	"bytes"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/fileutil"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fp(feedURL, key string) feed.Fingerprint {
	return feed.Fingerprint{FeedURL: feedURL, Key: key}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestMarkSeenNeverMovesBackwards(t *testing.T) {
	c := New()
	k := fp("f", "id:1")

	c.MarkSeen(k, t0)
	c.MarkSeen(k, t0.Add(-time.Hour))
	e, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, t0, e.LastSeen)

	c.MarkSeen(k, t0.Add(time.Hour))
	e, _ = c.Get(k)
	assert.Equal(t, t0.Add(time.Hour), e.LastSeen)
	assert.Equal(t, 1, c.Len())
}

func TestPruneOlderThan(t *testing.T) {
	c := New()
	c.MarkSeen(fp("weekly", "old"), t0.Add(-days(8)))
	c.MarkSeen(fp("weekly", "fresh"), t0.Add(-days(6)))
	c.MarkSeen(fp("forever", "ancient"), t0.Add(-days(5000)))

	horizon := func(feedURL string) (time.Duration, bool) {
		if feedURL == "forever" {
			return 0, false
		}
		return days(7), true
	}

	removed := c.PruneOlderThan(horizon, t0)
	assert.Equal(t, 1, removed)
	assert.False(t, c.IsKnown(fp("weekly", "old")))
	assert.True(t, c.IsKnown(fp("weekly", "fresh")))
	assert.True(t, c.IsKnown(fp("forever", "ancient")))
}

func TestPruneKeepsEntryExactlyAtHorizon(t *testing.T) {
	c := New()
	c.MarkSeen(fp("f", "edge"), t0.Add(-days(7)))
	c.PruneOlderThan(func(string) (time.Duration, bool) { return days(7), true }, t0)
	assert.True(t, c.IsKnown(fp("f", "edge")))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.db"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c := New()
	ts := t0.Add(123456789 * time.Nanosecond)
	c.MarkSeen(fp("https://a.example/feed", "id:1"), ts)
	c.MarkSeen(fp("https://a.example/feed", "url:https://a.example/2"), t0)
	c.MarkSeen(fp("https://b.example/feed", "sha256:abc"), t0.Add(-days(3)))
	require.NoError(t, c.Save(path, 0))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.snapshot(), loaded.snapshot())
}

func TestSaveManyEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := New()
	for i := 0; i < 1234; i++ {
		c.MarkSeen(fp("f", "id:"+time.Duration(i).String()), t0)
	}
	require.NoError(t, c.Save(path, 0))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.Len())
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a database "), 200), 0o644))

	c, err := Load(path)
	require.Error(t, err)
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
}

func TestLoadNewerSchemaIsLoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	raw.Close()

	_, err = Load(path)
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestSaveRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := New()

	for n := 1; n <= 4; n++ {
		c.MarkSeen(fp("f", "id:"+string(rune('a'+n))), t0)
		require.NoError(t, c.Save(path, 2))

		want := min(n-1, 2)
		got := 0
		for i := 1; i <= 5; i++ {
			if _, err := os.Stat(fileutil.BackupPath(path, i)); err == nil {
				got++
			}
		}
		assert.Equal(t, want, got, "after %d saves", n)
	}

	prev, err := Load(fileutil.BackupPath(path, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, prev.Len())
}

func TestSaveFailureIsPersistError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := New().Save(filepath.Join(blocker, "cache.db"), 0)
	var persistErr *PersistError
	assert.True(t, errors.As(err, &persistErr))
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, migrate(conn))
	require.NoError(t, migrate(conn))
	v, err := getSchemaVersion(conn)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), v)
}

func TestStats(t *testing.T) {
	c := New()
	c.MarkSeen(fp("b", "1"), t0)
	c.MarkSeen(fp("a", "1"), t0.Add(-time.Hour))
	c.MarkSeen(fp("a", "2"), t0)

	stats := c.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].FeedURL)
	assert.Equal(t, 2, stats[0].Entries)
	assert.Equal(t, t0.Add(-time.Hour), stats[0].Oldest)
	assert.Equal(t, t0, stats[0].Newest)
}
