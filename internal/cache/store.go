package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/fileutil"
)

const insertBatch = 500

// Load reads the cache file at path. A missing file yields an empty cache
// and no error. An unreadable or corrupt file yields an empty cache and a
// *LoadError, so callers can report it and carry on.
func Load(path string) (*Cache, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	} else if err != nil {
		return New(), &LoadError{Path: path, Err: err}
	}

	c, err := read(path)
	if err != nil {
		return New(), &LoadError{Path: path, Err: err}
	}
	return c, nil
}

func read(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	version, err := getSchemaVersion(conn)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return New(), nil
	}
	if version > latestVersion() {
		return nil, fmt.Errorf("schema version %d is newer than supported version %d", version, latestVersion())
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("feed_url", "fingerprint", "last_seen").From("entries")
	query, args := sb.Build()

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	c := New()
	for rows.Next() {
		var (
			fp       feed.Fingerprint
			lastSeen int64
		)
		if err := rows.Scan(&fp.FeedURL, &fp.Key, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		c.entries[fp] = Entry{LastSeen: time.Unix(0, lastSeen).UTC()}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}
	return c, nil
}

// Save writes the cache to a temp file and swaps it into place, keeping up
// to backups previous versions as path.1 … path.<backups>. Any failure is
// returned as a *PersistError.
func (c *Cache) Save(path string, backups int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &PersistError{Path: path, Err: fmt.Errorf("creating directory: %w", err)}
	}

	tmp := fileutil.TempPath(path)
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &PersistError{Path: path, Err: err}
	}

	if err := write(tmp, c.snapshot()); err != nil {
		os.Remove(tmp)
		return &PersistError{Path: path, Err: err}
	}

	if err := fileutil.Replace(tmp, path, backups); err != nil {
		os.Remove(tmp)
		return &PersistError{Path: path, Err: err}
	}
	return nil
}

type row struct {
	fp   feed.Fingerprint
	seen int64
}

func write(path string, entries map[feed.Fingerprint]Entry) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	if err := migrate(conn); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	rows := make([]row, 0, len(entries))
	for fp, e := range entries {
		rows = append(rows, row{fp: fp, seen: e.LastSeen.UnixNano()})
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, batch := range lo.Chunk(rows, insertBatch) {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("entries").Cols("feed_url", "fingerprint", "last_seen")
		for _, r := range batch {
			ib.Values(r.fp.FeedURL, r.fp.Key, r.seen)
		}
		query, args := ib.Build()
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting entries: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return conn.Close()
}
