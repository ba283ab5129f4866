// Package store persists the mapping between Google Photos
// identifiers and Immich identifiers in a local SQLite database.
//
// The store is append-only: a mapping, once written, is authoritative
// and is never updated or deleted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
)

// LinkType records how an item mapping was established
type LinkType string

const (
	// MatchedUnique means the item was recognized on the server by
	// its metadata.
	MatchedUnique LinkType = "MatchedUnique"

	// MatchedUniqueDB means the item was uploaded by this tool.
	MatchedUniqueDB LinkType = "MatchedUniqueDB"
)

// Store is the local mapping database
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
//
// A single connection is used so writes are serialized.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// tableColumns returns the column names of a table
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// EnsureSchema creates the tables if they are missing and upgrades
// databases written by older versions which lacked the link_type and
// insert_time columns.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS item_item_links (
			source_id TEXT PRIMARY KEY,
			sink_id TEXT NOT NULL,
			link_type TEXT NOT NULL DEFAULT 'MatchedUnique',
			insert_time INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS album_album_links (
			source_id TEXT PRIMARY KEY,
			sink_id TEXT NOT NULL UNIQUE,
			insert_time INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS created_albums (
			sink_id TEXT PRIMARY KEY,
			creation_time INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("couldn't create schema: %w", err)
		}
	}

	// upgrade pre-existing tables in place
	upgrades := []struct {
		table, column, definition string
	}{
		{"item_item_links", "link_type", "TEXT NOT NULL DEFAULT 'MatchedUnique'"},
		{"item_item_links", "insert_time", "INTEGER NOT NULL DEFAULT 0"},
		{"album_album_links", "insert_time", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, up := range upgrades {
		columns, err := s.tableColumns(ctx, up.table)
		if err != nil {
			return fmt.Errorf("couldn't inspect table %s: %w", up.table, err)
		}
		if columns[up.column] {
			continue
		}
		logrus.Infof("Upgrading database: adding column %s.%s", up.table, up.column)
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", up.table, up.column, up.definition)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("couldn't add column %s.%s: %w", up.table, up.column, err)
		}
	}
	return nil
}

// LookupItem returns the sink id mapped to a source item, if any
func (s *Store) LookupItem(ctx context.Context, sourceID api.ItemID) (immich.AssetID, bool, error) {
	var sinkID string
	err := s.db.QueryRowContext(ctx,
		"SELECT sink_id FROM item_item_links WHERE source_id = ?", string(sourceID),
	).Scan(&sinkID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't look up item %q: %w", sourceID, err)
	}
	return immich.AssetID(sinkID), true, nil
}

// LookupAlbum returns the sink id mapped to a source album, if any
func (s *Store) LookupAlbum(ctx context.Context, sourceID api.AlbumID) (immich.AlbumID, bool, error) {
	var sinkID string
	err := s.db.QueryRowContext(ctx,
		"SELECT sink_id FROM album_album_links WHERE source_id = ?", string(sourceID),
	).Scan(&sinkID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't look up album %q: %w", sourceID, err)
	}
	return immich.AlbumID(sinkID), true, nil
}

// ReverseLookupAlbum returns the source album mapped to a sink album,
// if any.
func (s *Store) ReverseLookupAlbum(ctx context.Context, sinkID immich.AlbumID) (api.AlbumID, bool, error) {
	var sourceID string
	err := s.db.QueryRowContext(ctx,
		"SELECT source_id FROM album_album_links WHERE sink_id = ?", string(sinkID),
	).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't reverse look up album %q: %w", sinkID, err)
	}
	return api.AlbumID(sourceID), true, nil
}

// InsertItemLink records a new item mapping.  It fails with a
// constraint error (see IsConflict) if the source item is already
// mapped.
func (s *Store) InsertItemLink(ctx context.Context, sourceID api.ItemID, sinkID immich.AssetID, linkType LinkType) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO item_item_links (source_id, sink_id, link_type, insert_time) VALUES (?, ?, ?, ?)",
		string(sourceID), string(sinkID), string(linkType), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("couldn't insert item link %q -> %q: %w", sourceID, sinkID, err)
	}
	return nil
}

// InsertAlbumLink records a new album mapping.  A mapping which
// conflicts with an existing row (on either side) is silently ignored.
// Returns whether a row was added.
func (s *Store) InsertAlbumLink(ctx context.Context, sourceID api.AlbumID, sinkID immich.AlbumID) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO album_album_links (source_id, sink_id, insert_time) VALUES (?, ?, ?)",
		string(sourceID), string(sinkID), time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("couldn't insert album link %q -> %q: %w", sourceID, sinkID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordCreatedAlbum records that this tool created a sink album and
// links it to its source album, atomically.
func (s *Store) RecordCreatedAlbum(ctx context.Context, sourceID api.AlbumID, sinkID immich.AlbumID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO created_albums (sink_id, creation_time) VALUES (?, ?)",
		string(sinkID), now,
	); err != nil {
		return fmt.Errorf("couldn't record created album %q: %w", sinkID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO album_album_links (source_id, sink_id, insert_time) VALUES (?, ?, ?)",
		string(sourceID), string(sinkID), now,
	); err != nil {
		return fmt.Errorf("couldn't insert album link %q -> %q: %w", sourceID, sinkID, err)
	}
	return tx.Commit()
}

// CountItemLinks returns the number of item mappings
func (s *Store) CountItemLinks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM item_item_links").Scan(&n)
	return n, err
}

// IsConflict reports whether err is a uniqueness violation
func IsConflict(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
