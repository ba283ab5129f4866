package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sqlite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestSchemaUpgrade(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "sqlite.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// a database written before link_type and insert_time existed
	_, err = s.db.ExecContext(ctx, `CREATE TABLE item_item_links (
		source_id TEXT PRIMARY KEY,
		sink_id TEXT NOT NULL
	)`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO item_item_links (source_id, sink_id) VALUES ('old-src', 'old-sink')")
	require.NoError(t, err)

	require.NoError(t, s.EnsureSchema(ctx))

	// the old row survives with the default link type
	var linkType string
	var insertTime int64
	err = s.db.QueryRowContext(ctx,
		"SELECT link_type, insert_time FROM item_item_links WHERE source_id = 'old-src'",
	).Scan(&linkType, &insertTime)
	require.NoError(t, err)
	assert.Equal(t, string(MatchedUnique), linkType)
	assert.Equal(t, int64(0), insertTime)

	// and new inserts work
	require.NoError(t, s.InsertItemLink(ctx, "new-src", "new-sink", MatchedUniqueDB))
}

func TestItemLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.LookupItem(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.InsertItemLink(ctx, "s1", "x1", MatchedUniqueDB))

	sinkID, ok, err := s.LookupItem(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x1", string(sinkID))

	// a second insert for the same source item is a conflict
	err = s.InsertItemLink(ctx, "s1", "x2", MatchedUnique)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	// the original mapping is retained
	sinkID, ok, err = s.LookupItem(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x1", string(sinkID))

	n, err := s.CountItemLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAlbumLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	added, err := s.InsertAlbumLink(ctx, "ga1", "ia1")
	require.NoError(t, err)
	assert.True(t, added)

	// same row again is ignored
	added, err = s.InsertAlbumLink(ctx, "ga1", "ia2")
	require.NoError(t, err)
	assert.False(t, added)

	// a sink album cannot back two source albums
	added, err = s.InsertAlbumLink(ctx, "ga2", "ia1")
	require.NoError(t, err)
	assert.False(t, added)

	sinkID, ok, err := s.LookupAlbum(ctx, "ga1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ia1", string(sinkID))

	sourceID, ok, err := s.ReverseLookupAlbum(ctx, "ia1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ga1", string(sourceID))

	_, ok, err = s.LookupAlbum(ctx, "ga2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordCreatedAlbum(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordCreatedAlbum(ctx, "ga1", "ia1"))

	sinkID, ok, err := s.LookupAlbum(ctx, "ga1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ia1", string(sinkID))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM created_albums WHERE sink_id = 'ia1'").Scan(&n))
	assert.Equal(t, 1, n)

	// recording the same sink album twice fails and leaves no partial state
	err = s.RecordCreatedAlbum(ctx, "ga2", "ia1")
	require.Error(t, err)
	_, ok, err = s.LookupAlbum(ctx, "ga2")
	require.NoError(t, err)
	assert.False(t, ok)
}
