package immich

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLsStripAPISuffix(t *testing.T) {
	c := NewClient("http://photos.example:2283/api", "key", false)
	assert.Equal(t, "http://photos.example:2283/photos/asset-1", c.ItemURL("asset-1"))
	assert.Equal(t, "http://photos.example:2283/albums/album-1", c.AlbumURL("album-1"))
}

func TestAlbums(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		require.Equal(t, "/api/albums", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("x-api-key"))
		albums := []Album{
			{ID: "al1", AlbumName: "Holiday"},
			{ID: "al2", AlbumName: "Family"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(albums))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", false)
	albums, err := c.Albums(ctx)
	require.NoError(t, err)
	require.Len(t, albums, 2)
	assert.Equal(t, "Holiday", albums[0].AlbumName)
}

func TestCreateAlbum(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/albums", r.URL.Path)
		var req CreateAlbumRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "New album", req.AlbumName)
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(Album{ID: "al-new", AlbumName: req.AlbumName}))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", false)
	album, err := c.CreateAlbum(ctx, "New album")
	require.NoError(t, err)
	assert.Equal(t, AlbumID("al-new"), album.ID)
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called in read-only mode, got %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", true)
	assert.True(t, c.ReadOnly())

	_, err := c.CreateAlbum(ctx, "nope")
	require.ErrorIs(t, err, ErrReadOnly)

	_, err = c.Upload(ctx, "a.jpg", []byte("data"), time.Now(), time.Now())
	require.ErrorIs(t, err, ErrReadOnly)

	err = c.AddToAlbum(ctx, "al1", []AssetID{"as1"})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestSearchByFilenamePaged(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/search/metadata", r.URL.Path)
		var req SearchMetadataRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "IMG_0001.jpg", req.OriginalFileName)
		require.True(t, req.WithExif)
		var result SearchMetadataResponse
		if req.Page == 0 {
			next := "2"
			result.Assets.Items = []Asset{{ID: "as1", OriginalFileName: "IMG_0001.jpg"}}
			result.Assets.NextPage = &next
		} else {
			require.Equal(t, 2, req.Page)
			result.Assets.Items = []Asset{{ID: "as2", OriginalFileName: "IMG_0001.jpg"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(result))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", false)
	assets, err := c.SearchByFilename(ctx, "IMG_0001.jpg")
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, AssetID("as1"), assets[0].ID)
	assert.Equal(t, AssetID("as2"), assets[1].ID)
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	data := []byte("jpeg bytes")
	sum := sha1.Sum(data)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/assets", r.URL.Path)
		require.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), r.Header.Get("x-immich-checksum"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, hex.EncodeToString(sum[:]), r.FormValue("deviceAssetId"))
		assert.Equal(t, "immich-sync", r.FormValue("deviceId"))
		assert.Equal(t, "2024-06-30T17:52:38Z", r.FormValue("fileCreatedAt"))
		file, header, err := r.FormFile("assetData")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "IMG_0001.jpg", header.Filename)
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(UploadResponse{ID: "as-new", Status: "created"}))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", false)
	createdAt := time.Date(2024, 6, 30, 17, 52, 38, 0, time.UTC)
	id, err := c.Upload(ctx, "IMG_0001.jpg", data, createdAt, createdAt)
	require.NoError(t, err)
	assert.Equal(t, AssetID("as-new"), id)
}

func TestUploadDuplicateIsSuccess(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(UploadResponse{ID: "as-existing", Status: "duplicate"}))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", false)
	id, err := c.Upload(ctx, "IMG_0001.jpg", []byte("bytes"), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, AssetID("as-existing"), id)
}

func TestAddToAlbum(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PUT", r.Method)
		require.Equal(t, "/api/albums/al1/assets", r.URL.Path)
		var req AddAssetsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []AssetID{"as1", "as2"}, req.IDs)
		results := []AddAssetsResponse{
			{ID: "as1", Success: true},
			{ID: "as2", Success: false, Error: "duplicate"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(results))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "secret", false)
	err := c.AddToAlbum(ctx, "al1", []AssetID{"as1", "as2"})
	require.NoError(t, err)
}

func TestErrorHandler(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Invalid API key", "error": "Unauthorized", "statusCode": 401}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "bad-key", false)
	_, err := c.Albums(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}
