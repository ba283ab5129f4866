// Package immich is a client for the Immich server API.
//
// The client holds a fixed pool of authenticated API connections.
// Callers borrow a connection per request which bounds the number of
// requests in flight; write operations additionally fail when the
// client is in read-only mode.
package immich

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gphotos2immich/gphotos2immich/lib/rest"
)

const (
	// defaultPoolSize is how many concurrent API connections to allow
	defaultPoolSize = 10

	// deviceID identifies uploads made by this tool
	deviceID = "immich-sync"
)

// ErrReadOnly is returned by write operations when the client was
// created in read-only mode.
var ErrReadOnly = errors.New("immich client is in read-only mode")

// Client talks to an Immich server
type Client struct {
	mu       sync.Mutex
	cond     *sync.Cond
	free     []*rest.Client
	readOnly bool
	apiURL   string // e.g. http://host:2283/api
	webURL   string // apiURL with the trailing /api removed
}

// NewClient creates a client for the server at apiURL (which should
// end in "/api") authenticating with apiKey.
//
// In read-only mode all write operations return ErrReadOnly.
func NewClient(apiURL, apiKey string, readOnly bool) *Client {
	c := &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		readOnly: readOnly,
	}
	c.webURL = strings.TrimSuffix(c.apiURL, "/api")
	c.cond = sync.NewCond(&c.mu)
	for i := 0; i < defaultPoolSize; i++ {
		srv := rest.NewClient(&http.Client{}).SetRoot(c.apiURL)
		srv.SetHeader("x-api-key", apiKey)
		srv.SetHeader("Accept", "application/json")
		srv.SetErrorHandler(errorHandler)
		c.free = append(c.free, srv)
	}
	return c
}

// errorHandler parses a non 2xx response into an error
func errorHandler(resp *http.Response) error {
	body, err := rest.ReadBody(resp)
	if err != nil {
		body = nil
	}
	var e APIError
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("%s (%d %s)", e.Message, e.StatusCode, e.ErrorName)
	}
	return fmt.Errorf("HTTP error %v (%v) returned body: %q", resp.StatusCode, resp.Status, body)
}

// acquire borrows an API connection from the pool, blocking until one
// is free.  Must be paired with release.
func (c *Client) acquire() *rest.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.free) == 0 {
		logrus.Debug("immich: all api connections busy, waiting")
		c.cond.Wait()
	}
	srv := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	return srv
}

// acquireForWriting is acquire for operations which modify the server
func (c *Client) acquireForWriting() (*rest.Client, error) {
	if c.readOnly {
		return nil, ErrReadOnly
	}
	return c.acquire(), nil
}

func (c *Client) release(srv *rest.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.free = append(c.free, srv)
	c.cond.Signal()
}

// ReadOnly reports whether the client refuses write operations
func (c *Client) ReadOnly() bool {
	return c.readOnly
}

// ItemURL returns the web UI URL of an asset
func (c *Client) ItemURL(id AssetID) string {
	return fmt.Sprintf("%s/photos/%s", c.webURL, id)
}

// AlbumURL returns the web UI URL of an album
func (c *Client) AlbumURL(id AlbumID) string {
	return fmt.Sprintf("%s/albums/%s", c.webURL, id)
}

// Albums lists all albums on the server
func (c *Client) Albums(ctx context.Context) ([]Album, error) {
	srv := c.acquire()
	defer c.release(srv)
	opts := rest.Opts{
		Method: "GET",
		Path:   "/albums",
	}
	var albums []Album
	_, err := srv.CallJSON(ctx, &opts, nil, &albums)
	if err != nil {
		return nil, fmt.Errorf("couldn't list albums: %w", err)
	}
	return albums, nil
}

// CreateAlbum creates an empty album with the given name.
//
// The server allows several albums with the same name, so this always
// creates a new album.
func (c *Client) CreateAlbum(ctx context.Context, name string) (*Album, error) {
	srv, err := c.acquireForWriting()
	if err != nil {
		return nil, err
	}
	defer c.release(srv)
	opts := rest.Opts{
		Method: "POST",
		Path:   "/albums",
	}
	request := CreateAlbumRequest{AlbumName: name}
	var album Album
	_, err = srv.CallJSON(ctx, &opts, &request, &album)
	if err != nil {
		return nil, fmt.Errorf("couldn't create album %q: %w", name, err)
	}
	return &album, nil
}

// SearchByFilename returns all assets whose original file name is
// exactly filename, with EXIF metadata attached.
func (c *Client) SearchByFilename(ctx context.Context, filename string) ([]Asset, error) {
	srv := c.acquire()
	defer c.release(srv)
	request := SearchMetadataRequest{
		OriginalFileName: filename,
		WithExif:         true,
	}
	var assets []Asset
	for {
		opts := rest.Opts{
			Method: "POST",
			Path:   "/search/metadata",
		}
		var result SearchMetadataResponse
		_, err := srv.CallJSON(ctx, &opts, &request, &result)
		if err != nil {
			return nil, fmt.Errorf("couldn't search for %q: %w", filename, err)
		}
		assets = append(assets, result.Assets.Items...)
		if result.Assets.NextPage == nil {
			break
		}
		page, err := strconv.Atoi(*result.Assets.NextPage)
		if err != nil {
			return nil, fmt.Errorf("bad nextPage %q searching for %q: %w", *result.Assets.NextPage, filename, err)
		}
		request.Page = page
	}
	return assets, nil
}

// Upload stores the media bytes under filename and returns the asset
// ID.
//
// If the server already holds identical bytes it responds with status
// "duplicate" and the existing asset's ID, which is treated as
// success.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, createdAt, modifiedAt time.Time) (AssetID, error) {
	srv, err := c.acquireForWriting()
	if err != nil {
		return "", err
	}
	defer c.release(srv)

	sum := sha1.Sum(data)
	params := url.Values{}
	params.Set("deviceAssetId", hex.EncodeToString(sum[:]))
	params.Set("deviceId", deviceID)
	params.Set("fileCreatedAt", createdAt.UTC().Format(time.RFC3339))
	params.Set("fileModifiedAt", modifiedAt.UTC().Format(time.RFC3339))

	body, contentType, err := rest.MultipartUpload(bytes.NewReader(data), params, "assetData", filename)
	if err != nil {
		return "", err
	}
	opts := rest.Opts{
		Method:      "POST",
		Path:        "/assets",
		Body:        body,
		ContentType: contentType,
		ExtraHeaders: map[string]string{
			"x-immich-checksum": base64.StdEncoding.EncodeToString(sum[:]),
		},
	}
	var result UploadResponse
	_, err = srv.CallJSON(ctx, &opts, nil, &result)
	if err != nil {
		return "", fmt.Errorf("couldn't upload %q: %w", filename, err)
	}
	if result.Status == "duplicate" {
		logrus.Debugf("upload of %q was a duplicate of asset %s", filename, result.ID)
	}
	if result.ID == "" {
		return "", fmt.Errorf("upload of %q returned no asset id (status %q)", filename, result.Status)
	}
	return result.ID, nil
}

// AddToAlbum adds the given assets to an album.  Assets already in
// the album are reported as failures by the server and are ignored.
func (c *Client) AddToAlbum(ctx context.Context, albumID AlbumID, assetIDs []AssetID) error {
	if len(assetIDs) == 0 {
		return nil
	}
	srv, err := c.acquireForWriting()
	if err != nil {
		return err
	}
	defer c.release(srv)
	opts := rest.Opts{
		Method: "PUT",
		Path:   "/albums/" + url.PathEscape(string(albumID)) + "/assets",
	}
	request := AddAssetsRequest{IDs: assetIDs}
	var results []AddAssetsResponse
	_, err = srv.CallJSON(ctx, &opts, &request, &results)
	if err != nil {
		return fmt.Errorf("couldn't add assets to album %q: %w", albumID, err)
	}
	for _, res := range results {
		if !res.Success && !strings.Contains(res.Error, "duplicate") {
			return fmt.Errorf("couldn't add asset %s to album %q: %s", res.ID, albumID, res.Error)
		}
	}
	return nil
}
