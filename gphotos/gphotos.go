// Package gphotos is a client for the Google Photos Library API.
//
// It lists albums and media items as callback streams and fetches
// original media bytes via the baseUrl download suffixes.
package gphotos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/lib/rest"
)

const (
	rootURL = "https://photoslibrary.googleapis.com/v1"

	listChunks  = 100 // chunk size to read with mediaItems.list and mediaItems.search
	albumChunks = 50  // chunk size to read with albums.list and sharedAlbums.list

	// fetchTimeout bounds a single media download
	fetchTimeout = 300 * time.Second

	// expiryMargin is how long before expiry we refresh the access token
	expiryMargin = 10 * time.Minute
)

// ErrStopIteration may be returned by a list callback to stop the
// listing early without error.
var ErrStopIteration = errors.New("stop iteration")

// Client talks to the Google Photos Library API on behalf of one user
type Client struct {
	srv   *rest.Client
	fetch *http.Client
	ts    *tokenSource
}

// tokenSource supplies OAuth2 access tokens, refreshing them before
// they expire and persisting refreshed tokens back to the token file.
type tokenSource struct {
	mu        sync.Mutex
	config    *oauth2.Config
	token     *oauth2.Token
	tokenFile string
}

// Token returns a valid access token, refreshing it first if it
// expires within the expiry margin.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token.Valid() && time.Until(ts.token.Expiry) > expiryMargin {
		return ts.token, nil
	}
	logrus.Debug("refreshing access token")
	newToken, err := ts.config.TokenSource(context.Background(), ts.token).Token()
	if err != nil {
		return nil, fmt.Errorf("couldn't refresh token: %w", err)
	}
	// keep the refresh token if the server didn't send a new one
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = ts.token.RefreshToken
	}
	ts.token = newToken
	if ts.tokenFile != "" {
		if err := SaveToken(ts.tokenFile, ts.token); err != nil {
			logrus.Warnf("Failed to save refreshed token: %v", err)
		}
	}
	return ts.token, nil
}

// NewClient creates a Client from an OAuth2 config and a previously
// obtained token.  Refreshed tokens are written back to tokenFile.
func NewClient(config *oauth2.Config, token *oauth2.Token, tokenFile string) *Client {
	ts := &tokenSource{
		config:    config,
		token:     token,
		tokenFile: tokenFile,
	}
	authClient := oauth2.NewClient(context.Background(), ts)
	fetchClient := oauth2.NewClient(context.Background(), ts)
	fetchClient.Timeout = fetchTimeout
	c := &Client{
		srv:   rest.NewClient(authClient).SetRoot(rootURL),
		fetch: fetchClient,
		ts:    ts,
	}
	c.srv.SetErrorHandler(errorHandler)
	return c
}

// errorHandler parses a non 2xx error response into an error
func errorHandler(resp *http.Response) error {
	body, err := rest.ReadBody(resp)
	if err != nil {
		body = nil
	}
	var e api.Error
	if json.Unmarshal(body, &e) == nil && e.Details.Message != "" {
		return &e
	}
	return fmt.Errorf("HTTP error %v (%v) returned body: %q", resp.StatusCode, resp.Status, body)
}

// stopped maps an ErrStopIteration from a callback into a clean stop
func stopped(err error) (bool, error) {
	if errors.Is(err, ErrStopIteration) {
		return true, nil
	}
	return err != nil, err
}

// Albums lists the user's own albums, calling fn once per album.
//
// If shared is true the user's shared albums are listed instead.
func (c *Client) Albums(ctx context.Context, shared bool, fn func(*api.Album) error) error {
	path := "/albums"
	if shared {
		path = "/sharedAlbums"
	}
	pageToken := ""
	for {
		opts := rest.Opts{
			Method:     "GET",
			Path:       path,
			Parameters: url.Values{},
		}
		opts.Parameters.Set("pageSize", strconv.Itoa(albumChunks))
		if pageToken != "" {
			opts.Parameters.Set("pageToken", pageToken)
		}
		var result api.ListAlbums
		_, err := c.srv.CallJSON(ctx, &opts, nil, &result)
		if err != nil {
			return fmt.Errorf("couldn't list albums: %w", err)
		}
		albums := result.Albums
		if shared {
			albums = result.SharedAlbums
		}
		for i := range albums {
			if stop, err := stopped(fn(&albums[i])); stop || err != nil {
				return err
			}
		}
		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}
	return nil
}

// Album fetches a single album by ID
func (c *Client) Album(ctx context.Context, albumID api.AlbumID) (*api.Album, error) {
	opts := rest.Opts{
		Method: "GET",
		Path:   "/albums/" + url.PathEscape(string(albumID)),
	}
	var album api.Album
	_, err := c.srv.CallJSON(ctx, &opts, nil, &album)
	if err != nil {
		return nil, fmt.Errorf("couldn't get album %q: %w", albumID, err)
	}
	return &album, nil
}

// Items lists every media item in the user's library, calling fn once
// per item.
func (c *Client) Items(ctx context.Context, fn func(*api.MediaItem) error) error {
	lastID := api.ItemID("")
	pageToken := ""
	for {
		opts := rest.Opts{
			Method:     "GET",
			Path:       "/mediaItems",
			Parameters: url.Values{},
		}
		opts.Parameters.Set("pageSize", strconv.Itoa(listChunks))
		if pageToken != "" {
			opts.Parameters.Set("pageToken", pageToken)
		}
		var result api.MediaItems
		_, err := c.srv.CallJSON(ctx, &opts, nil, &result)
		if err != nil {
			return fmt.Errorf("couldn't list media items: %w", err)
		}
		for i := range result.MediaItems {
			item := &result.MediaItems[i]
			// the API sometimes repeats the last item of the
			// previous page at a page boundary
			if item.ID == lastID {
				continue
			}
			if stop, err := stopped(fn(item)); stop || err != nil {
				return err
			}
		}
		if n := len(result.MediaItems); n > 0 {
			lastID = result.MediaItems[n-1].ID
		}
		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}
	return nil
}

// AlbumItems lists the media items of one album, calling fn once per
// item.
func (c *Client) AlbumItems(ctx context.Context, albumID api.AlbumID, fn func(*api.MediaItem) error) error {
	lastID := api.ItemID("")
	filter := api.SearchFilter{
		AlbumID:  albumID,
		PageSize: listChunks,
	}
	for {
		opts := rest.Opts{
			Method: "POST",
			Path:   "/mediaItems:search",
		}
		var result api.MediaItems
		_, err := c.srv.CallJSON(ctx, &opts, &filter, &result)
		if err != nil {
			return fmt.Errorf("couldn't search media items of album %q: %w", albumID, err)
		}
		for i := range result.MediaItems {
			item := &result.MediaItems[i]
			if item.ID == lastID {
				continue
			}
			if stop, err := stopped(fn(item)); stop || err != nil {
				return err
			}
		}
		if n := len(result.MediaItems); n > 0 {
			lastID = result.MediaItems[n-1].ID
		}
		if result.NextPageToken == "" {
			break
		}
		filter.PageToken = result.NextPageToken
	}
	return nil
}

// MediaItem fetches a single media item by ID
func (c *Client) MediaItem(ctx context.Context, itemID api.ItemID) (*api.MediaItem, error) {
	opts := rest.Opts{
		Method: "GET",
		Path:   "/mediaItems/" + url.PathEscape(string(itemID)),
	}
	var item api.MediaItem
	_, err := c.srv.CallJSON(ctx, &opts, nil, &item)
	if err != nil {
		return nil, fmt.Errorf("couldn't get media item %q: %w", itemID, err)
	}
	return &item, nil
}

// downloadURL returns the baseUrl with the download suffix appended.
// "=d" fetches original photo bytes, "=dv" original video bytes.
func downloadURL(item *api.MediaItem) (string, error) {
	if item.BaseURL == "" {
		return "", fmt.Errorf("media item %q has no base URL", item.ID)
	}
	m := item.MediaMetadata
	if m == nil || (m.Photo == nil && m.Video == nil) {
		return "", fmt.Errorf("media item %q is neither a photo nor a video", item.ID)
	}
	if m.Video != nil {
		return item.BaseURL + "=dv", nil
	}
	return item.BaseURL + "=d", nil
}

// Fetch downloads the original bytes of a media item
func (c *Client) Fetch(ctx context.Context, item *api.MediaItem) ([]byte, error) {
	url, err := downloadURL(item)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("couldn't fetch media item %q: %w", item.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorHandler(resp)
	}
	body, err := rest.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("couldn't read media item %q: %w", item.ID, err)
	}
	return body, nil
}
