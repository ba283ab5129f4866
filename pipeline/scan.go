package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gphotos2immich/gphotos2immich/gphotos"
	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
)

// Request says what to scan from the source.  The three selectors may
// be combined; results are merged with items deduplicated by id.
type Request struct {
	// Album restricts the scan to one source album
	Album api.AlbumID

	// SharedAlbums scans the user's shared albums.  SharedAlbumsLimit
	// bounds how many are scanned, 0 meaning all of them.
	SharedAlbums      bool
	SharedAlbumsLimit int

	// EarlyExit stops the shared album stream at the first album
	// whose items are all known to the store already.  Shared albums
	// arrive newest first, so everything after is already synced.
	EarlyExit bool

	// Items scans the first Items entries of the whole library
	Items int
}

// ScanResult is everything one scan collected from the source
type ScanResult struct {
	MediaItems   map[api.ItemID]*api.MediaItem
	Albums       map[api.AlbumID]*api.Album
	Associations map[api.AlbumID][]api.ItemID
}

// Scanner enumerates source data.  It writes nothing.
type Scanner struct {
	Source Source
	Store  Mappings
	Stats  *Stats
}

// Scan runs the request and collects the results
func (s *Scanner) Scan(ctx context.Context, req Request) (*ScanResult, error) {
	result := &ScanResult{
		MediaItems:   make(map[api.ItemID]*api.MediaItem),
		Albums:       make(map[api.AlbumID]*api.Album),
		Associations: make(map[api.AlbumID][]api.ItemID),
	}

	if req.Album != "" {
		album, err := s.Source.Album(ctx, req.Album)
		if err != nil {
			return nil, err
		}
		if err := s.scanAlbum(ctx, album, result); err != nil {
			return nil, err
		}
	}

	if req.SharedAlbums {
		if err := s.scanSharedAlbums(ctx, req, result); err != nil {
			return nil, err
		}
	}

	if req.Items > 0 {
		seen := 0
		err := s.Source.Items(ctx, func(item *api.MediaItem) error {
			s.addItem(item, result)
			seen++
			if seen >= req.Items {
				return gphotos.ErrStopIteration
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Scanner) addItem(item *api.MediaItem, result *ScanResult) {
	if _, ok := result.MediaItems[item.ID]; !ok {
		result.MediaItems[item.ID] = item
		if s.Stats != nil {
			s.Stats.Add("scanned_items", 1)
		}
	}
}

// scanAlbum fetches all items of one album
func (s *Scanner) scanAlbum(ctx context.Context, album *api.Album, result *ScanResult) error {
	logrus.Debugf("scanning album %q (%s items)", album.Title, album.MediaItemsCount)
	result.Albums[album.ID] = album
	err := s.Source.AlbumItems(ctx, album.ID, func(item *api.MediaItem) error {
		s.addItem(item, result)
		result.Associations[album.ID] = append(result.Associations[album.ID], item.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("couldn't scan album %q: %w", album.Title, err)
	}
	if s.Stats != nil {
		s.Stats.Add("scanned_albums", 1)
	}
	return nil
}

func (s *Scanner) scanSharedAlbums(ctx context.Context, req Request, result *ScanResult) error {
	scanned := 0
	return s.Source.Albums(ctx, true, func(album *api.Album) error {
		if req.SharedAlbumsLimit > 0 && scanned >= req.SharedAlbumsLimit {
			return gphotos.ErrStopIteration
		}
		if err := s.scanAlbum(ctx, album, result); err != nil {
			return err
		}
		scanned++
		if req.EarlyExit {
			fresh, err := s.albumHasNewItems(ctx, result.Associations[album.ID])
			if err != nil {
				return err
			}
			if !fresh {
				logrus.Infof("Album %q has no new items, stopping the scan early", album.Title)
				return gphotos.ErrStopIteration
			}
		}
		return nil
	})
}

// albumHasNewItems reports whether any item of the album is not yet
// mapped in the store.
func (s *Scanner) albumHasNewItems(ctx context.Context, itemIDs []api.ItemID) (bool, error) {
	for _, id := range itemIDs {
		_, known, err := s.Store.LookupItem(ctx, id)
		if err != nil {
			return false, err
		}
		if !known {
			return true, nil
		}
	}
	return false, nil
}
