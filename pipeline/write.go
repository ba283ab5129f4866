package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
	"github.com/gphotos2immich/gphotos2immich/lib/coalesce"
	"github.com/gphotos2immich/gphotos2immich/store"
)

// Writer applies a SearchResult to the sink in three passes: albums,
// then items, then album memberships.
//
// In read-only mode every mutating step is replaced by a log line and
// a synthetic placeholder id, so the passes still resolve and the
// summary shows what a real run would do.
type Writer struct {
	Source      Source
	Sink        Sink
	Store       Mappings
	Stats       *Stats
	Concurrency int

	syntheticID atomic.Uint64
}

// newSyntheticID coins a placeholder id for read-only runs
func (w *Writer) newSyntheticID() string {
	return fmt.Sprintf("read-only-%08x", w.syntheticID.Add(1))
}

// Write runs the three passes and returns the resolved mappings
func (w *Writer) Write(ctx context.Context, scan *ScanResult, search *SearchResult) (map[api.ItemID]immich.AssetID, map[api.AlbumID]immich.AlbumID, error) {
	resolvedAlbums, err := w.writeAlbums(ctx, scan, search)
	if err != nil {
		return nil, nil, err
	}
	resolvedItems, err := w.writeItems(ctx, scan, search)
	if err != nil {
		return nil, nil, err
	}
	if err := w.writeMemberships(ctx, scan, resolvedItems, resolvedAlbums); err != nil {
		return nil, nil, err
	}
	return resolvedItems, resolvedAlbums, nil
}

// writeAlbums is pass A: resolve every album decision, creating sink
// albums where needed.
func (w *Writer) writeAlbums(ctx context.Context, scan *ScanResult, search *SearchResult) (map[api.AlbumID]immich.AlbumID, error) {
	resolved := make(map[api.AlbumID]immich.AlbumID)
	for sourceID, decision := range search.Albums {
		album := scan.Albums[sourceID]
		switch decision.Kind {
		case ExistsInDB:
			resolved[sourceID] = decision.SinkID

		case Found:
			if w.Sink.ReadOnly() {
				logrus.Infof("would link album %q to sink album %s", album.Title, decision.SinkID)
			} else {
				added, err := w.Store.InsertAlbumLink(ctx, sourceID, decision.SinkID)
				if err != nil {
					return nil, err
				}
				if !added {
					logrus.Warnf("Album link %q -> %s conflicts with an existing link, keeping the old one", album.Title, decision.SinkID)
				}
			}
			resolved[sourceID] = decision.SinkID
			w.Stats.Add("albums_linked", 1)

		case CreateNew:
			if w.Sink.ReadOnly() {
				logrus.Infof("would create album %q", album.Title)
				resolved[sourceID] = immich.AlbumID(w.newSyntheticID())
				w.Stats.Add("albums_created", 1)
				continue
			}
			created, err := w.Sink.CreateAlbum(ctx, album.Title)
			if err != nil {
				// items of this album still sync, only the
				// membership pass skips it
				logrus.Errorf("Couldn't create album %q: %v", album.Title, err)
				continue
			}
			if err := w.Store.RecordCreatedAlbum(ctx, sourceID, created.ID); err != nil {
				return nil, err
			}
			logrus.Infof("Created album %q: %s", album.Title, w.Sink.AlbumURL(created.ID))
			resolved[sourceID] = created.ID
			w.Stats.Add("albums_created", 1)

		default:
			logrus.Errorf("Album %q has an unresolved decision, this should not happen", album.Title)
		}
	}
	return resolved, nil
}

// writeItems is pass B: resolve every item decision with bounded
// fan-out.  Uploads are routed through a coalescing worker so one
// source item is never fetched or uploaded twice.
func (w *Writer) writeItems(ctx context.Context, scan *ScanResult, search *SearchResult) (map[api.ItemID]immich.AssetID, error) {
	resolved := make(map[api.ItemID]immich.AssetID)
	var mu sync.Mutex

	uploader := coalesce.New(ctx, w.Concurrency, func(ctx context.Context, sourceID api.ItemID) (immich.AssetID, error) {
		return w.uploadItem(ctx, scan.MediaItems[sourceID])
	})
	defer uploader.Close()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.Concurrency)
	for sourceID, decision := range search.Items {
		sourceID, decision := sourceID, decision
		record := func(sinkID immich.AssetID) {
			mu.Lock()
			resolved[sourceID] = sinkID
			mu.Unlock()
		}
		switch decision.Kind {
		case ExistsInDB:
			record(decision.SinkID)

		case Found:
			if w.Sink.ReadOnly() {
				logrus.Infof("would link item %s to asset %s", sourceID, decision.SinkID)
				record(decision.SinkID)
				w.Stats.Add("items_found", 1)
				continue
			}
			err := w.Store.InsertItemLink(ctx, sourceID, decision.SinkID, store.MatchedUnique)
			if err != nil {
				if !store.IsConflict(err) {
					return nil, err
				}
				logrus.Debugf("item link for %s already exists, keeping it", sourceID)
			}
			record(decision.SinkID)
			w.Stats.Add("items_found", 1)

		case CreateNew:
			g.Go(func() error {
				sinkID, err := uploader.Submit(gCtx, sourceID)
				if err != nil {
					logrus.Errorf("Couldn't sync item %s: %v", sourceID, err)
					w.Stats.Add("items_failed", 1)
					return nil
				}
				record(sinkID)
				w.Stats.Add("items_uploaded", 1)
				return nil
			})

		case Unknown:
			logrus.Warnf("Skipping item %s: %s", sourceID, decision.Diagnostic)
			w.Stats.Add("items_skipped", 1)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// uploadItem fetches the original bytes from the source, uploads them
// to the sink and records the new mapping.  The mapping is inserted
// only after the upload succeeded, so an interrupted run repeats the
// upload instead of recording a lie.
func (w *Writer) uploadItem(ctx context.Context, item *api.MediaItem) (immich.AssetID, error) {
	if w.Sink.ReadOnly() {
		logrus.Infof("would upload %q (%s)", item.Filename, item.MimeType)
		return immich.AssetID(w.newSyntheticID()), nil
	}
	data, err := w.Source.Fetch(ctx, item)
	if err != nil {
		return "", err
	}
	w.Stats.Add("downloaded_bytes", int64(len(data)))
	creationTime := item.MediaMetadata.CreationTime
	sinkID, err := w.Sink.Upload(ctx, item.Filename, data, creationTime, creationTime)
	if err != nil {
		return "", err
	}
	err = w.Store.InsertItemLink(ctx, item.ID, sinkID, store.MatchedUniqueDB)
	if err != nil && !store.IsConflict(err) {
		return "", err
	}
	if err != nil {
		logrus.Debugf("item link for %s already exists, keeping it", item.ID)
	}
	logrus.Infof("Uploaded %q: %s", item.Filename, w.Sink.ItemURL(sinkID))
	return sinkID, nil
}

// writeMemberships is pass C: fill the sink albums with the resolved
// assets of their source albums.
func (w *Writer) writeMemberships(ctx context.Context, scan *ScanResult, resolvedItems map[api.ItemID]immich.AssetID, resolvedAlbums map[api.AlbumID]immich.AlbumID) error {
	for sourceAlbumID, itemIDs := range scan.Associations {
		sinkAlbumID, ok := resolvedAlbums[sourceAlbumID]
		if !ok {
			logrus.Debugf("album %s was not resolved, skipping memberships", sourceAlbumID)
			continue
		}
		var assetIDs []immich.AssetID
		for _, itemID := range itemIDs {
			if assetID, ok := resolvedItems[itemID]; ok {
				assetIDs = append(assetIDs, assetID)
			}
		}
		if len(assetIDs) == 0 {
			continue
		}
		if w.Sink.ReadOnly() {
			logrus.Infof("would add %d assets to album %s", len(assetIDs), sinkAlbumID)
			w.Stats.Add("album_members_added", int64(len(assetIDs)))
			continue
		}
		if err := w.Sink.AddToAlbum(ctx, sinkAlbumID, assetIDs); err != nil {
			logrus.Errorf("Couldn't add assets to album %s: %v", sinkAlbumID, err)
			continue
		}
		w.Stats.Add("album_members_added", int64(len(assetIDs)))
	}
	return nil
}
