package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
	"github.com/gphotos2immich/gphotos2immich/match"
)

// DecisionKind says how a source entity relates to the sink
type DecisionKind int

const (
	// ExistsInDB means the mapping was already in the local store
	ExistsInDB DecisionKind = iota
	// Found means the sink already holds the entity and the mapping
	// is new
	Found
	// CreateNew means the entity must be written to the sink
	CreateNew
	// Unknown means the entity could not be resolved and is skipped
	Unknown
)

func (k DecisionKind) String() string {
	switch k {
	case ExistsInDB:
		return "ExistsInDB"
	case Found:
		return "Found"
	case CreateNew:
		return "CreateNew"
	case Unknown:
		return "Unknown"
	}
	return "Invalid"
}

// ItemDecision is the link decision for one source item
type ItemDecision struct {
	Kind       DecisionKind
	SinkID     immich.AssetID // set for ExistsInDB and Found
	Diagnostic string         // set for Unknown
}

// AlbumDecision is the link decision for one source album
type AlbumDecision struct {
	Kind   DecisionKind
	SinkID immich.AlbumID // set for ExistsInDB and Found
}

// SearchResult holds one decision per scanned item and album
type SearchResult struct {
	Items  map[api.ItemID]ItemDecision
	Albums map[api.AlbumID]AlbumDecision
}

// Linker decides for every scanned item and album whether it already
// exists in the sink.  It writes nothing.
type Linker struct {
	Sink        Sink
	Store       Mappings
	Stats       *Stats
	Concurrency int
}

// Link computes a SearchResult for the scan
func (l *Linker) Link(ctx context.Context, scan *ScanResult) (*SearchResult, error) {
	result := &SearchResult{
		Items:  make(map[api.ItemID]ItemDecision, len(scan.MediaItems)),
		Albums: make(map[api.AlbumID]AlbumDecision, len(scan.Albums)),
	}

	// items concurrently, the searches dominate the run time
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.Concurrency)
	for _, item := range scan.MediaItems {
		item := item
		g.Go(func() error {
			decision, err := l.linkItem(gCtx, item)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Items[item.ID] = decision
			mu.Unlock()
			if l.Stats != nil {
				l.Stats.Add("linked_items", 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// albums sequentially, there are few of them
	var index *albumIndex
	for id, album := range scan.Albums {
		sinkID, ok, err := l.Store.LookupAlbum(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			result.Albums[id] = AlbumDecision{Kind: ExistsInDB, SinkID: sinkID}
			continue
		}
		if index == nil {
			sinkAlbums, err := l.Sink.Albums(ctx)
			if err != nil {
				return nil, err
			}
			index = newAlbumIndex(sinkAlbums)
		}
		decision, err := l.linkAlbum(ctx, album, index)
		if err != nil {
			return nil, err
		}
		result.Albums[id] = decision
	}

	return result, nil
}

// linkItem runs the decision procedure for one item.  Per-item
// failures become Unknown decisions so the rest of the run continues.
func (l *Linker) linkItem(ctx context.Context, item *api.MediaItem) (ItemDecision, error) {
	sinkID, ok, err := l.Store.LookupItem(ctx, item.ID)
	if err != nil {
		return ItemDecision{}, err
	}
	if ok {
		return ItemDecision{Kind: ExistsInDB, SinkID: sinkID}, nil
	}

	if item.MediaMetadata == nil {
		return ItemDecision{Kind: Unknown, Diagnostic: "missing metadata"}, nil
	}
	sourceData, err := match.FromMediaItem(item.MediaMetadata)
	if err != nil {
		return ItemDecision{Kind: Unknown, Diagnostic: "bad metadata: " + err.Error()}, nil
	}

	hits, err := l.Sink.SearchByFilename(ctx, item.Filename)
	if err != nil {
		logrus.Warnf("Search for %q failed: %v", item.Filename, err)
		return ItemDecision{Kind: Unknown, Diagnostic: "search failed: " + err.Error()}, nil
	}
	if len(hits) == 0 {
		return ItemDecision{Kind: CreateNew}, nil
	}

	var matched []immich.AssetID
	for i := range hits {
		sinkData, err := match.FromAsset(&hits[i])
		if err != nil {
			logrus.Warnf("Couldn't read metadata of candidate %s for %q: %v", hits[i].ID, item.Filename, err)
			continue
		}
		if match.Compare(sourceData, sinkData) {
			matched = append(matched, hits[i].ID)
		}
	}
	switch {
	case len(matched) == 1:
		return ItemDecision{Kind: Found, SinkID: matched[0]}, nil
	case len(matched) > 1:
		return ItemDecision{Kind: Unknown, Diagnostic: "matched multiple"}, nil
	case len(hits) == 1:
		return ItemDecision{Kind: Unknown, Diagnostic: "filename unique, metadata diverges"}, nil
	}
	return ItemDecision{Kind: Unknown, Diagnostic: "filename ambiguous, no metadata match"}, nil
}

// collapseSpaces trims the title and collapses runs of whitespace
func collapseSpaces(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// albumIndex indexes sink album titles under three successively
// looser normalizations.
type albumIndex struct {
	exact      map[string][]immich.AlbumID
	spaced     map[string][]immich.AlbumID
	normalized map[string][]immich.AlbumID
}

func newAlbumIndex(albums []immich.Album) *albumIndex {
	idx := &albumIndex{
		exact:      make(map[string][]immich.AlbumID),
		spaced:     make(map[string][]immich.AlbumID),
		normalized: make(map[string][]immich.AlbumID),
	}
	for _, album := range albums {
		title := album.AlbumName
		idx.exact[title] = append(idx.exact[title], album.ID)
		spaced := collapseSpaces(title)
		idx.spaced[spaced] = append(idx.spaced[spaced], album.ID)
		normalized := norm.NFC.String(spaced)
		idx.normalized[normalized] = append(idx.normalized[normalized], album.ID)
	}
	return idx
}

// lookup finds sink albums whose title matches under the loosest
// normalization necessary.
func (idx *albumIndex) lookup(title string) []immich.AlbumID {
	if ids := idx.exact[title]; len(ids) > 0 {
		return ids
	}
	spaced := collapseSpaces(title)
	if ids := idx.spaced[spaced]; len(ids) > 0 {
		return ids
	}
	return idx.normalized[norm.NFC.String(spaced)]
}

// linkAlbum matches one source album against the sink album titles
func (l *Linker) linkAlbum(ctx context.Context, album *api.Album, index *albumIndex) (AlbumDecision, error) {
	candidates := index.lookup(album.Title)
	if len(candidates) != 1 {
		if len(candidates) > 1 {
			// TODO: several sink albums share this title, pick by content
			logrus.Warnf("Several sink albums are titled %q, creating another one", album.Title)
		}
		return AlbumDecision{Kind: CreateNew}, nil
	}
	sinkID := candidates[0]
	// one sink album cannot back two source albums
	_, taken, err := l.Store.ReverseLookupAlbum(ctx, sinkID)
	if err != nil {
		return AlbumDecision{}, err
	}
	if taken {
		logrus.Warnf("Sink album %s for %q is already linked to another source album, creating a new one", sinkID, album.Title)
		return AlbumDecision{Kind: CreateNew}, nil
	}
	return AlbumDecision{Kind: Found, SinkID: sinkID}, nil
}
