// Package pipeline implements the three phase sync run: scan the
// source, link source items and albums to sink counterparts, then
// write whatever is missing to the sink.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
	"github.com/gphotos2immich/gphotos2immich/store"
)

// Source is the part of the Google Photos client the pipeline uses
type Source interface {
	Albums(ctx context.Context, shared bool, fn func(*api.Album) error) error
	Album(ctx context.Context, albumID api.AlbumID) (*api.Album, error)
	Items(ctx context.Context, fn func(*api.MediaItem) error) error
	AlbumItems(ctx context.Context, albumID api.AlbumID, fn func(*api.MediaItem) error) error
	Fetch(ctx context.Context, item *api.MediaItem) ([]byte, error)
}

// Sink is the part of the Immich client the pipeline uses
type Sink interface {
	Albums(ctx context.Context) ([]immich.Album, error)
	CreateAlbum(ctx context.Context, name string) (*immich.Album, error)
	SearchByFilename(ctx context.Context, filename string) ([]immich.Asset, error)
	Upload(ctx context.Context, filename string, data []byte, createdAt, modifiedAt time.Time) (immich.AssetID, error)
	AddToAlbum(ctx context.Context, albumID immich.AlbumID, assetIDs []immich.AssetID) error
	ReadOnly() bool
	ItemURL(id immich.AssetID) string
	AlbumURL(id immich.AlbumID) string
}

// Mappings is the part of the local store the pipeline uses
type Mappings interface {
	LookupItem(ctx context.Context, sourceID api.ItemID) (immich.AssetID, bool, error)
	LookupAlbum(ctx context.Context, sourceID api.AlbumID) (immich.AlbumID, bool, error)
	ReverseLookupAlbum(ctx context.Context, sinkID immich.AlbumID) (api.AlbumID, bool, error)
	InsertItemLink(ctx context.Context, sourceID api.ItemID, sinkID immich.AssetID, linkType store.LinkType) error
	InsertAlbumLink(ctx context.Context, sourceID api.AlbumID, sinkID immich.AlbumID) (bool, error)
	RecordCreatedAlbum(ctx context.Context, sourceID api.AlbumID, sinkID immich.AlbumID) error
}

// Stats is a mutex guarded counter map, updated throughout the run
// and printed at the end (and by the progress display).
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewStats makes an empty Stats
func NewStats() *Stats {
	return &Stats{counters: make(map[string]int64)}
}

// Add increments a counter
func (s *Stats) Add(name string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += n
}

// Get returns one counter
func (s *Stats) Get(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Snapshot returns a copy of all counters
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// String renders the counters sorted by name
func (s *Stats) String() string {
	snapshot := s.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for _, name := range names {
		out += fmt.Sprintf("%s: %d\n", name, snapshot[name])
	}
	return out
}

// UnknownItem describes one item which was skipped with a diagnostic
type UnknownItem struct {
	SourceID   api.ItemID
	Filename   string
	Diagnostic string
	ProductURL string
}

// Summary is the result of a run
type Summary struct {
	// Decision counts by kind: ExistsInDB, Found, CreateNew, Unknown
	ItemDecisions  map[string]int
	AlbumDecisions map[string]int

	// Items which could not be resolved, with the reason and a link
	// to the item in the source web UI
	Unknowns []UnknownItem

	// Resolved mappings of this run
	ResolvedItems  map[api.ItemID]immich.AssetID
	ResolvedAlbums map[api.AlbumID]immich.AlbumID

	Stats map[string]int64
}

// Config is the run configuration of the Orchestrator
type Config struct {
	Scan                Request
	DownloadConcurrency int
	LinkConcurrency     int
}

// Orchestrator wires the three phases together
type Orchestrator struct {
	source Source
	sink   Sink
	store  Mappings
	stats  *Stats
}

// NewOrchestrator makes an Orchestrator
func NewOrchestrator(source Source, sink Sink, mappings Mappings, stats *Stats) *Orchestrator {
	if stats == nil {
		stats = NewStats()
	}
	return &Orchestrator{
		source: source,
		sink:   sink,
		store:  mappings,
		stats:  stats,
	}
}

// Run executes one scan, link, write cycle and returns the summary
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*Summary, error) {
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 10
	}
	if cfg.LinkConcurrency <= 0 {
		cfg.LinkConcurrency = 10
	}

	scanner := &Scanner{Source: o.source, Store: o.store, Stats: o.stats}
	scanResult, err := scanner.Scan(ctx, cfg.Scan)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	logrus.Infof("Scanned %d items and %d albums", len(scanResult.MediaItems), len(scanResult.Albums))

	linker := &Linker{Sink: o.sink, Store: o.store, Stats: o.stats, Concurrency: cfg.LinkConcurrency}
	searchResult, err := linker.Link(ctx, scanResult)
	if err != nil {
		return nil, fmt.Errorf("link failed: %w", err)
	}

	writer := &Writer{
		Source:      o.source,
		Sink:        o.sink,
		Store:       o.store,
		Stats:       o.stats,
		Concurrency: cfg.DownloadConcurrency,
	}
	resolvedItems, resolvedAlbums, err := writer.Write(ctx, scanResult, searchResult)
	if err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	summary := &Summary{
		ItemDecisions:  make(map[string]int),
		AlbumDecisions: make(map[string]int),
		ResolvedItems:  resolvedItems,
		ResolvedAlbums: resolvedAlbums,
		Stats:          o.stats.Snapshot(),
	}
	for id, decision := range searchResult.Items {
		summary.ItemDecisions[decision.Kind.String()]++
		if decision.Kind == Unknown {
			unknown := UnknownItem{
				SourceID:   id,
				Diagnostic: decision.Diagnostic,
			}
			if item := scanResult.MediaItems[id]; item != nil {
				unknown.Filename = item.Filename
				unknown.ProductURL = item.ProductURL
			}
			summary.Unknowns = append(summary.Unknowns, unknown)
		}
	}
	for _, decision := range searchResult.Albums {
		summary.AlbumDecisions[decision.Kind.String()]++
	}
	sort.Slice(summary.Unknowns, func(i, j int) bool {
		return summary.Unknowns[i].SourceID < summary.Unknowns[j].SourceID
	})
	return summary, nil
}
