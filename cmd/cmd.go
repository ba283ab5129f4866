// Package cmd implements the command line interface
package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gphotos2immich/gphotos2immich/gphotos"
	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
	"github.com/gphotos2immich/gphotos2immich/pipeline"
	"github.com/gphotos2immich/gphotos2immich/store"
)

var (
	sinkURL             string
	dbPath              string
	sourceAlbumID       string
	sharedAlbums        string
	earlyExit           bool
	clientSecretPath    string
	authTokenPath       string
	downloadConcurrency int
	readOnly            bool
	itemCount           int
	sinkAuthPath        string
	verbose             bool
)

// Root is the main command
var Root = &cobra.Command{
	Use:   "gphotos2immich",
	Short: "Sync photos, videos and albums from Google Photos to Immich",
	Long: `gphotos2immich copies media from a Google Photos library into an
Immich server, keeping a local database of which source item maps to
which Immich asset so items are never uploaded twice.

Select what to sync with --source-album-id, --shared-albums or
--items.  Use --read-only to see what a run would do without writing
anything.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := Root.Flags()
	flags.StringVar(&sinkURL, "sink-url", "", "base URL of the Immich API, e.g. http://host:2283/api")
	flags.StringVar(&dbPath, "db", "sqlite.db", "local mapping database, created on first run")
	flags.StringVar(&sourceAlbumID, "source-album-id", "", "sync only this one Google Photos album")
	flags.StringVar(&sharedAlbums, "shared-albums", "", "sync shared albums: all of them, or the first N")
	flags.Lookup("shared-albums").NoOptDefVal = "all"
	flags.BoolVar(&earlyExit, "early-exit", false, "stop the shared album scan at the first fully synced album")
	flags.StringVar(&clientSecretPath, "client-secret", "client-secret.json", "Google OAuth app credentials")
	flags.StringVar(&authTokenPath, "auth-token", "auth_token.json", "persisted Google OAuth token, created on first run")
	flags.IntVar(&downloadConcurrency, "download-concurrency", 10, "how many items to download and upload at once")
	flags.BoolVar(&readOnly, "read-only", false, "plan only, never write to Immich or the database")
	flags.IntVar(&itemCount, "items", 0, "sync the first N items of the whole library")
	flags.StringVar(&sinkAuthPath, "sink-auth", ".env", "file providing the Immich API key as API_KEY=...")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = Root.MarkFlagRequired("sink-url")
}

// scanRequest builds the scan request from the flags.  The
// shared-albums flag carries "all" when passed without a value.
func scanRequest() (pipeline.Request, error) {
	req := pipeline.Request{
		EarlyExit: earlyExit,
		Items:     itemCount,
	}
	if sourceAlbumID != "" {
		req.Album = api.AlbumID(sourceAlbumID)
	}
	if sharedAlbums != "" {
		req.SharedAlbums = true
		if sharedAlbums != "all" {
			n, err := strconv.Atoi(sharedAlbums)
			if err != nil || n <= 0 {
				return req, fmt.Errorf("--shared-albums wants no value or a positive count, got %q", sharedAlbums)
			}
			req.SharedAlbumsLimit = n
		}
	}
	if req.Album == "" && !req.SharedAlbums && req.Items <= 0 {
		return req, fmt.Errorf("nothing to sync: pass --source-album-id, --shared-albums or --items")
	}
	return req, nil
}

// apiKey loads the Immich API key from the sink-auth file or the
// environment.
func apiKey() (string, error) {
	if err := godotenv.Load(sinkAuthPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("couldn't read %q: %w", sinkAuthPath, err)
	}
	key := os.Getenv("API_KEY")
	if key == "" {
		return "", fmt.Errorf("no Immich API key: set API_KEY in %q or in the environment", sinkAuthPath)
	}
	return key, nil
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	ctx := context.Background()

	req, err := scanRequest()
	if err != nil {
		return err
	}
	key, err := apiKey()
	if err != nil {
		return err
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	source, err := gphotos.Connect(ctx, clientSecretPath, authTokenPath)
	if err != nil {
		return err
	}
	sink := immich.NewClient(sinkURL, key, readOnly)
	if readOnly {
		logrus.Info("Read-only mode: nothing will be written")
	}

	stats := pipeline.NewStats()
	stopProgress := startProgress(stats)

	orchestrator := pipeline.NewOrchestrator(source, sink, db, stats)
	summary, err := orchestrator.Run(ctx, pipeline.Config{
		Scan:                req,
		DownloadConcurrency: downloadConcurrency,
		LinkConcurrency:     downloadConcurrency,
	})
	stopProgress()
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// printSummary writes the end-of-run report to stdout
func printSummary(summary *pipeline.Summary) {
	fmt.Println("Items:")
	for _, kind := range []string{"ExistsInDB", "Found", "CreateNew", "Unknown"} {
		if n := summary.ItemDecisions[kind]; n > 0 {
			fmt.Printf("  %-10s %d\n", kind, n)
		}
	}
	fmt.Println("Albums:")
	for _, kind := range []string{"ExistsInDB", "Found", "CreateNew"} {
		if n := summary.AlbumDecisions[kind]; n > 0 {
			fmt.Printf("  %-10s %d\n", kind, n)
		}
	}
	if len(summary.Unknowns) > 0 {
		fmt.Println("Items needing attention:")
		for _, unknown := range summary.Unknowns {
			fmt.Printf("  %s: %s\n    %s\n", unknown.Filename, unknown.Diagnostic, unknown.ProductURL)
		}
	}
	fmt.Println("Stats:")
	names := make([]string, 0, len(summary.Stats))
	for name := range summary.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %d\n", name, summary.Stats[name])
	}
}

// Main runs the command and exits on error
func Main() {
	if err := Root.Execute(); err != nil {
		logrus.Errorf("Fatal error: %v", err)
		os.Exit(1)
	}
}
