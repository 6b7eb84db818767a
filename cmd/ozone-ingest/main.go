// ozone-ingest - Load ozone-fetch output files into ClickHouse
//
// Reads the per-site files written by ozone-fetch (ozone_hourly_data_<Site>.csv,
// .csv.gz, .csv.zst, .parquet) and batch-inserts them into a ClickHouse table,
// creating the table if needed. The site name is taken from the file name.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/ozone-ingest ./cmd/ozone-ingest

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
	"github.com/KI7MT/aqs-ozone/internal/common"
	"github.com/KI7MT/aqs-ozone/internal/output"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

// insertSite sends one site's observations as a single batch.
func insertSite(ctx context.Context, conn driver.Conn, tableFQN, siteName, siteID string, obs []aqs.Observation, source string) error {
	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (site, site_id, timestamp, ozone, source)", tableFQN))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		var ts *time.Time
		var value *float64
		if o.HasTime {
			t := o.Time
			ts = &t
		}
		if o.HasValue {
			v := o.Value
			value = &v
		}
		if err := batch.Append(siteName, siteID, ts, value, source); err != nil {
			batch.Abort()
			return fmt.Errorf("append: %w", err)
		}
	}
	return batch.Send()
}

// discoverFiles expands directories into the ozone-fetch output files they
// contain.
func discoverFiles(paths []string) []string {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			log.Printf("Warning: cannot access %s: %v", p, err)
			continue
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			log.Printf("Warning: cannot read %s: %v", p, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, ok := output.SiteFromFileName(e.Name()); ok {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files
}

// options holds the command-line settings of one ingest run.
type options struct {
	chHost    string
	chDB      string
	chTable   string
	chUser    string
	sourceDir string
	sitesFile string
	truncate  bool
	appendAll bool
}

func main() {
	cfg := common.DefaultConfig()
	var opts options

	flag.StringVar(&opts.chHost, "ch-host", "127.0.0.1:9000", "ClickHouse address")
	flag.StringVar(&opts.chDB, "ch-db", cfg.ClickHouseDatabase, "ClickHouse database")
	flag.StringVar(&opts.chTable, "ch-table", cfg.ClickHouseTable, "ClickHouse table")
	flag.StringVar(&opts.chUser, "ch-user", os.Getenv("CLICKHOUSE_USER"), "ClickHouse user (default: default)")
	flag.StringVar(&opts.sourceDir, "source-dir", cfg.DataDir, "Directory with ozone-fetch output")
	flag.StringVar(&opts.sitesFile, "sites", cfg.SitesFile, "Site registry YAML used to resolve site codes")
	flag.BoolVar(&opts.truncate, "truncate", false, "Truncate table before insert")
	flag.BoolVar(&opts.appendAll, "append", false, "Keep existing rows of each site instead of replacing them")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ozone-ingest v%s - Ozone File Ingester\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [files|dirs...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Loads ozone-fetch output into ClickHouse.\n")
		fmt.Fprintf(os.Stderr, "If no paths are given, -source-dir is scanned.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	os.Exit(run(opts, flag.Args()))
}

// run performs the ingest and returns the process exit code.
func run(opts options, paths []string) int {
	log.Println("=========================================================")
	log.Printf("Ozone Ingest v%s", Version)
	log.Println("=========================================================")

	cfg := common.Config{SitesFile: opts.sitesFile, Site: "all"}
	sites, err := cfg.Registry()
	if err != nil {
		log.Printf("Site registry: %v", err)
		return 1
	}
	known := make(map[string]aqs.Site, len(sites))
	for _, s := range sites {
		known[s.Name] = s
	}

	if len(paths) == 0 {
		paths = []string{opts.sourceDir}
	}
	files := discoverFiles(paths)
	if len(files) == 0 {
		log.Println("No files to process")
		return 1
	}
	log.Printf("Found %d file(s)", len(files))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Connecting to ClickHouse at %s...", opts.chHost)
	user := opts.chUser
	if user == "" {
		user = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.chHost},
		Auth: clickhouse.Auth{
			Database: opts.chDB,
			Username: user,
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		log.Printf("ClickHouse connection failed: %v", err)
		return 1
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		log.Printf("ClickHouse ping failed: %v", err)
		return 1
	}

	tableFQN := fmt.Sprintf("%s.%s", opts.chDB, opts.chTable)
	log.Printf("Table: %s", tableFQN)

	if err := conn.Exec(ctx, output.TableDDL(tableFQN)); err != nil {
		log.Printf("Create table failed: %v", err)
		return 1
	}

	if opts.truncate {
		log.Printf("Truncating table %s...", tableFQN)
		if err := conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", tableFQN)); err != nil {
			log.Printf("Truncate warning: %v", err)
		}
	}

	startTime := time.Now()
	totalRows := 0
	failed := 0

	for _, path := range files {
		if ctx.Err() != nil {
			log.Println("Shutdown requested...")
			failed++
			break
		}
		name := filepath.Base(path)

		siteName, ok := output.SiteFromFileName(path)
		if !ok {
			log.Printf("[%s] Skipping (not an ozone-fetch file)", name)
			continue
		}
		siteID := ""
		if site, ok := known[siteName]; ok {
			siteID = site.ID()
		} else {
			log.Printf("[%s] Site %q not in registry; site_id left blank", name, siteName)
		}

		obs, err := output.ReadFile(path)
		if err != nil {
			log.Printf("[%s] Read error: %v", name, err)
			failed++
			continue
		}

		if !opts.truncate && !opts.appendAll {
			if err := conn.Exec(ctx, output.DeleteSiteQuery(tableFQN, siteName)); err != nil {
				log.Printf("[%s] Clear error: %v", name, err)
				failed++
				continue
			}
		}

		if err := insertSite(ctx, conn, tableFQN, siteName, siteID, obs, name); err != nil {
			log.Printf("[%s] Insert error: %v", name, err)
			failed++
			continue
		}
		log.Printf("[%s] Inserted %d rows", name, len(obs))
		totalRows += len(obs)
	}

	elapsed := time.Since(startTime)

	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Files:         %d (%d failed)", len(files), failed)
	log.Printf("Total Rows:    %d", totalRows)
	log.Printf("Elapsed:       %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")

	if failed > 0 {
		return 1
	}
	return 0
}
