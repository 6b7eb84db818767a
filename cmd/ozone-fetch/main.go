// ozone-fetch - Hourly ozone downloader for EPA AQS monitoring sites
//
// Pulls 1-hour ozone samples (parameter 44201) from the AQS sampleData/bySite
// endpoint, one request per calendar year, and writes one file per site with
// two columns: DateTime, Ozone Concentration.
//
// Credentials come from the environment: AQS_EMAIL, AQS_KEY.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/ozone-fetch ./cmd/ozone-fetch

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
	"github.com/KI7MT/aqs-ozone/internal/common"
	"github.com/KI7MT/aqs-ozone/internal/logging"
	"github.com/KI7MT/aqs-ozone/internal/output"
	"github.com/KI7MT/aqs-ozone/internal/pipeline"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	cfg := common.DefaultConfig()
	format := string(cfg.Format)

	flag.StringVar(&cfg.SitesFile, "sites", cfg.SitesFile, "Site registry YAML (default: built-in Queens, Chester)")
	flag.StringVar(&cfg.Site, "site", cfg.Site, "Site to fetch (or 'all')")
	flag.IntVar(&cfg.StartYear, "start", cfg.StartYear, "First year (inclusive)")
	flag.IntVar(&cfg.EndYear, "end", cfg.EndYear, "Last year (inclusive)")
	flag.StringVar(&cfg.DataDir, "dest", cfg.DataDir, "Output directory")
	flag.StringVar(&format, "format", format, "Output format: csv, csv.gz, csv.zst, parquet")
	flag.StringVar(&cfg.LogPath, "log", cfg.LogPath, "Log file (append mode)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.DurationVar(&cfg.Pause, "pause", cfg.Pause, "Delay between year requests")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP timeout per request (0 = none)")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "AQS sampleData/bySite endpoint")
	flag.StringVar(&cfg.ClickHouseHost, "ch-host", cfg.ClickHouseHost, "ClickHouse native address (empty = disabled)")
	flag.StringVar(&cfg.ClickHouseDatabase, "ch-db", cfg.ClickHouseDatabase, "ClickHouse database")
	flag.StringVar(&cfg.ClickHouseTable, "ch-table", cfg.ClickHouseTable, "ClickHouse table")
	flag.StringVar(&cfg.Schedule, "schedule", "", "Cron expression; re-run on this schedule until interrupted")
	listSites := flag.Bool("list", false, "List registered sites and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ozone-fetch v%s - EPA AQS Hourly Ozone Downloader\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Requires AQS_EMAIL and AQS_KEY in the environment.\n")
		fmt.Fprintf(os.Stderr, "Exits 1 if any site failed in any run, including scheduled runs.\n\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -start 2000 -end 2021 -dest ./data\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -site Queens -format parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -sites sites.yaml -schedule \"0 3 * * 1\"\n", os.Args[0])
	}

	flag.Parse()
	cfg.Format = output.Format(format)

	sites, err := cfg.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *listSites {
		fmt.Printf("Registered sites (%d):\n\n", len(sites))
		for _, s := range sites {
			fmt.Printf("  %-15s %s\n", s.Name, s.ID())
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Path: cfg.LogPath, Level: level, Console: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	code := run(cfg, sites, logger)
	if err := logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: closing log: %v\n", err)
	}
	os.Exit(code)
}

// run executes the pipeline once, or on cfg.Schedule until interrupted, and
// returns the process exit code.
func run(cfg *common.Config, sites []aqs.Site, logger *logging.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("=========================================================")
	fmt.Printf("Ozone Fetch v%s\n", Version)
	fmt.Println("=========================================================")
	fmt.Printf("Endpoint:    %s\n", cfg.BaseURL)
	fmt.Printf("Sites:       %d\n", len(sites))
	fmt.Printf("Years:       %d-%d\n", cfg.StartYear, cfg.EndYear)
	fmt.Printf("Destination: %s (%s)\n", cfg.DataDir, cfg.Format)
	fmt.Printf("Pause:       %v between requests\n", cfg.Pause)
	if cfg.ClickHouseHost != "" {
		fmt.Printf("ClickHouse:  %s/%s.%s\n", cfg.ClickHouseHost, cfg.ClickHouseDatabase, cfg.ClickHouseTable)
	}
	fmt.Println()

	client := aqs.NewClient(aqs.ClientConfig{
		BaseURL: cfg.BaseURL,
		Email:   cfg.Email,
		Key:     cfg.Key,
		Timeout: cfg.Timeout,
		Pause:   cfg.Pause,
	}, logger.Logger)

	var sink output.Sink = output.NewFileSink(cfg.DataDir, cfg.Format)
	if cfg.ClickHouseHost != "" {
		sink = output.MultiSink{sink, &output.ClickHouseSink{
			Address:     cfg.ClickHouseHost,
			Database:    cfg.ClickHouseDatabase,
			Table:       cfg.ClickHouseTable,
			CreateTable: true,
			Source:      cfg.BaseURL,
		}}
	}

	runner := &pipeline.Runner{
		Fetcher: client,
		Sink:    sink,
		Logger:  logger.Logger,
		Stats:   common.NewStats(),
	}

	var history runHistory
	once := func() {
		runner.Stats.Reset()
		results := runner.Run(ctx, sites, cfg.StartYear, cfg.EndYear)
		for _, r := range results {
			logger.Debug(fmt.Sprintf("%s: %s", r.Site.Name, r.Status))
		}
		runner.Stats.Summary(os.Stdout)
		history.record(runner.Stats)
	}

	if cfg.Schedule == "" {
		once()
		logger.Info("All hourly data fetching and saving complete.")
		return history.exitCode(ctx.Err() != nil)
	}

	// Scheduled mode: runs never overlap; a tick during a long run is skipped.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Schedule, once); err != nil {
		logger.Error(fmt.Sprintf("Invalid schedule %q: %v", cfg.Schedule, err))
		return 1
	}
	logger.Info(fmt.Sprintf("Scheduled with %q; waiting for first run", cfg.Schedule))
	c.Start()

	<-ctx.Done()
	logger.Info("Shutdown requested...")
	<-c.Stop().Done()
	if history.failed.Load() {
		logger.Warn(fmt.Sprintf("%d of %d scheduled runs had failed sites", history.failedRuns.Load(), history.runs.Load()))
	}
	return history.exitCode(false)
}

// runHistory remembers whether any run of this process had a failed site.
type runHistory struct {
	runs       atomic.Uint64
	failedRuns atomic.Uint64
	failed     atomic.Bool
}

func (h *runHistory) record(s *common.Stats) {
	h.runs.Add(1)
	if s.Failed() {
		h.failedRuns.Add(1)
		h.failed.Store(true)
	}
}

// exitCode is 1 when any recorded run failed or the run was interrupted.
func (h *runHistory) exitCode(interrupted bool) int {
	if h.failed.Load() || interrupted {
		return 1
	}
	return 0
}
