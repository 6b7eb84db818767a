// Package pipeline runs the per-site Fetch → Transform → Write sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
	"github.com/KI7MT/aqs-ozone/internal/common"
	"github.com/KI7MT/aqs-ozone/internal/output"
)

// Fetcher retrieves the raw records of one site for a year range.
type Fetcher interface {
	Fetch(ctx context.Context, site aqs.Site, startYear, endYear int) (aqs.FetchResult, error)
}

// SiteStatus is the final state of one site's run.
type SiteStatus int

const (
	SiteWritten     SiteStatus = iota
	SiteNoData                 // no records across the whole range; nothing written
	SiteSchemaError            // measurement field missing; nothing written
	SiteWriteError             // sink failed
	SiteCanceled               // run interrupted before or during this site
)

func (s SiteStatus) String() string {
	switch s {
	case SiteWritten:
		return "written"
	case SiteNoData:
		return "no data"
	case SiteSchemaError:
		return "schema error"
	case SiteWriteError:
		return "write error"
	case SiteCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// SiteResult records what happened to one site.
type SiteResult struct {
	Site   aqs.Site
	Status SiteStatus
	Years  []aqs.YearResult
	Rows   int
	Dest   string
	Err    error
}

// Runner processes sites one at a time. Sites share nothing except the logger
// and the run statistics.
type Runner struct {
	Fetcher Fetcher
	Sink    output.Sink
	Logger  *slog.Logger
	Stats   *common.Stats
}

// Run processes every site in order and returns one result per site. A
// failure in one site never prevents the next from running; only ctx
// cancellation stops the run early, marking the remaining sites canceled.
func (r *Runner) Run(ctx context.Context, sites []aqs.Site, startYear, endYear int) []SiteResult {
	if r.Stats == nil {
		r.Stats = common.NewStats()
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}

	results := make([]SiteResult, 0, len(sites))
	for _, site := range sites {
		if ctx.Err() != nil {
			results = append(results, SiteResult{Site: site, Status: SiteCanceled, Err: ctx.Err()})
			continue
		}
		results = append(results, r.RunSite(ctx, site, startYear, endYear))
	}
	return results
}

// RunSite fetches, transforms, and writes a single site.
func (r *Runner) RunSite(ctx context.Context, site aqs.Site, startYear, endYear int) SiteResult {
	res := SiteResult{Site: site}
	r.Logger.Info(fmt.Sprintf("Fetching %s (%s) for %d-%d", site.Name, site.ID(), startYear, endYear))

	fr, err := r.Fetcher.Fetch(ctx, site, startYear, endYear)
	res.Years = fr.Years
	r.Stats.YearsData.Add(uint64(fr.Count(aqs.YearData)))
	r.Stats.YearsEmpty.Add(uint64(fr.Count(aqs.YearEmpty)))
	r.Stats.YearsFailed.Add(uint64(fr.Count(aqs.YearFailed)))
	r.Stats.RecordsFetched.Add(uint64(len(fr.Records)))
	if err != nil {
		r.Logger.Warn(fmt.Sprintf("Fetch for %s interrupted: %v", site.Name, err))
		res.Status, res.Err = SiteCanceled, err
		return res
	}

	ts, err := aqs.Transform(site, fr.Records)
	switch {
	case errors.Is(err, aqs.ErrNoData):
		r.Logger.Warn(fmt.Sprintf("No O3 data for %s. Skipping.", site.Name))
		r.Stats.SitesNoData.Add(1)
		res.Status, res.Err = SiteNoData, err
		return res
	case err != nil:
		r.Logger.Error(fmt.Sprintf("Missing required measurement column in %s. Data not saved. (%v)", site.Name, err))
		r.Stats.SitesFailed.Add(1)
		res.Status, res.Err = SiteSchemaError, err
		return res
	}

	dest, err := r.Sink.Write(ctx, ts)
	if err != nil {
		r.Logger.Error(fmt.Sprintf("Failed to save data for %s: %v", site.Name, err))
		r.Stats.SitesFailed.Add(1)
		res.Status, res.Err = SiteWriteError, err
		return res
	}

	res.Status, res.Rows, res.Dest = SiteWritten, ts.Len(), dest
	r.Stats.SitesWritten.Add(1)
	r.Stats.RowsWritten.Add(uint64(ts.Len()))
	r.Logger.Info(fmt.Sprintf("Saved hourly data for %s to %s (%d rows)", site.Name, dest, ts.Len()))
	r.Logger.Info(fmt.Sprintf("Completed fetching for %s.", site.Name))
	return res
}
