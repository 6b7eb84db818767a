package common

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Stats holds atomic counters for a fetch run.
type Stats struct {
	SitesWritten atomic.Uint64 // sites with output written
	SitesNoData  atomic.Uint64 // sites skipped for lack of data
	SitesFailed  atomic.Uint64 // sites with schema or write failures

	YearsData   atomic.Uint64
	YearsEmpty  atomic.Uint64
	YearsFailed atomic.Uint64

	RecordsFetched atomic.Uint64
	RowsWritten    atomic.Uint64

	StartTime time.Time
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// Failed reports whether any site ended in a schema or write failure.
func (s *Stats) Failed() bool {
	return s.SitesFailed.Load() > 0
}

// Reset resets all counters and restarts the clock (scheduled runs reuse one
// Stats per run).
func (s *Stats) Reset() {
	for _, c := range []*atomic.Uint64{
		&s.SitesWritten, &s.SitesNoData, &s.SitesFailed,
		&s.YearsData, &s.YearsEmpty, &s.YearsFailed,
		&s.RecordsFetched, &s.RowsWritten,
	} {
		c.Store(0)
	}
	s.StartTime = time.Now()
}

// Summary prints the end-of-run banner.
func (s *Stats) Summary(w io.Writer) {
	elapsed := time.Since(s.StartTime)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=========================================================")
	fmt.Fprintln(w, "Fetch Summary")
	fmt.Fprintln(w, "=========================================================")
	fmt.Fprintf(w, "Sites:    %d written, %d no data, %d failed\n",
		s.SitesWritten.Load(), s.SitesNoData.Load(), s.SitesFailed.Load())
	fmt.Fprintf(w, "Years:    %d with data, %d empty, %d failed\n",
		s.YearsData.Load(), s.YearsEmpty.Load(), s.YearsFailed.Load())
	fmt.Fprintf(w, "Records:  %d fetched\n", s.RecordsFetched.Load())
	fmt.Fprintf(w, "Rows:     %d written\n", s.RowsWritten.Load())
	fmt.Fprintf(w, "Elapsed:  %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintln(w, "=========================================================")
}
