// Package output writes site time series to their destinations: delimited
// files (optionally compressed), Parquet files, and ClickHouse.
package output

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
)

// FilePrefix is prepended to the site name to form output file names.
const FilePrefix = "ozone_hourly_data_"

// Sink persists one site's time series and returns a description of where it
// was written.
type Sink interface {
	Write(ctx context.Context, ts aqs.SiteTimeSeries) (string, error)
}

// =============================================================================
// Formats
// =============================================================================

// Format selects the on-disk encoding of a FileSink.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatCSVGzip Format = "csv.gz"
	FormatCSVZstd Format = "csv.zst"
	FormatParquet Format = "parquet"
)

// Formats lists the supported file formats.
var Formats = []Format{FormatCSV, FormatCSVGzip, FormatCSVZstd, FormatParquet}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (allowed: csv, csv.gz, csv.zst, parquet)", s)
}

// Ext returns the file extension including the leading dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// DetectFormat infers the format from a file name.
func DetectFormat(path string) (Format, bool) {
	base := strings.ToLower(filepath.Base(path))
	// longest extension first so ".csv.gz" is not read as ".gz"
	for _, f := range []Format{FormatCSVGzip, FormatCSVZstd, FormatParquet, FormatCSV} {
		if strings.HasSuffix(base, f.Ext()) {
			return f, true
		}
	}
	return "", false
}

// FileName derives the output file name for a site. Path separators in the
// site name are replaced so the file always lands in the output directory.
func FileName(siteName string, f Format) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(siteName)
	return FilePrefix + name + f.Ext()
}

// SiteFromFileName recovers the site name from a file written by FileSink.
func SiteFromFileName(path string) (string, bool) {
	f, ok := DetectFormat(path)
	if !ok {
		return "", false
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, FilePrefix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(base, FilePrefix), base[len(base)-len(f.Ext()):])
	return name, name != ""
}

// =============================================================================
// MultiSink
// =============================================================================

// MultiSink writes to every sink in order. All sinks are attempted; the
// returned error joins every failure.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, ts aqs.SiteTimeSeries) (string, error) {
	var dests []string
	var errs []error
	for _, s := range m {
		dest, err := s.Write(ctx, ts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dests = append(dests, dest)
	}
	return strings.Join(dests, ", "), errors.Join(errs...)
}
