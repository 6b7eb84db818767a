package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
)

// FileSink writes one file per site into Dir, replacing any previous file.
type FileSink struct {
	Dir    string
	Format Format
}

// NewFileSink returns a sink writing files of the given format into dir.
func NewFileSink(dir string, format Format) *FileSink {
	return &FileSink{Dir: dir, Format: format}
}

// Path returns the destination path for a site.
func (s *FileSink) Path(siteName string) string {
	return filepath.Join(s.Dir, FileName(siteName, s.Format))
}

// Write encodes ts to a temp file and renames it over the destination, so a
// failed write never leaves a partial file behind.
func (s *FileSink) Write(ctx context.Context, ts aqs.SiteTimeSeries) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	destPath := s.Path(ts.Site.Name)
	tmpPath := destPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create file failed: %w", err)
	}

	err = s.encode(f, ts.Observations)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("write %s: %w", filepath.Base(destPath), err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename failed: %w", err)
	}
	return destPath, nil
}

func (s *FileSink) encode(f *os.File, obs []aqs.Observation) error {
	switch s.Format {
	case FormatCSV:
		return WriteCSV(f, obs)
	case FormatCSVGzip:
		gz := pgzip.NewWriter(f)
		return closeAfter(gz, WriteCSV(gz, obs))
	case FormatCSVZstd:
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		return closeAfter(enc, WriteCSV(enc, obs))
	case FormatParquet:
		return WriteParquet(f, obs)
	default:
		return fmt.Errorf("unsupported format %q", s.Format)
	}
}

// closeAfter closes c and returns the first of err and the close error.
func closeAfter(c io.Closer, err error) error {
	cerr := c.Close()
	if err != nil {
		return err
	}
	return cerr
}

// ReadFile reads back a file written by FileSink, choosing the decoder from
// the file extension.
func ReadFile(path string) ([]aqs.Observation, error) {
	format, ok := DetectFormat(path)
	if !ok {
		return nil, fmt.Errorf("%s: unrecognized file extension", filepath.Base(path))
	}

	if format == FormatParquet {
		return ReadParquet(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch format {
	case FormatCSVGzip:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return ReadCSV(gz)
	case FormatCSVZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return ReadCSV(dec)
	default:
		return ReadCSV(f)
	}
}
