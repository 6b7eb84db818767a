package output

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
)

var queens = aqs.Site{Name: "Queens", State: "36", County: "081", Station: "0124"}

func sampleSeries() aqs.SiteTimeSeries {
	at := func(h int) time.Time { return time.Date(2000, 7, 1, h, 0, 0, 0, time.UTC) }
	return aqs.SiteTimeSeries{
		Site: queens,
		Observations: []aqs.Observation{
			{Time: at(0), HasTime: true, Value: 0.031, HasValue: true},
			{Time: at(1), HasTime: true},
			{Time: at(2), HasTime: true, Value: 0, HasValue: true},
			{Value: 0.045, HasValue: true},
			{Time: at(4), HasTime: true, Value: 0.1234567, HasValue: true},
		},
	}
}

func TestWriteCSV_Format(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleSeries().Observations); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	want := "DateTime,Ozone Concentration\n" +
		"2000-07-01 00:00:00,0.031\n" +
		"2000-07-01 01:00:00,\n" +
		"2000-07-01 02:00:00,0\n" +
		",0.045\n" +
		"2000-07-01 04:00:00,0.1234567\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("CSV mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCSV_EmptySeriesHasHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "DateTime,Ozone Concentration\n" {
		t.Fatalf("got %q, want header only", got)
	}
}

func TestReadCSV_BadHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("time,value\n2000-01-01 00:00:00,1\n"))
	if !errors.Is(err, ErrBadHeader) {
		t.Fatalf("ReadCSV() error = %v, want ErrBadHeader", err)
	}
}

func TestFileSink_RoundTrip(t *testing.T) {
	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			sink := NewFileSink(dir, format)
			ts := sampleSeries()

			dest, err := sink.Write(context.Background(), ts)
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			wantPath := filepath.Join(dir, "ozone_hourly_data_Queens"+format.Ext())
			if dest != wantPath {
				t.Errorf("dest = %q, want %q", dest, wantPath)
			}
			if _, err := os.Stat(dest + ".tmp"); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("temp file left behind: %v", err)
			}

			got, err := ReadFile(dest)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if diff := cmp.Diff(ts.Observations, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileSink_Overwrites(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, FormatCSV)
	path := sink.Path("Queens")
	if err := os.WriteFile(path, []byte("stale contents that are much longer than the new file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := sampleSeries()
	ts.Observations = ts.Observations[:1]
	if _, err := sink.Write(context.Background(), ts); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if want := "DateTime,Ozone Concentration\n2000-07-01 00:00:00,0.031\n"; string(data) != want {
		t.Fatalf("file = %q, want %q", data, want)
	}
}

func TestFileSink_UnwritableDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	sink := NewFileSink(filepath.Join(blocker, "out"), FormatCSV)
	if _, err := sink.Write(context.Background(), sampleSeries()); err == nil {
		t.Fatal("Write() error = nil, want failure")
	}
}

func TestFileSink_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := NewFileSink(t.TempDir(), FormatCSV)
	if _, err := sink.Write(ctx, sampleSeries()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Write() error = %v, want context.Canceled", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"csv", " CSV.GZ ", "csv.zst", "parquet"} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", in, err)
		}
	}
	if _, err := ParseFormat("xlsx"); err == nil {
		t.Error("ParseFormat(xlsx) error = nil, want non-nil")
	}
}

func TestFileNames(t *testing.T) {
	tests := []struct {
		site   string
		format Format
		want   string
	}{
		{"Queens", FormatCSV, "ozone_hourly_data_Queens.csv"},
		{"Chester", FormatCSVGzip, "ozone_hourly_data_Chester.csv.gz"},
		{"New York/Bronx", FormatParquet, "ozone_hourly_data_New York_Bronx.parquet"},
	}
	for _, tt := range tests {
		got := FileName(tt.site, tt.format)
		if got != tt.want {
			t.Errorf("FileName(%q, %q) = %q, want %q", tt.site, tt.format, got, tt.want)
		}
		format, ok := DetectFormat(got)
		if !ok || format != tt.format {
			t.Errorf("DetectFormat(%q) = (%q, %v), want %q", got, format, ok, tt.format)
		}
	}

	name, ok := SiteFromFileName("/data/ozone_hourly_data_Queens.csv.zst")
	if !ok || name != "Queens" {
		t.Errorf("SiteFromFileName() = (%q, %v), want Queens", name, ok)
	}
	if _, ok := SiteFromFileName("/data/other_Queens.csv"); ok {
		t.Error("SiteFromFileName(other_Queens.csv) ok = true, want false")
	}
	if _, ok := DetectFormat("notes.txt"); ok {
		t.Error("DetectFormat(notes.txt) ok = true, want false")
	}
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, aqs.SiteTimeSeries) (string, error) {
	return "", f.err
}

func TestMultiSink(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	m := MultiSink{failingSink{boom}, NewFileSink(dir, FormatCSV)}

	dest, err := m.Write(context.Background(), sampleSeries())
	if !errors.Is(err, boom) {
		t.Fatalf("Write() error = %v, want boom", err)
	}
	if want := filepath.Join(dir, "ozone_hourly_data_Queens.csv"); dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "ozone_hourly_data_Queens.csv")); err != nil {
		t.Errorf("second sink not attempted: %v", err)
	}
}

func TestOzoneBatch(t *testing.T) {
	b := NewOzoneBatch()
	b.AddSeries(sampleSeries(), "test")
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	if got := b.SiteID.Row(0); got != "36-081-0124" {
		t.Errorf("SiteID[0] = %q", got)
	}
	if b.Ozone.Row(1).Set {
		t.Error("Ozone[1] set, want null")
	}
	if b.Timestamp.Row(3).Set {
		t.Error("Timestamp[3] set, want null")
	}
	if len(b.Input()) != 5 {
		t.Errorf("len(Input()) = %d, want 5", len(b.Input()))
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", b.Len())
	}
}

func TestTableDDL(t *testing.T) {
	ddl := TableDDL("aqs.ozone_hourly")
	for _, want := range []string{
		"aqs.ozone_hourly",
		"Nullable(DateTime)",
		"Nullable(Float64)",
		"ENGINE = MergeTree\n",
		"ORDER BY (site, ifNull(timestamp, toDateTime(0)))",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, "Replacing") {
		t.Errorf("DDL uses a deduplicating engine:\n%s", ddl)
	}
}

func TestOzoneBatch_KeepsDuplicateKeys(t *testing.T) {
	hour := time.Date(2001, 5, 1, 3, 0, 0, 0, time.UTC)
	ts := aqs.SiteTimeSeries{
		Site: aqs.Site{Name: "Unlisted"},
		Observations: []aqs.Observation{
			{Time: hour, HasTime: true, Value: 0.031, HasValue: true},
			{Time: hour, HasTime: true, Value: 0.033, HasValue: true},
			{Value: 0.02, HasValue: true},
			{Value: 0.04, HasValue: true},
		},
	}
	b := NewOzoneBatch()
	b.AddSeries(ts, "test")
	if b.Len() != len(ts.Observations) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(ts.Observations))
	}
	for i := 0; i < b.Len(); i++ {
		if got := b.Site.Row(i); got != "Unlisted" {
			t.Errorf("Site[%d] = %q, want Unlisted", i, got)
		}
	}
}

func TestDeleteSiteQuery(t *testing.T) {
	tests := []struct {
		site string
		want string
	}{
		{"Queens", "DELETE FROM aqs.ozone_hourly WHERE site = 'Queens'"},
		{"O'Hare", `DELETE FROM aqs.ozone_hourly WHERE site = 'O\'Hare'`},
		{`a\b`, `DELETE FROM aqs.ozone_hourly WHERE site = 'a\\b'`},
	}
	for _, tt := range tests {
		if got := DeleteSiteQuery("aqs.ozone_hourly", tt.site); got != tt.want {
			t.Errorf("DeleteSiteQuery(%q) = %q, want %q", tt.site, got, tt.want)
		}
	}
}
