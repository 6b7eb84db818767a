package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
	"github.com/KI7MT/aqs-ozone/internal/common"
	"github.com/KI7MT/aqs-ozone/internal/logging"
	"github.com/KI7MT/aqs-ozone/internal/output"
)

var (
	queens  = aqs.Site{Name: "Queens", State: "36", County: "081", Station: "0124"}
	chester = aqs.Site{Name: "Chester", State: "34", County: "027", Station: "3001"}
)

// fakeAQS serves per-site, per-year bodies keyed by "<site code>/<year>".
// Keys without an entry answer HTTP 500.
func fakeAQS(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		key := q.Get("site") + "/" + q.Get("bdate")[:4]
		body, ok := bodies[key]
		if !ok {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func records(year int, values ...string) string {
	var items []string
	for i, v := range values {
		items = append(items, fmt.Sprintf(`{"date_local":"%d-05-01","time_local":"%02d:00","sample_measurement":%s,"parameter":"Ozone"}`, year, i, v))
	}
	return `{"Header":[{"status":"Success"}],"Data":[` + strings.Join(items, ",") + `]}`
}

type harness struct {
	runner *Runner
	dir    string
	log    *bytes.Buffer
}

func newHarness(t *testing.T, srv *httptest.Server, sink output.Sink) *harness {
	t.Helper()
	var logBuf bytes.Buffer
	logger := slog.New(logging.NewLineHandler(&logBuf, slog.LevelInfo))

	client := aqs.NewClient(aqs.ClientConfig{BaseURL: srv.URL, Email: "e", Key: "k", Pause: time.Second}, logger)
	client.Sleep = func(context.Context, time.Duration) error { return nil }

	dir := t.TempDir()
	if sink == nil {
		sink = output.NewFileSink(dir, output.FormatCSV)
	}
	return &harness{
		runner: &Runner{Fetcher: client, Sink: sink, Logger: logger, Stats: common.NewStats()},
		dir:    dir,
		log:    &logBuf,
	}
}

func (h *harness) path(site string) string {
	return filepath.Join(h.dir, output.FileName(site, output.FormatCSV))
}

func TestRun_PartialYearFailure(t *testing.T) {
	srv := fakeAQS(t, map[string]string{
		"0124/2000": records(2000, "0.031", "0.029", "0.027"),
	})
	h := newHarness(t, srv, nil)

	results := h.runner.Run(context.Background(), []aqs.Site{queens}, 2000, 2001)

	if results[0].Status != SiteWritten || results[0].Rows != 3 {
		t.Fatalf("result = %+v, want written with 3 rows", results[0])
	}
	data, err := os.ReadFile(h.path("Queens"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("file has %d lines, want header + 3:\n%s", len(lines), data)
	}
	if lines[0] != "DateTime,Ozone Concentration" {
		t.Errorf("header = %q", lines[0])
	}

	var errLines []string
	for _, l := range strings.Split(h.log.String(), "\n") {
		if strings.Contains(l, " - ERROR - ") {
			errLines = append(errLines, l)
		}
	}
	if len(errLines) != 1 || !strings.Contains(errLines[0], "Queens in 2001") {
		t.Errorf("error lines = %q, want one for 2001", errLines)
	}
}

func TestRun_RowCountMatchesRecords(t *testing.T) {
	srv := fakeAQS(t, map[string]string{
		"0124/2000": records(2000, "0.031", "null", `"bad"`),
		"0124/2001": records(2001, "0.040"),
		"0124/2002": `{"Header":[{"status":"No data matched your selection"}],"Data":[]}`,
	})
	h := newHarness(t, srv, nil)

	results := h.runner.Run(context.Background(), []aqs.Site{queens}, 2000, 2002)
	if results[0].Status != SiteWritten {
		t.Fatalf("status = %v, want written", results[0].Status)
	}

	got, err := output.ReadFile(h.path("Queens"))
	if err != nil {
		t.Fatal(err)
	}
	want := []aqs.Observation{
		{Time: time.Date(2000, 5, 1, 0, 0, 0, 0, time.UTC), HasTime: true, Value: 0.031, HasValue: true},
		{Time: time.Date(2000, 5, 1, 1, 0, 0, 0, time.UTC), HasTime: true},
		{Time: time.Date(2000, 5, 1, 2, 0, 0, 0, time.UTC), HasTime: true},
		{Time: time.Date(2001, 5, 1, 0, 0, 0, 0, time.UTC), HasTime: true, Value: 0.040, HasValue: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("written observations mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(h.log.String(), " - WARNING - No data found for Queens in 2002") {
		t.Errorf("missing empty-year warning:\n%s", h.log.String())
	}
	if got := h.runner.Stats.YearsEmpty.Load(); got != 1 {
		t.Errorf("YearsEmpty = %d, want 1", got)
	}
}

func TestRun_NoDataSkipsFile(t *testing.T) {
	srv := fakeAQS(t, map[string]string{})
	h := newHarness(t, srv, nil)

	results := h.runner.Run(context.Background(), []aqs.Site{queens}, 2000, 2002)
	if results[0].Status != SiteNoData {
		t.Fatalf("status = %v, want no data", results[0].Status)
	}
	if _, err := os.Stat(h.path("Queens")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output file exists, want none: %v", err)
	}
	if !strings.Contains(h.log.String(), " - WARNING - No O3 data for Queens. Skipping.") {
		t.Errorf("missing no-data warning:\n%s", h.log.String())
	}
	if got := len(results[0].Years); got != 3 {
		t.Errorf("len(Years) = %d, want 3", got)
	}
}

func TestRun_SchemaErrorDoesNotBlockSiblings(t *testing.T) {
	srv := fakeAQS(t, map[string]string{
		"3001/2000": `{"Header":[{"status":"Success"}],"Data":[{"date_local":"2000-01-01","time_local":"00:00","value":1}]}`,
		"0124/2000": records(2000, "0.031"),
	})
	h := newHarness(t, srv, nil)

	results := h.runner.Run(context.Background(), []aqs.Site{chester, queens}, 2000, 2000)

	if results[0].Status != SiteSchemaError || !errors.Is(results[0].Err, aqs.ErrMissingField) {
		t.Errorf("Chester = %+v, want schema error", results[0])
	}
	if _, err := os.Stat(h.path("Chester")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Chester file exists, want none")
	}
	if results[1].Status != SiteWritten {
		t.Errorf("Queens status = %v, want written", results[1].Status)
	}
	if !strings.Contains(h.log.String(), " - ERROR - Missing required measurement column in Chester") {
		t.Errorf("missing schema error log:\n%s", h.log.String())
	}
	if !h.runner.Stats.Failed() {
		t.Error("Stats.Failed() = false, want true")
	}
}

// failFor fails writes for one site and delegates the rest.
type failFor struct {
	name string
	next output.Sink
}

func (f failFor) Write(ctx context.Context, ts aqs.SiteTimeSeries) (string, error) {
	if ts.Site.Name == f.name {
		return "", errors.New("disk full")
	}
	return f.next.Write(ctx, ts)
}

func TestRun_WriteErrorContinues(t *testing.T) {
	srv := fakeAQS(t, map[string]string{
		"3001/2000": records(2000, "0.02"),
		"0124/2000": records(2000, "0.03"),
	})
	h := newHarness(t, srv, nil)
	h.runner.Sink = failFor{name: "Chester", next: h.runner.Sink}

	results := h.runner.Run(context.Background(), []aqs.Site{chester, queens}, 2000, 2000)

	got := []SiteStatus{results[0].Status, results[1].Status}
	if diff := cmp.Diff([]SiteStatus{SiteWriteError, SiteWritten}, got); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(h.log.String(), "Failed to save data for Chester: disk full") {
		t.Errorf("missing write error log:\n%s", h.log.String())
	}
}

func TestRun_Canceled(t *testing.T) {
	srv := fakeAQS(t, map[string]string{"0124/2000": records(2000, "0.03")})
	h := newHarness(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := h.runner.Run(ctx, []aqs.Site{chester, queens}, 2000, 2000)
	for _, r := range results {
		if r.Status != SiteCanceled {
			t.Errorf("%s status = %v, want canceled", r.Site.Name, r.Status)
		}
	}
}

func TestSiteStatusString(t *testing.T) {
	if got := SiteSchemaError.String(); got != "schema error" {
		t.Errorf("String() = %q", got)
	}
	if got := SiteStatus(99).String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}
