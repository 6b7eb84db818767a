package aqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPause is the fixed delay between consecutive year requests.
const DefaultPause = 1 * time.Second

// =============================================================================
// Per-Year Results
// =============================================================================

// YearStatus classifies the outcome of one year request.
type YearStatus int

const (
	YearData   YearStatus = iota // success with at least one record
	YearEmpty                    // success, no records
	YearFailed                   // transport, HTTP status, or decode failure
)

func (s YearStatus) String() string {
	switch s {
	case YearData:
		return "data"
	case YearEmpty:
		return "empty"
	case YearFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// YearResult is the outcome of fetching one calendar year for one site.
type YearResult struct {
	Year    int
	Status  YearStatus
	Records []RawRecord
	Err     error // set when Status == YearFailed
}

// FetchResult aggregates the year results for one site.
type FetchResult struct {
	Site    Site
	Years   []YearResult
	Records []RawRecord // union of all successful years, in request order
}

// Count returns how many years ended with the given status.
func (r FetchResult) Count(status YearStatus) int {
	n := 0
	for _, y := range r.Years {
		if y.Status == status {
			n++
		}
	}
	return n
}

// =============================================================================
// Client
// =============================================================================

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Email   string
	Key     string
	Timeout time.Duration // 0 keeps the transport default (no timeout)
	Pause   time.Duration
}

// Client issues sampleData/bySite requests, one per calendar year.
type Client struct {
	baseURL string
	email   string
	key     string
	pause   time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Sleep waits between consecutive requests. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client with the given configuration.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		email:      cfg.Email,
		key:        cfg.Key,
		pause:      cfg.Pause,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Logger:     logger,
		Sleep:      sleepContext,
	}
}

// apiResponse is the AQS envelope. Data is left untyped: a missing key, null,
// or non-list value all count as "no data".
type apiResponse struct {
	Header []apiHeader `json:"Header"`
	Data   any         `json:"Data"`
}

type apiHeader struct {
	Status string `json:"status"`
	Error  []any  `json:"error"`
}

// Fetch requests every year in [startYear, endYear] for site. Failed years are
// logged and skipped; the result holds every year's outcome and the records of
// the years that succeeded. Fetch stops early only when ctx is canceled.
func (c *Client) Fetch(ctx context.Context, site Site, startYear, endYear int) (FetchResult, error) {
	res := FetchResult{Site: site}

	for year := startYear; year <= endYear; year++ {
		if year > startYear && c.pause > 0 {
			if err := c.Sleep(ctx, c.pause); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		yr := c.FetchYear(ctx, site, year)
		res.Years = append(res.Years, yr)

		switch yr.Status {
		case YearData:
			res.Records = append(res.Records, yr.Records...)
			c.Logger.Debug(fmt.Sprintf("Fetched %d records for %s in %d", len(yr.Records), site.Name, year))
		case YearEmpty:
			c.Logger.Warn(fmt.Sprintf("No data found for %s in %d", site.Name, year))
		case YearFailed:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			c.Logger.Error(fmt.Sprintf("Error fetching data for %s in %d: %v", site.Name, year, yr.Err))
		}
	}

	return res, nil
}

// FetchYear issues the request for a single calendar year.
func (c *Client) FetchYear(ctx context.Context, site Site, year int) YearResult {
	yr := YearResult{Year: year}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(site, year), nil)
	if err != nil {
		yr.Status, yr.Err = YearFailed, fmt.Errorf("build request: %w", err)
		return yr
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		yr.Status, yr.Err = YearFailed, fmt.Errorf("HTTP GET %s failed: %w", c.baseURL, stripURL(err))
		return yr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		yr.Status, yr.Err = YearFailed, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		return yr
	}

	var body apiResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		yr.Status, yr.Err = YearFailed, fmt.Errorf("decode response: %w", err)
		return yr
	}

	list, _ := body.Data.([]any)
	if len(list) == 0 {
		if len(body.Header) > 0 && strings.EqualFold(body.Header[0].Status, "Failed") {
			yr.Status, yr.Err = YearFailed, fmt.Errorf("API error: %v", body.Header[0].Error)
			return yr
		}
		yr.Status = YearEmpty
		return yr
	}

	yr.Status = YearData
	yr.Records = make([]RawRecord, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			obj = map[string]any{}
		}
		yr.Records = append(yr.Records, RawRecord(obj))
	}
	return yr
}

func (c *Client) requestURL(site Site, year int) string {
	y := strconv.Itoa(year)
	q := url.Values{}
	q.Set("email", c.email)
	q.Set("key", c.key)
	q.Set("param", ParamOzone)
	q.Set("duration", DurationHourly)
	q.Set("bdate", y+"0101")
	q.Set("edate", y+"1231")
	q.Set("state", site.State)
	q.Set("county", site.County)
	q.Set("site", site.Station)
	return c.baseURL + "?" + q.Encode()
}

// stripURL drops the request URL from a client error. The query carries the
// account email and key.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
