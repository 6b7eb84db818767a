package aqs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoData means there were no records to transform.
	ErrNoData = errors.New("no data")

	// ErrMissingField means a record lacks the measurement field.
	ErrMissingField = errors.New("missing required measurement field")
)

// Accepted date_local + time_local combinations.
var timestampLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// Transform reduces raw records to a two-column time series.
//
// Every record must carry FieldMeasurement, otherwise ErrMissingField is
// returned and no series is produced. Measurements that cannot be coerced to a
// finite number, and timestamps that cannot be parsed, are kept as rows with
// the missing marker set (HasValue/HasTime false).
func Transform(site Site, records []RawRecord) (SiteTimeSeries, error) {
	if len(records) == 0 {
		return SiteTimeSeries{}, ErrNoData
	}

	for i, rec := range records {
		if _, ok := rec[FieldMeasurement]; !ok {
			return SiteTimeSeries{}, fmt.Errorf("%w %q (record %d)", ErrMissingField, FieldMeasurement, i)
		}
	}

	ts := SiteTimeSeries{
		Site:         site,
		Observations: make([]Observation, 0, len(records)),
	}
	for _, rec := range records {
		var obs Observation
		obs.Value, obs.HasValue = ParseValue(rec[FieldMeasurement])
		obs.Time, obs.HasTime = ParseTimestamp(rec[FieldDate], rec[FieldTime])
		ts.Observations = append(ts.Observations, obs)
	}
	return ts, nil
}

// ParseValue coerces a raw measurement to a finite float.
// JSON numbers and numeric strings succeed; null, empty, non-numeric,
// NaN and Inf values report false.
func ParseValue(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseTimestamp combines a date and a time-of-day field into one timestamp.
// Both must be strings; the result is in UTC with no zone conversion since the
// source fields are already local to the site.
func ParseTimestamp(date, clock any) (time.Time, bool) {
	d, ok := date.(string)
	if !ok {
		return time.Time{}, false
	}
	c, ok := clock.(string)
	if !ok {
		return time.Time{}, false
	}

	combined := strings.TrimSpace(d) + " " + strings.TrimSpace(c)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, combined); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
