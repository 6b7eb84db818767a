// Package aqs provides EPA Air Quality System (AQS) data retrieval utilities.
// This package contains the monitoring site registry, the sampleData/bySite
// fetcher, and the transformer that reduces raw AQS samples to an hourly
// ozone time series.
package aqs

import (
	"time"
)

// =============================================================================
// API Constants
// =============================================================================

// DefaultBaseURL is the AQS sample data endpoint scoped by site.
const DefaultBaseURL = "https://aqs.epa.gov/data/api/sampleData/bySite"

const (
	ParamOzone     = "44201" // AQS parameter code for ozone
	DurationHourly = "1"     // AQS duration code for 1-hour samples
)

// Raw record field names (AQS sampleData response).
const (
	FieldMeasurement = "sample_measurement"
	FieldDate        = "date_local"
	FieldTime        = "time_local"
)

// Output column labels.
const (
	LabelTimestamp = "DateTime"
	LabelValue     = "Ozone Concentration"
)

// TimestampLayout is the output format for observation timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// =============================================================================
// Data Model
// =============================================================================

// Site is a fixed-location monitoring station.
type Site struct {
	Name    string `yaml:"name"`
	State   string `yaml:"state"`  // region
	County  string `yaml:"county"` // sub-region
	Station string `yaml:"site"`   // station
}

// ID returns the AQS site identifier in SS-CCC-NNNN form.
func (s Site) ID() string {
	return s.State + "-" + s.County + "-" + s.Station
}

// RawRecord is one observation object as returned by the API.
type RawRecord map[string]any

// Observation is one hourly ozone sample.
// HasTime and HasValue are false when the corresponding source field was
// absent or could not be parsed; the row is still retained.
type Observation struct {
	Time     time.Time
	HasTime  bool
	Value    float64
	HasValue bool
}

// SiteTimeSeries is the ordered observation sequence for one site, in the
// order the API returned the records.
type SiteTimeSeries struct {
	Site         Site
	Observations []Observation
}

// Len returns the number of observations.
func (ts SiteTimeSeries) Len() int {
	return len(ts.Observations)
}
