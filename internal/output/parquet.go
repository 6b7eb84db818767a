package output

import (
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
)

// ParquetRow is the Parquet schema for a site file. Nil fields carry the
// missing marker.
type ParquetRow struct {
	DateTime *string  `parquet:"datetime,optional"`
	Ozone    *float64 `parquet:"ozone_concentration,optional"`
}

// WriteParquet writes observations as a single Parquet file.
func WriteParquet(w io.Writer, obs []aqs.Observation) error {
	rows := make([]ParquetRow, len(obs))
	for i, o := range obs {
		if o.HasTime {
			s := o.Time.Format(aqs.TimestampLayout)
			rows[i].DateTime = &s
		}
		if o.HasValue {
			v := o.Value
			rows[i].Ozone = &v
		}
	}

	pw := parquet.NewGenericWriter[ParquetRow](w)
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}

// ReadParquet reads a file written by WriteParquet.
func ReadParquet(path string) ([]aqs.Observation, error) {
	rows, err := parquet.ReadFile[ParquetRow](path)
	if err != nil {
		return nil, err
	}

	obs := make([]aqs.Observation, len(rows))
	for i, r := range rows {
		if r.DateTime != nil {
			t, err := time.Parse(aqs.TimestampLayout, *r.DateTime)
			if err != nil {
				return nil, err
			}
			obs[i].Time, obs[i].HasTime = t, true
		}
		if r.Ozone != nil {
			obs[i].Value, obs[i].HasValue = *r.Ozone, true
		}
	}
	return obs, nil
}
