package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
)

// ErrBadHeader is returned when a CSV file does not start with the expected
// header row.
var ErrBadHeader = errors.New("unexpected header")

// WriteCSV writes the header row followed by one row per observation.
// Missing timestamps and values are written as empty cells.
func WriteCSV(w io.Writer, obs []aqs.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{aqs.LabelTimestamp, aqs.LabelValue}); err != nil {
		return err
	}

	row := make([]string, 2)
	for _, o := range obs {
		row[0], row[1] = "", ""
		if o.HasTime {
			row[0] = o.Time.Format(aqs.TimestampLayout)
		}
		if o.HasValue {
			row[1] = strconv.FormatFloat(o.Value, 'f', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file produced by WriteCSV.
func ReadCSV(r io.Reader) ([]aqs.Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != aqs.LabelTimestamp || header[1] != aqs.LabelValue {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, header)
	}

	var obs []aqs.Observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var o aqs.Observation
		if rec[0] != "" {
			t, err := time.Parse(aqs.TimestampLayout, rec[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			o.Time, o.HasTime = t, true
		}
		if rec[1] != "" {
			v, err := strconv.ParseFloat(rec[1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			o.Value, o.HasValue = v, true
		}
		obs = append(obs, o)
	}
	return obs, nil
}
