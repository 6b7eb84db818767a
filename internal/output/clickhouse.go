package output

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
)

// TableDDL returns the CREATE TABLE statement for the hourly ozone table.
// Plain MergeTree keeps every row: several monitors can report the same hour,
// and rows without a timestamp must all survive.
func TableDDL(tableFQN string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    site        LowCardinality(String),
    site_id     LowCardinality(String),
    timestamp   Nullable(DateTime),
    ozone       Nullable(Float64),
    source      LowCardinality(String),
    updated_at  DateTime DEFAULT now()
) ENGINE = MergeTree
ORDER BY (site, ifNull(timestamp, toDateTime(0)))`, tableFQN)
}

// DeleteSiteQuery removes a site's rows so a re-fetch replaces them, the
// same way a file write overwrites the site's file.
func DeleteSiteQuery(tableFQN, site string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE site = %s", tableFQN, quoteString(site))
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// OzoneBatch holds columnar data for native ClickHouse insert.
type OzoneBatch struct {
	Site      *proto.ColStr
	SiteID    *proto.ColStr
	Timestamp *proto.ColNullable[time.Time]
	Ozone     *proto.ColNullable[float64]
	Source    *proto.ColStr
}

func NewOzoneBatch() *OzoneBatch {
	return &OzoneBatch{
		Site:      new(proto.ColStr),
		SiteID:    new(proto.ColStr),
		Timestamp: proto.NewColNullable[time.Time](new(proto.ColDateTime)),
		Ozone:     proto.NewColNullable[float64](new(proto.ColFloat64)),
		Source:    new(proto.ColStr),
	}
}

func (b *OzoneBatch) Reset() {
	b.Site.Reset()
	b.SiteID.Reset()
	b.Timestamp.Reset()
	b.Ozone.Reset()
	b.Source.Reset()
}

func (b *OzoneBatch) Len() int {
	return b.Site.Rows()
}

func (b *OzoneBatch) Input() proto.Input {
	return proto.Input{
		{Name: "site", Data: b.Site},
		{Name: "site_id", Data: b.SiteID},
		{Name: "timestamp", Data: b.Timestamp},
		{Name: "ozone", Data: b.Ozone},
		{Name: "source", Data: b.Source},
	}
}

// AddSeries appends every observation of ts.
func (b *OzoneBatch) AddSeries(ts aqs.SiteTimeSeries, source string) {
	for _, o := range ts.Observations {
		b.Site.Append(ts.Site.Name)
		b.SiteID.Append(ts.Site.ID())
		if o.HasTime {
			b.Timestamp.Append(proto.NewNullable(o.Time))
		} else {
			b.Timestamp.Append(proto.Null[time.Time]())
		}
		if o.HasValue {
			b.Ozone.Append(proto.NewNullable(o.Value))
		} else {
			b.Ozone.Append(proto.Null[float64]())
		}
		b.Source.Append(source)
	}
}

// ClickHouseSink inserts each site's series over the native protocol.
type ClickHouseSink struct {
	Address     string
	Database    string
	Table       string
	CreateTable bool
	Source      string // recorded in the source column; defaults to the AQS endpoint
	Append      bool   // keep rows from earlier runs instead of replacing the site
}

// TableFQN returns database.table.
func (s *ClickHouseSink) TableFQN() string {
	return fmt.Sprintf("%s.%s", s.Database, s.Table)
}

// Write opens one connection per site, optionally creates the table, drops
// the site's earlier rows unless Append is set, and inserts the whole series
// as a single block.
func (s *ClickHouseSink) Write(ctx context.Context, ts aqs.SiteTimeSeries) (string, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     s.Address,
		Database:    s.Database,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return "", fmt.Errorf("ClickHouse connection failed: %w", err)
	}
	defer conn.Close()

	tableFQN := s.TableFQN()
	if s.CreateTable {
		if err := conn.Do(ctx, ch.Query{Body: TableDDL(tableFQN)}); err != nil {
			return "", fmt.Errorf("create table %s: %w", tableFQN, err)
		}
	}

	if !s.Append {
		if err := conn.Do(ctx, ch.Query{Body: DeleteSiteQuery(tableFQN, ts.Site.Name)}); err != nil {
			return "", fmt.Errorf("clear %s in %s: %w", ts.Site.Name, tableFQN, err)
		}
	}

	source := s.Source
	if source == "" {
		source = aqs.DefaultBaseURL
	}
	batch := NewOzoneBatch()
	batch.AddSeries(ts, source)
	if err := flushBatch(ctx, conn, tableFQN, batch); err != nil {
		return "", fmt.Errorf("insert into %s: %w", tableFQN, err)
	}
	return fmt.Sprintf("clickhouse://%s/%s (%d rows)", s.Address, tableFQN, ts.Len()), nil
}

func flushBatch(ctx context.Context, conn *ch.Client, tableFQN string, batch *OzoneBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (site, site_id, timestamp, ozone, source) VALUES", tableFQN)
	return conn.Do(ctx, ch.Query{
		Body:  query,
		Input: batch.Input(),
	})
}
