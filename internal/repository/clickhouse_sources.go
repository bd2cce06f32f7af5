package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"BrentBreaks/internal/domain/models"
	pkgch "BrentBreaks/pkg/clickhouse"
	xlogger "BrentBreaks/pkg/logger"
)

// insertChunk is the row count of one multi-row INSERT.
const insertChunk = 2000

// ClickHouseSchema returns the DDL for the price and event tables.
func ClickHouseSchema(priceTable, eventTable string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            date Date,
            price Float64,
            source LowCardinality(String) DEFAULT '',
            ingested_at DateTime DEFAULT now()
        ) ENGINE = ReplacingMergeTree(ingested_at)
        ORDER BY date`, priceTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id String,
            name String,
            date Date,
            type LowCardinality(String),
            severity LowCardinality(String),
            region String DEFAULT ''
        ) ENGINE = ReplacingMergeTree
        ORDER BY (date, id)`, eventTable),
	}
}

// CHPriceSource reads and writes the daily price table.
type CHPriceSource struct {
	db    *sql.DB
	table string
	l     *xlogger.Logger
}

func NewCHPriceSource(ch *pkgch.Client, table string, l *xlogger.Logger) *CHPriceSource {
	if l == nil {
		l = xlogger.Nop()
	}
	return &CHPriceSource{db: ch.DB(), table: table, l: l}
}

// DateLayouts reports the layout of the dates this source renders.
func (s *CHPriceSource) DateLayouts() []string { return []string{catalogLayout} }

func (s *CHPriceSource) Prices(ctx context.Context, start, end time.Time) ([]models.RawRecord, error) {
	begin := time.Now()
	q, args := priceQuery(s.table, start, end)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse prices query error", xlogger.String("table", s.table), xlogger.Error(err))
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.RawRecord, 0, 4096)
	for rows.Next() {
		var rec models.RawRecord
		if err := rows.Scan(&rec.Date, &rec.Price); err != nil {
			s.l.Error("clickhouse prices scan error", xlogger.String("table", s.table), xlogger.Error(err))
			return nil, fmt.Errorf("scan price: %w", err)
		}
		rec.Line = len(out) + 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse prices rows error", xlogger.String("table", s.table), xlogger.Error(err))
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Info("clickhouse prices ok",
		xlogger.String("table", s.table),
		xlogger.Int("rows", len(out)),
		xlogger.Duration("duration_ms", time.Since(begin)))
	return out, nil
}

// StoreBatch upserts validated points; the table keeps the latest ingest per date.
func (s *CHPriceSource) StoreBatch(ctx context.Context, points []models.PricePoint, source string) error {
	for lo := 0; lo < len(points); lo += insertChunk {
		hi := min(lo+insertChunk, len(points))
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*3)
		for _, p := range points[lo:hi] {
			values = append(values, "(?, ?, ?)")
			args = append(args, p.Date, p.Price, source)
		}
		q := fmt.Sprintf("INSERT INTO %s (date, price, source) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse prices insert error",
				xlogger.String("table", s.table),
				xlogger.Int("offset", lo),
				xlogger.Error(err))
			return fmt.Errorf("insert prices: %w", err)
		}
	}
	s.l.Info("clickhouse prices stored", xlogger.String("table", s.table), xlogger.Int("rows", len(points)))
	return nil
}

func priceQuery(table string, start, end time.Time) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if !start.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, start)
	}
	if !end.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, end)
	}
	q := fmt.Sprintf("SELECT toString(date), toString(price) FROM %s FINAL", table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return q + " ORDER BY date ASC", args
}

// CHEventSource reads and writes the event catalog table.
type CHEventSource struct {
	db    *sql.DB
	table string
	l     *xlogger.Logger
}

func NewCHEventSource(ch *pkgch.Client, table string, l *xlogger.Logger) *CHEventSource {
	if l == nil {
		l = xlogger.Nop()
	}
	return &CHEventSource{db: ch.DB(), table: table, l: l}
}

func (s *CHEventSource) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	q, args := eventQuery(s.table, filter)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse events query error", xlogger.String("table", s.table), xlogger.Error(err))
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []catalogEntry
	for rows.Next() {
		var e catalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Date, &e.Type, &e.Severity, &e.Region); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// Type mapping happens after the scan, so the type filter is applied here.
	return buildCatalog(entries, filter)
}

func (s *CHEventSource) StoreBatch(ctx context.Context, events []models.Event) error {
	for lo := 0; lo < len(events); lo += insertChunk {
		hi := min(lo+insertChunk, len(events))
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*6)
		for _, e := range events[lo:hi] {
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args, e.ID, e.Name, e.Date, string(e.Type), string(e.Severity), e.Region)
		}
		q := fmt.Sprintf("INSERT INTO %s (id, name, date, type, severity, region) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse events insert error", xlogger.String("table", s.table), xlogger.Error(err))
			return fmt.Errorf("insert events: %w", err)
		}
	}
	return nil
}

func eventQuery(table string, filter models.EventFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if !filter.Start.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, filter.End)
	}
	q := fmt.Sprintf("SELECT id, name, toString(date), type, severity, region FROM %s FINAL", table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return q + " ORDER BY date ASC, id ASC", args
}
