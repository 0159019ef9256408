package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RowReader yields one record per call and io.EOF at stream end.
// *csv.Reader satisfies it directly.
type RowReader interface {
	Read() ([]string, error)
}

// SiloResolver resolves a silo code to its internal key, creating the silo
// on first sight. Resolution must be idempotent under concurrent first-sight
// (the store's unique constraint is the guard).
type SiloResolver interface {
	Resolve(ctx context.Context, code string) (string, error)
}

// ReadingInserter appends one reading if (silo, timestamp) is not present
// yet. A duplicate is a no-op reporting inserted=false, never an error.
type ReadingInserter interface {
	InsertReading(ctx context.Context, siloID string, ts time.Time, temperature, humidity *float64, isError bool, raw *string) (bool, error)
}

// RunStats is the outcome of one ingestion run. It is returned to the
// caller and never persisted.
type RunStats struct {
	RowsProcessed    int      `json:"rows_processed"`
	SilosFound       []string `json:"silos_found"`
	ReadingsInserted int      `json:"readings_inserted"`
	Errors           []string `json:"errors"`
}

// Success reports whether the run completed without row or entry errors.
func (s *RunStats) Success() bool {
	return len(s.Errors) == 0
}

// Accepted timestamp layouts. Naive timestamps are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", trimmed)
}

// Pipeline streams wide-format rows into the reading store: header scan,
// then per row classify cells, resolve silos (auto-provisioning) and insert.
// Best effort: a bad row or a failed entry is recorded in the run stats and
// processing continues; already-inserted readings are never rolled back.
type Pipeline struct {
	silos           SiloResolver
	readings        ReadingInserter
	timestampColumn string
	logger          *zap.Logger
}

func NewPipeline(silos SiloResolver, readings ReadingInserter, timestampColumn string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		silos:           silos,
		readings:        readings,
		timestampColumn: timestampColumn,
		logger:          logger,
	}
}

// rowOutcome is the structured result of processing one data row, folded
// into the final RunStats by Run.
type rowOutcome struct {
	inserted int
	errors   []string
}

// Run consumes the stream in a single sequential pass. Only a stream error
// or context cancellation aborts the call; per-row and per-entry failures
// are aggregated. On abort no stats are returned.
func (p *Pipeline) Run(ctx context.Context, rows RowReader) (*RunStats, error) {
	header, err := rows.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty input: missing header row")
		}
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	layout, err := scanHeader(header, p.timestampColumn)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{}
	observed := make(map[string]struct{})
	// per-run cache: silo code -> internal key
	resolved := make(map[string]string)
	line := 1 // header already consumed

	for {
		record, err := rows.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// malformed row, reader can continue
				stats.RowsProcessed++
				line++
				stats.Errors = append(stats.Errors, fmt.Sprintf("row %d: %v", line, err))
				continue
			}
			return nil, fmt.Errorf("stream error after %d rows: %w", stats.RowsProcessed, err)
		}

		stats.RowsProcessed++
		line++

		outcome := p.processRow(ctx, layout, record, line, observed, resolved)
		stats.ReadingsInserted += outcome.inserted
		stats.Errors = append(stats.Errors, outcome.errors...)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("ingestion aborted: %w", ctx.Err())
		}
	}

	stats.SilosFound = make([]string, 0, len(observed))
	for code := range observed {
		stats.SilosFound = append(stats.SilosFound, code)
	}
	sort.Strings(stats.SilosFound)

	p.logger.Info("ingestion run finished",
		zap.Int("rows_processed", stats.RowsProcessed),
		zap.Int("silos_found", len(stats.SilosFound)),
		zap.Int("readings_inserted", stats.ReadingsInserted),
		zap.Int("errors", len(stats.Errors)),
	)

	return stats, nil
}

func (p *Pipeline) processRow(ctx context.Context, layout *headerLayout, record []string, line int, observed map[string]struct{}, resolved map[string]string) rowOutcome {
	var out rowOutcome

	var tsRaw string
	if layout.timestampIndex < len(record) {
		tsRaw = record[layout.timestampIndex]
	}
	ts, err := parseTimestamp(tsRaw)
	if err != nil {
		// no partial insert for a row without a usable timestamp
		out.errors = append(out.errors, fmt.Sprintf("row %d: %v", line, err))
		return out
	}

	for _, cells := range layout.groupRow(record) {
		// observed even when the insert below dedups or fails
		observed[cells.SiloCode] = struct{}{}

		temp := ClassifyCell(cells.TempRaw)
		hum := ClassifyCell(cells.HumRaw)
		isError := temp.IsError || hum.IsError
		// raw text is persisted only when the entry is anomalous
		var raw *string
		if isError {
			raw = joinRaw(temp.Raw, hum.Raw)
		}

		siloID, ok := resolved[cells.SiloCode]
		if !ok {
			siloID, err = p.silos.Resolve(ctx, cells.SiloCode)
			if err != nil {
				out.errors = append(out.errors, fmt.Sprintf("row %d silo %s: resolve failed: %v", line, cells.SiloCode, err))
				continue
			}
			resolved[cells.SiloCode] = siloID
		}

		inserted, err := p.readings.InsertReading(ctx, siloID, ts, temp.Value, hum.Value, isError, raw)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("row %d silo %s at %s: insert failed: %v",
				line, cells.SiloCode, ts.Format(time.RFC3339), err))
			continue
		}
		if inserted {
			out.inserted++
		}
	}

	return out
}

// joinRaw concatenates whichever preserved texts are present.
func joinRaw(parts ...*string) *string {
	var texts []string
	for _, p := range parts {
		if p != nil {
			texts = append(texts, *p)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	joined := strings.Join(texts, ",")
	return &joined
}
