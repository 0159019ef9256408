package ingest

import (
	"strings"

	"silo-data/internal/domain"
)

// metricKind is the sensor metric a column carries.
type metricKind int

const (
	metricTemperature metricKind = iota
	metricHumidity
)

// columnBinding ties one header column to a silo and a metric.
// Produced once per stream by scanHeader, so row processing never has to
// re-parse column names.
type columnBinding struct {
	SiloCode string
	Metric   metricKind
	Index    int
}

// headerLayout is the result of scanning one header row.
type headerLayout struct {
	timestampIndex int
	bindings       []columnBinding
}

// scanHeader locates the timestamp column and every sensor column matching
// the <prefix>_<siloCode>_<metricTag> pattern. Columns that do not match are
// ignored; a match with an empty silo code is skipped silently.
func scanHeader(header []string, timestampColumn string) (*headerLayout, error) {
	layout := &headerLayout{timestampIndex: -1}

	for i, name := range header {
		trimmed := strings.TrimSpace(name)
		if strings.EqualFold(trimmed, timestampColumn) {
			if layout.timestampIndex == -1 {
				layout.timestampIndex = i
			}
			continue
		}
		if binding, ok := parseBinding(trimmed, i); ok {
			layout.bindings = append(layout.bindings, binding)
		}
	}

	if layout.timestampIndex == -1 {
		return nil, domain.NewValidationError("header", "timestamp column "+timestampColumn+" not found")
	}

	return layout, nil
}

// parseBinding parses one column name of the form <prefix>_<siloCode>_<tag>.
// The silo code may itself contain underscores; the first segment is the
// prefix and the last is the metric tag.
func parseBinding(name string, index int) (columnBinding, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return columnBinding{}, false
	}

	var metric metricKind
	switch strings.ToLower(parts[len(parts)-1]) {
	case "temp", "temperature":
		metric = metricTemperature
	case "hum", "humidity":
		metric = metricHumidity
	default:
		return columnBinding{}, false
	}

	code := strings.Join(parts[1:len(parts)-1], "_")
	if code == "" {
		return columnBinding{}, false
	}

	return columnBinding{SiloCode: code, Metric: metric, Index: index}, true
}

// siloCells groups the raw temperature/humidity cells of one silo for one
// row. A silo with only one of the two columns keeps the other cell empty,
// which the classifier treats as a gap.
type siloCells struct {
	SiloCode string
	TempRaw  string
	HumRaw   string
}

// groupRow collects the row's cells per silo, in order of first appearance
// in the header. Cells beyond the end of a short record read as empty.
func (l *headerLayout) groupRow(record []string) []siloCells {
	byCode := make(map[string]int, len(l.bindings))
	var groups []siloCells

	for _, b := range l.bindings {
		idx, ok := byCode[b.SiloCode]
		if !ok {
			groups = append(groups, siloCells{SiloCode: b.SiloCode})
			idx = len(groups) - 1
			byCode[b.SiloCode] = idx
		}

		var cell string
		if b.Index < len(record) {
			cell = record[b.Index]
		}

		switch b.Metric {
		case metricTemperature:
			groups[idx].TempRaw = cell
		case metricHumidity:
			groups[idx].HumRaw = cell
		}
	}

	return groups
}
