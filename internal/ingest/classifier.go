package ingest

import (
	"math"
	"strconv"
	"strings"
)

// Realistic band for sensor values. Anything outside is treated as a sensor
// error (covers vendor sentinel values such as 9999). The same band applies
// to temperature and humidity.
const (
	minRealisticValue = -100
	maxRealisticValue = 1000
)

// CellResult is the outcome of classifying one raw cell.
// A gap (missing value) has Value == nil and IsError == false.
// Raw keeps the trimmed original text for any non-empty cell.
type CellResult struct {
	Value   *float64
	IsError bool
	Raw     *string
}

// ClassifyCell maps one raw cell text to a value, a gap or a sensor error.
// Total and deterministic: every input yields a result, nothing panics.
func ClassifyCell(raw string) CellResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		// gap, not an error
		return CellResult{}
	}

	upper := strings.ToUpper(trimmed)
	if upper == "ERR" || upper == "ERROR" {
		return CellResult{IsError: true, Raw: &trimmed}
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		// non-numeric garbage
		return CellResult{IsError: true, Raw: &trimmed}
	}

	if value < minRealisticValue || value > maxRealisticValue {
		return CellResult{IsError: true, Raw: &trimmed}
	}

	return CellResult{Value: &value, Raw: &trimmed}
}
