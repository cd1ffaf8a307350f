package classify

import (
	"fmt"
	"strconv"
	"strings"

	"invoiceapi/coaxlsx"
)

// FormatValue coerces a model-produced value into the column's observed
// format: zero-padded fixed-width codes, one-decimal numbers. Values the
// coercion cannot parse pass through unchanged rather than failing the
// whole classification.
func FormatValue(p coaxlsx.ColumnPattern, value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return v
	}
	switch p.Type {
	case coaxlsx.Pattern2Digit:
		if n, ok := parseIntLoose(v); ok {
			return fmt.Sprintf("%02d", n)
		}
	case coaxlsx.Pattern4Digit:
		if n, ok := parseIntLoose(v); ok {
			return fmt.Sprintf("%04d", n)
		}
	case coaxlsx.PatternDecimal:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return fmt.Sprintf("%.1f", f)
		}
	}
	return value
}

func parseIntLoose(v string) (int, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f), true
	}
	return 0, false
}
