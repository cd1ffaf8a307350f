package coaxlsx

import (
	"sort"
	"strings"
)

// PatternType classifies the values observed in one COA column.
type PatternType string

const (
	PatternCode    PatternType = "code"
	Pattern2Digit  PatternType = "2-digit"
	Pattern4Digit  PatternType = "4-digit"
	PatternDecimal PatternType = "decimal"
	PatternText    PatternType = "text"
)

type ColumnPattern struct {
	Type    PatternType
	Example string
}

// Structure is the shape of a chart of accounts as the classifier needs it:
// which columns exist, what format each expects, which code columns form a
// hierarchy and which unnamed columns mirror a named one.
type Structure struct {
	Columns []string
	// Patterns by column; columns that are entirely empty have no entry.
	Patterns map[string]ColumnPattern
	// Hierarchy: code column -> number of dash-separated parts.
	Hierarchy map[string]int
	// Relationships: unnamed column -> named column its values derive from.
	Relationships map[string]string
}

// AnalyzeStructure inspects column contents to recover the format rules the
// classification prompt must state: dash-separated account codes, fixed-width
// numeric codes, decimals and free text.
func AnalyzeStructure(t *Table) *Structure {
	s := &Structure{
		Columns:       append([]string(nil), t.Headers...),
		Patterns:      make(map[string]ColumnPattern),
		Hierarchy:     make(map[string]int),
		Relationships: make(map[string]string),
	}

	uniques := make(map[string][]string, len(t.Headers))
	for i, col := range t.Headers {
		uniques[col] = uniqueColumnValues(t, i)
	}

	for _, col := range t.Headers {
		vals := uniques[col]
		if len(vals) == 0 {
			continue
		}
		switch {
		case anyContainsDash(vals):
			s.Patterns[col] = ColumnPattern{Type: PatternCode, Example: vals[0]}
			if parts := strings.Split(vals[0], "-"); len(parts) > 1 {
				s.Hierarchy[col] = len(parts)
			}
		case allDigitsOfLen(vals, 2):
			s.Patterns[col] = ColumnPattern{Type: Pattern2Digit, Example: vals[0]}
		case allDigitsOfLen(vals, 4):
			s.Patterns[col] = ColumnPattern{Type: Pattern4Digit, Example: vals[0]}
		case allNumeric(vals) && anyContainsDot(vals):
			s.Patterns[col] = ColumnPattern{Type: PatternDecimal, Example: vals[0]}
		default:
			s.Patterns[col] = ColumnPattern{Type: PatternText, Example: vals[0]}
		}
	}

	// Unnamed columns (blank headers normalized to "Unnamed: N") usually
	// repeat fragments of a named column; record the first named column
	// whose values appear inside the unnamed one.
	for _, col := range t.Headers {
		if !strings.Contains(col, "Unnamed:") {
			continue
		}
		unnamedVals := uniques[col]
		if len(unnamedVals) == 0 {
			continue
		}
		for _, named := range t.Headers {
			if strings.Contains(named, "Unnamed:") || len(uniques[named]) == 0 {
				continue
			}
			if valuesDerivedFrom(unnamedVals, uniques[named]) {
				s.Relationships[col] = named
				break
			}
		}
	}

	return s
}

// CodeColumns returns code-typed columns, deepest hierarchy first.
func (s *Structure) CodeColumns() []string {
	var cols []string
	for col, p := range s.Patterns {
		if p.Type == PatternCode {
			cols = append(cols, col)
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		hi, hj := s.Hierarchy[cols[i]], s.Hierarchy[cols[j]]
		if hi != hj {
			return hi > hj
		}
		return cols[i] < cols[j]
	})
	return cols
}

func uniqueColumnValues(t *Table, idx int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[idx])
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func anyContainsDash(vals []string) bool {
	for _, v := range vals {
		if strings.Contains(v, "-") {
			return true
		}
	}
	return false
}

func anyContainsDot(vals []string) bool {
	for _, v := range vals {
		if strings.Contains(v, ".") {
			return true
		}
	}
	return false
}

func allDigitsOfLen(vals []string, n int) bool {
	for _, v := range vals {
		if len(v) != n || !isDigits(v) {
			return false
		}
	}
	return true
}

func allNumeric(vals []string) bool {
	for _, v := range vals {
		dots := 0
		for _, r := range v {
			if r == '.' {
				dots++
				continue
			}
			if r < '0' || r > '9' {
				return false
			}
		}
		if dots > 1 || v == "." {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func valuesDerivedFrom(unnamed, named []string) bool {
	for _, nv := range named {
		for _, uv := range unnamed {
			if strings.Contains(uv, nv) {
				return true
			}
		}
	}
	return false
}
