package coaxlsx

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is one sheet of a chart-of-accounts workbook, headers first row.
type Table struct {
	Headers []string
	Rows    [][]string
}

// SheetReadError wraps workbook-open and sheet-lookup failures so the HTTP
// layer can map them to a client error instead of a server fault.
type SheetReadError struct {
	Path string
	Err  error
}

func (e *SheetReadError) Error() string {
	return fmt.Sprintf("read spreadsheet %s: %v", e.Path, e.Err)
}

func (e *SheetReadError) Unwrap() error { return e.Err }

// ListSheetNames returns the workbook's sheet names in workbook order.
func ListSheetNames(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &SheetReadError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &SheetReadError{Path: path, Err: fmt.Errorf("workbook has no sheets")}
	}
	return sheets, nil
}

// ReadSheet loads one sheet as a Table. An empty sheetName selects the first
// sheet; a named sheet that does not exist is a SheetReadError. Returns the
// sheet actually read alongside the table.
func ReadSheet(path, sheetName string) (*Table, string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", &SheetReadError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", &SheetReadError{Path: path, Err: fmt.Errorf("workbook has no sheets")}
	}
	sheet := strings.TrimSpace(sheetName)
	if sheet == "" {
		sheet = sheets[0]
	} else if !containsSheet(sheets, sheet) {
		return nil, "", &SheetReadError{Path: path, Err: fmt.Errorf("sheet %q not found", sheet)}
	}

	rowsIter, err := f.Rows(sheet)
	if err != nil {
		return nil, "", &SheetReadError{Path: path, Err: err}
	}
	defer func() { _ = rowsIter.Close() }()

	var (
		headers []string
		rows    [][]string
		rowIdx  int
	)
	for rowsIter.Next() {
		rowIdx++
		cols, err := rowsIter.Columns()
		if err != nil {
			return nil, "", &SheetReadError{Path: path, Err: err}
		}
		if rowIdx == 1 {
			headers = normalizeHeaders(cols)
			continue
		}
		if len(headers) == 0 {
			continue
		}
		row := make([]string, len(headers))
		for i := 0; i < len(headers); i++ {
			if i < len(cols) {
				row[i] = cols[i]
			} else {
				row[i] = ""
			}
		}
		rows = append(rows, row)
	}

	return &Table{Headers: headers, Rows: rows}, sheet, nil
}

func containsSheet(sheets []string, name string) bool {
	for _, s := range sheets {
		if s == name {
			return true
		}
	}
	return false
}

func normalizeHeaders(raw []string) []string {
	// pandas behavior: empty header cells become "Unnamed: {i}". The old
	// Python pipeline saw headers this way, and the classification prompt
	// depends on matching column names, so keep it.
	h := make([]string, len(raw))
	for i, v := range raw {
		s := strings.TrimSpace(v)
		if s == "" {
			s = fmt.Sprintf("Unnamed: %d", i)
		}
		h[i] = s
	}
	// dedupe like pandas: append .1 .2 ...
	seen := make(map[string]int, len(h))
	out := make([]string, len(h))
	for i, name := range h {
		if c, ok := seen[name]; ok {
			c++
			seen[name] = c
			out[i] = fmt.Sprintf("%s.%d", name, c)
		} else {
			seen[name] = 0
			out[i] = name
		}
	}
	return out
}
