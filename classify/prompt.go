package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"invoiceapi/coaxlsx"
)

const previewRows = 5

// BuildPrompt assembles the user prompt: invoice text, a preview of the COA
// sheet, per-column format requirements derived from the analyzed structure,
// and the allowed values for hierarchy columns.
func BuildPrompt(table *coaxlsx.Table, structure *coaxlsx.Structure, invoiceText string) string {
	var reqs []string
	for _, col := range structure.Columns {
		p, ok := structure.Patterns[col]
		if !ok {
			continue
		}
		switch p.Type {
		case coaxlsx.PatternCode:
			reqs = append(reqs, fmt.Sprintf("- %s: Must follow pattern %s", col, p.Example))
		case coaxlsx.Pattern2Digit, coaxlsx.Pattern4Digit:
			reqs = append(reqs, fmt.Sprintf("- %s: Must be a %s number (e.g., %s)", col, p.Type, p.Example))
		case coaxlsx.PatternDecimal:
			reqs = append(reqs, fmt.Sprintf("- %s: Must be a decimal number (e.g., %s)", col, p.Example))
		case coaxlsx.PatternText:
			reqs = append(reqs, fmt.Sprintf("- %s: Text field, example value: %s", col, p.Example))
		}
	}

	if len(structure.Hierarchy) > 0 {
		reqs = append(reqs, "", "Code Hierarchy Requirements:")
		for _, col := range structure.Columns {
			if _, ok := structure.Hierarchy[col]; !ok {
				continue
			}
			values := columnValues(table, col)
			if len(values) > 0 {
				reqs = append(reqs, fmt.Sprintf("- %s: Must be one of: %s", col, strings.Join(values, ", ")))
			}
		}
	}

	if len(structure.Relationships) > 0 {
		reqs = append(reqs, "", "Column Relationship Requirements:")
		for _, col := range structure.Columns {
			if named, ok := structure.Relationships[col]; ok {
				reqs = append(reqs, fmt.Sprintf("- %s: Values should be derived from %s", col, named))
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("You are an AI accountant. Analyze this invoice and provide a complete financial classification.\n")
	sb.WriteString("The classification must include ALL columns from the Chart of Accounts, with proper formatting for each.\n\n")
	sb.WriteString("**Invoice Text:**\n")
	sb.WriteString(invoiceText)
	sb.WriteString("\n\n**Chart of Accounts columns:**\n")
	sb.WriteString(strings.Join(structure.Columns, " | "))
	sb.WriteString("\n\n**Required Column Formats:**\n")
	sb.WriteString(strings.Join(reqs, "\n"))
	sb.WriteString("\n\n**Example Rows from Chart of Accounts:**\n")
	sb.WriteString(exampleRowsJSON(table, structure.Columns))
	sb.WriteString("\n\n**Special Instructions:**\n")
	sb.WriteString(`1. Analyze the example rows to understand the structure and patterns
2. For code columns, follow the exact pattern shown in the examples
3. For numeric columns, use the correct number of digits as specified
4. For text columns, use appropriate values based on the invoice content
5. For unnamed columns, derive values from their related named columns
6. Ensure all columns are filled with appropriate values
7. Maintain the hierarchy of codes as shown in the examples

Provide the classification in JSON format with ALL columns from the example rows.`)
	return sb.String()
}

func exampleRowsJSON(table *coaxlsx.Table, columns []string) string {
	n := previewRows
	if len(table.Rows) < n {
		n = len(table.Rows)
	}
	examples := make([]map[string]string, 0, n)
	for _, row := range table.Rows[:n] {
		m := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				m[col] = row[i]
			} else {
				m[col] = ""
			}
		}
		examples = append(examples, m)
	}
	data, err := json.MarshalIndent(examples, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func columnValues(table *coaxlsx.Table, col string) []string {
	idx := -1
	for i, h := range table.Headers {
		if h == col {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, row := range table.Rows {
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
