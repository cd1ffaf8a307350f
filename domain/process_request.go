package domain

// ProcessRequest carries one invoice-processing call through the adapter.
// Paths point into the service's local scratch directories; nothing here
// outlives the HTTP request that created it.
type ProcessRequest struct {
	// Inputs (saved on disk by the orchestrator)
	COAPath     string
	InvoicePath string

	// Original upload filenames (for logging / output naming)
	COAName     string
	InvoiceName string

	// Optional: restrict COA reading to one sheet. Empty = first sheet.
	SheetName string

	// Optional: append the classified row to a previously produced workbook
	// instead of starting from the uploaded COA. ExistingFilePath is already
	// validated to resolve inside the processed directory.
	CombineInvoices  bool
	ExistingFilePath string
}

// ProcessResult is produced by a Processor and consumed once to build the
// HTTP response. OutputFile is the bare filename under the processed
// directory; it is the only handle clients get.
type ProcessResult struct {
	OutputFile string `json:"outputFile"`
	OutputPath string `json:"-"`
	Message    string `json:"message,omitempty"`
}

// Classification is one classified COA row keyed by column header.
type Classification map[string]string
