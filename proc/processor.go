package proc

import (
	"context"
	"fmt"
	"os"

	"invoiceapi/classify"
	"invoiceapi/coaxlsx"
	"invoiceapi/domain"
	"invoiceapi/pdftext"
	"invoiceapi/storagearea"
)

// Processor is the single adapter contract for invoice matching. The
// orchestrator never sees how matching happens; any implementation
// (in-process model call, legacy script, remote service) is interchangeable.
type Processor interface {
	Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error)
}

// ClaudeProcessor runs the pipeline in-process: invoice text extraction,
// COA structure analysis, model classification, workbook append.
type ClaudeProcessor struct {
	area      *storagearea.Area
	extractor *pdftext.Extractor
	client    *classify.Client
}

func NewClaudeProcessor(area *storagearea.Area, extractor *pdftext.Extractor, client *classify.Client) *ClaudeProcessor {
	return &ClaudeProcessor{area: area, extractor: extractor, client: client}
}

func (p *ClaudeProcessor) Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	invoiceText, err := p.extractor.Extract(ctx, req.InvoicePath)
	if err != nil {
		return nil, fmt.Errorf("extract invoice text: %w", err)
	}

	// Legacy .xls (or mislabeled OLE2) uploads must be converted before
	// excelize can open them.
	coaPath, convertedCOA, err := coaxlsx.ConvertLegacyIfNeeded(ctx, req.COAPath)
	if err != nil {
		return nil, err
	}
	if convertedCOA {
		// The converted copy is ours, not part of the caller's upload set.
		defer func() { _ = os.Remove(coaPath) }()
	}

	table, sheet, err := coaxlsx.ReadSheet(coaPath, req.SheetName)
	if err != nil {
		return nil, err
	}
	structure := coaxlsx.AnalyzeStructure(table)

	row, err := p.client.Classify(ctx, table, structure, invoiceText)
	if err != nil {
		return nil, err
	}

	// Append either to the uploaded COA or, when combining, to a previously
	// produced workbook (already confined to the processed directory).
	srcPath := coaPath
	appendSheet := sheet
	if req.CombineInvoices && req.ExistingFilePath != "" {
		srcPath = req.ExistingFilePath
		appendSheet = req.SheetName
	}

	outName := "updated_chart_" + p.area.AllocateName("chart.xlsx")
	outPath, err := p.area.ResolveProcessed(outName)
	if err != nil {
		return nil, err
	}
	if err := coaxlsx.AppendRow(srcPath, appendSheet, row, structure.Columns, p.area.TempDir, outPath); err != nil {
		return nil, err
	}

	return &domain.ProcessResult{
		OutputFile: outName,
		OutputPath: outPath,
		Message:    "Invoice processed successfully",
	}, nil
}
