package coaxlsx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"invoiceapi/domain"
)

// AppendRow copies the workbook at srcPath, appends one classified row to
// the chosen sheet and publishes the result at outPath. The workbook is
// staged under tmpDir and renamed into place, so a failure never leaves a
// half-written file discoverable at outPath.
func AppendRow(srcPath, sheetName string, row domain.Classification, columns []string, tmpDir, outPath string) error {
	f, err := excelize.OpenFile(srcPath)
	if err != nil {
		return &SheetReadError{Path: srcPath, Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &SheetReadError{Path: srcPath, Err: fmt.Errorf("workbook has no sheets")}
	}
	sheet := strings.TrimSpace(sheetName)
	if sheet == "" {
		sheet = sheets[0]
	} else if !containsSheet(sheets, sheet) {
		return &SheetReadError{Path: srcPath, Err: fmt.Errorf("sheet %q not found", sheet)}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return &SheetReadError{Path: srcPath, Err: err}
	}
	target := len(rows) + 1

	for i, col := range columns {
		axis, err := excelize.CoordinatesToCellName(i+1, target)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, axis, row[col]); err != nil {
			return err
		}
	}

	stage := filepath.Join(tmpDir, ".staging_"+filepath.Base(outPath))
	if err := f.SaveAs(stage); err != nil {
		_ = os.Remove(stage)
		return fmt.Errorf("stage output workbook: %w", err)
	}
	if err := publish(stage, outPath); err != nil {
		_ = os.Remove(stage)
		return err
	}
	return nil
}

// publish moves the staged file into the processed directory atomically
// where the filesystem allows, falling back to copy+delete across devices.
func publish(stage, outPath string) error {
	if err := os.Rename(stage, outPath); err == nil {
		return nil
	}
	src, err := os.Open(stage)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(outPath)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(outPath)
		return err
	}
	return os.Remove(stage)
}
