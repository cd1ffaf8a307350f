package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"invoiceapi/domain"
	"invoiceapi/storagearea"
)

// ScriptProcessor keeps the legacy path alive: it runs the original Python
// matching script as a subprocess and collects the workbook it reports
// having written. Selected with PROCESSOR_MODE=script.
type ScriptProcessor struct {
	area    *storagearea.Area
	python  string
	script  string
	timeout time.Duration
}

func NewScriptProcessorFromEnv(area *storagearea.Area) *ScriptProcessor {
	python := strings.TrimSpace(os.Getenv("PYTHON_BIN"))
	if python == "" {
		python = "python3"
	}
	script := strings.TrimSpace(os.Getenv("INVOICE_SCRIPT"))
	if script == "" {
		script = "./perfect4.py"
	}
	timeoutSec := 300
	if raw := strings.TrimSpace(os.Getenv("PROCESS_TIMEOUT_SECONDS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			timeoutSec = n
		}
	}
	return &ScriptProcessor{
		area:    area,
		python:  python,
		script:  script,
		timeout: time.Duration(timeoutSec) * time.Second,
	}
}

func (p *ScriptProcessor) Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	if _, err := os.Stat(p.script); err != nil {
		return nil, fmt.Errorf("processing script %s not found", p.script)
	}

	args := []string{p.script, req.COAPath, req.InvoicePath}
	if req.SheetName != "" {
		args = append(args, req.SheetName)
	}
	if req.CombineInvoices && req.ExistingFilePath != "" {
		args = append(args, req.ExistingFilePath)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, p.python, args...)
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("script execution timed out after %s", p.timeout)
	}
	if runErr != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, fmt.Errorf("script execution failed: %s", msg)
	}

	reported := parseReportedPath(string(out))
	if reported == "" {
		return nil, errors.New("could not determine output file path from script output")
	}
	if _, err := os.Stat(reported); err != nil {
		return nil, fmt.Errorf("script reported output %s but it does not exist", reported)
	}

	// Copy the script's output into the processed directory under a name we
	// allocated; the script's own path is outside the download root.
	outName := "updated_chart_" + p.area.AllocateName(reported)
	outPath, err := p.area.ResolveProcessed(outName)
	if err != nil {
		return nil, err
	}
	if err := copyFile(reported, outPath); err != nil {
		_ = os.Remove(outPath)
		return nil, fmt.Errorf("store script output: %w", err)
	}

	return &domain.ProcessResult{
		OutputFile: outName,
		OutputPath: outPath,
		Message:    "Invoice processed successfully",
	}, nil
}

var xlsxPathRe = regexp.MustCompile(`[^\s"']+\.xlsx`)

// parseReportedPath scrapes the output path from the script's stdout. The
// script prints a "Saved to: <path>" line; older revisions varied the
// casing, and as a last resort any .xlsx path in the output is taken.
func parseReportedPath(output string) string {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "saved to:") || strings.Contains(lower, "saved at:") {
			idx := strings.LastIndex(lower, "to:")
			if idx < 0 {
				idx = strings.LastIndex(lower, "at:")
			}
			if idx >= 0 && idx+3 < len(line) {
				if path := strings.TrimSpace(line[idx+3:]); path != "" {
					return path
				}
			}
		}
	}
	return xlsxPathRe.FindString(output)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
