// Package pdftext extracts plain text from invoice PDFs by delegating to an
// external pdftotext-compatible tool, the same way the rest of the pipeline
// delegates format conversion work to tools that already do it well.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNotPDF marks uploads whose content is not a PDF regardless of their
// extension; the HTTP layer maps it to a client error.
var ErrNotPDF = errors.New("file is not a PDF document")

type Extractor struct {
	bin     string
	timeout time.Duration
}

// NewExtractorFromEnv reads PDFTOTEXT_BIN (default "pdftotext") and
// PDFTOTEXT_TIMEOUT_SECONDS (default 30).
func NewExtractorFromEnv() *Extractor {
	bin := strings.TrimSpace(os.Getenv("PDFTOTEXT_BIN"))
	if bin == "" {
		bin = "pdftotext"
	}
	timeoutSec := 30
	if raw := strings.TrimSpace(os.Getenv("PDFTOTEXT_TIMEOUT_SECONDS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			timeoutSec = n
		}
	}
	return &Extractor{bin: bin, timeout: time.Duration(timeoutSec) * time.Second}
}

// Extract returns the text content of the PDF at pdfPath. The file header is
// sniffed first so a mislabeled upload fails with a clear message instead of
// a tool error.
func (e *Extractor) Extract(ctx context.Context, pdfPath string) (string, error) {
	if strings.TrimSpace(pdfPath) == "" {
		return "", errors.New("pdf path is empty")
	}
	if err := sniffPDFHeader(pdfPath); err != nil {
		return "", err
	}
	if _, err := exec.LookPath(e.bin); err != nil {
		return "", fmt.Errorf("pdf extraction tool %q not found", e.bin)
	}

	outPath := filepath.Join(filepath.Dir(pdfPath), filepath.Base(pdfPath)+".txt")
	defer func() { _ = os.Remove(outPath) }()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.bin, "-layout", pdfPath, outPath)
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("pdf extraction timed out after %s", e.timeout)
	}
	if runErr != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = runErr.Error()
		}
		return "", fmt.Errorf("pdf extraction failed: %s", msg)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("pdf extraction produced no output: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("pdf contains no extractable text")
	}
	return text, nil
}

func sniffPDFHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var hdr [5]byte
	n, _ := f.Read(hdr[:])
	if n < 5 || string(hdr[:]) != "%PDF-" {
		return ErrNotPDF
	}
	return nil
}
