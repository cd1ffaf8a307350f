package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"invoiceapi/domain"
	"invoiceapi/pdftext"
	"invoiceapi/storagearea"
)

type fakeProcessor struct {
	area *storagearea.Area
	fail bool
	err  error
	got  *domain.ProcessRequest
}

func (f *fakeProcessor) Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	f.got = &req
	if f.err != nil {
		return nil, f.err
	}
	if f.fail {
		return nil, errors.New("model endpoint unreachable")
	}
	name := "updated_chart_" + f.area.AllocateName("chart.xlsx")
	path, err := f.area.ResolveProcessed(name)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("workbook-bytes"), 0o644); err != nil {
		return nil, err
	}
	return &domain.ProcessResult{OutputFile: name, OutputPath: path, Message: "Invoice processed successfully"}, nil
}

func testService(t *testing.T, fail bool) (*Service, *storagearea.Area, *fakeProcessor) {
	t.Helper()
	root := t.TempDir()
	area := storagearea.New(
		filepath.Join(root, "uploads"),
		filepath.Join(root, "temp"),
		filepath.Join(root, "processed"),
	)
	if err := area.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	fp := &fakeProcessor{area: area, fail: fail}
	return NewService(area, fp, "fake"), area, fp
}

func multipartBody(t *testing.T, files map[string][2]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, nameAndContent := range files {
		fw, err := w.CreateFormFile(field, nameAndContent[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(nameAndContent[1])); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func dirEntryCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHealthAlwaysOK(t *testing.T) {
	s, _, _ := testService(t, true) // broken adapter must not matter
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := decodeJSON(t, rec.Body)
	if body["status"] != "healthy" {
		t.Fatalf("body=%v", body)
	}
}

func TestProcessInvoiceMissingFileRejectedWithoutResidue(t *testing.T) {
	s, area, fp := testService(t, false)
	body, ctype := multipartBody(t,
		map[string][2]string{"coaFile": {"coa.xlsx", "coa-bytes"}},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleProcessInvoice(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if msg := decodeJSON(t, rec.Body)["error"]; msg == "" {
		t.Fatalf("expected error message")
	}
	if n := dirEntryCount(t, area.UploadDir); n != 0 {
		t.Fatalf("invalid request left %d files in upload dir", n)
	}
	if fp.got != nil {
		t.Fatalf("adapter must not run on invalid input")
	}
}

func TestProcessInvoiceRejectsWrongExtensions(t *testing.T) {
	s, area, _ := testService(t, false)
	cases := []map[string][2]string{
		{"coaFile": {"coa.txt", "x"}, "invoiceFile": {"inv.pdf", "y"}},
		{"coaFile": {"coa.xlsx", "x"}, "invoiceFile": {"inv.docx", "y"}},
	}
	for _, files := range cases {
		body, ctype := multipartBody(t, files, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		s.handleProcessInvoice(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("files=%v status=%d", files, rec.Code)
		}
	}
	if n := dirEntryCount(t, area.UploadDir); n != 0 {
		t.Fatalf("rejected uploads left %d files behind", n)
	}
}

func TestProcessInvoiceDownloadRoundTrip(t *testing.T) {
	s, area, fp := testService(t, false)
	body, ctype := multipartBody(t,
		map[string][2]string{
			"coaFile":     {"accounts.xlsx", "coa-bytes"},
			"invoiceFile": {"invoice.pdf", "%PDF-1.4 fake"},
		},
		map[string]string{"sheetName": "Q1 Accounts", "combineInvoices": "false"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleProcessInvoice(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec.Body)
	outputFile, _ := resp["outputFile"].(string)
	if outputFile == "" {
		t.Fatalf("missing outputFile in %v", resp)
	}
	if fp.got == nil || fp.got.SheetName != "Q1 Accounts" || fp.got.CombineInvoices {
		t.Fatalf("unexpected adapter request: %+v", fp.got)
	}

	dl := httptest.NewRequest(http.MethodGet, "/api/download-file/"+outputFile, nil)
	dlRec := httptest.NewRecorder()
	s.handleDownload(dlRec, dl)
	if dlRec.Code != http.StatusOK {
		t.Fatalf("download status=%d", dlRec.Code)
	}
	if got := dlRec.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("content type=%q", got)
	}
	if dlRec.Body.Len() == 0 {
		t.Fatalf("downloaded file is empty")
	}

	// Inputs are scratch; the orchestrator removes them after processing.
	if n := dirEntryCount(t, area.UploadDir); n != 0 {
		t.Fatalf("upload dir not cleaned, %d files", n)
	}
}

func TestProcessInvoiceAdapterFailure(t *testing.T) {
	s, area, _ := testService(t, true)
	body, ctype := multipartBody(t,
		map[string][2]string{
			"coaFile":     {"accounts.xlsx", "coa-bytes"},
			"invoiceFile": {"invoice.pdf", "%PDF-1.4 fake"},
		},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleProcessInvoice(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	if msg, _ := decodeJSON(t, rec.Body)["error"].(string); !strings.Contains(msg, "unreachable") {
		t.Fatalf("error=%q", msg)
	}
	if n := dirEntryCount(t, area.ProcessedDir); n != 0 {
		t.Fatalf("failed request left %d files in processed dir", n)
	}
}

func TestProcessInvoiceRejectsBadExistingFilePath(t *testing.T) {
	s, area, fp := testService(t, false)
	body, ctype := multipartBody(t,
		map[string][2]string{
			"coaFile":     {"accounts.xlsx", "coa-bytes"},
			"invoiceFile": {"invoice.pdf", "%PDF-1.4 fake"},
		},
		map[string]string{"combineInvoices": "true", "existingFilePath": "nope.xlsx"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleProcessInvoice(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if fp.got != nil {
		t.Fatalf("adapter must not run when existingFilePath is invalid")
	}
	if n := dirEntryCount(t, area.UploadDir); n != 0 {
		t.Fatalf("rejected request left %d files behind", n)
	}
}

func TestProcessInvoiceCombineWithExistingFile(t *testing.T) {
	s, area, fp := testService(t, false)
	existing := filepath.Join(area.ProcessedDir, "previous.xlsx")
	if err := os.WriteFile(existing, []byte("earlier-output"), 0o644); err != nil {
		t.Fatal(err)
	}
	body, ctype := multipartBody(t,
		map[string][2]string{
			"coaFile":     {"accounts.xlsx", "coa-bytes"},
			"invoiceFile": {"invoice.pdf", "%PDF-1.4 fake"},
		},
		map[string]string{"combineInvoices": "true", "existingFilePath": "previous.xlsx"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleProcessInvoice(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if fp.got == nil || !fp.got.CombineInvoices || fp.got.ExistingFilePath != existing {
		t.Fatalf("unexpected adapter request: %+v", fp.got)
	}
}

func TestGetSheetsRoundTrip(t *testing.T) {
	s, area, _ := testService(t, false)

	f := excelize.NewFile()
	def := f.GetSheetName(0)
	_ = f.SetSheetName(def, "Sheet1")
	if _, err := f.NewSheet("Q1 Accounts"); err != nil {
		t.Fatal(err)
	}
	var wb bytes.Buffer
	if _, err := f.WriteTo(&wb); err != nil {
		t.Fatal(err)
	}

	body, ctype := multipartBody(t,
		map[string][2]string{"file": {"coa.xlsx", wb.String()}},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/get-sheets", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleGetSheets(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec.Body)
	sheets, _ := resp["sheets"].([]any)
	if len(sheets) != 2 || sheets[0] != "Sheet1" || sheets[1] != "Q1 Accounts" {
		t.Fatalf("sheets=%v", sheets)
	}
	if n := dirEntryCount(t, area.TempDir); n != 0 {
		t.Fatalf("temp dir not cleaned, %d files", n)
	}
}

func TestProcessInvoiceNonPDFContentIsClientError(t *testing.T) {
	s, _, fp := testService(t, false)
	fp.err = fmt.Errorf("extract invoice text: %w", pdftext.ErrNotPDF)
	body, ctype := multipartBody(t,
		map[string][2]string{
			"coaFile":     {"accounts.xlsx", "coa-bytes"},
			"invoiceFile": {"invoice.pdf", "this is not a pdf"},
		},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/process-invoice", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleProcessInvoice(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if msg, _ := decodeJSON(t, rec.Body)["error"].(string); !strings.Contains(msg, "not a PDF") {
		t.Fatalf("error=%q", msg)
	}
}

func TestGetSheetsRejectsGet(t *testing.T) {
	s, _, _ := testService(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/get-sheets", nil)
	rec := httptest.NewRecorder()
	s.handleGetSheets(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestGetSheetsRejectsNonExcel(t *testing.T) {
	s, _, _ := testService(t, false)
	body, ctype := multipartBody(t,
		map[string][2]string{"file": {"coa.pdf", "nope"}},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/get-sheets", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.handleGetSheets(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	s, _, _ := testService(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/download-file/nonexistent.xlsx", nil)
	rec := httptest.NewRecorder()
	s.handleDownload(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	s, area, _ := testService(t, false)
	secret := filepath.Join(filepath.Dir(area.ProcessedDir), "secret.txt")
	if err := os.WriteFile(secret, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"../secret.txt", "..%2Fsecret.txt", "..\\secret.txt", ".."} {
		req := httptest.NewRequest(http.MethodGet, "/api/download-file?filename="+name, nil)
		rec := httptest.NewRecorder()
		s.handleDownload(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("filename=%q status=%d", name, rec.Code)
		}
	}
}
