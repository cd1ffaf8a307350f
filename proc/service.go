package proc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"invoiceapi/coaxlsx"
	"invoiceapi/domain"
	"invoiceapi/obs"
	"invoiceapi/pdftext"
	"invoiceapi/storagearea"
)

// allowed upload extensions per role
var (
	excelExts = map[string]bool{".xlsx": true, ".xls": true, ".xlsm": true}
	pdfExts   = map[string]bool{".pdf": true}
)

type Service struct {
	area      *storagearea.Area
	processor Processor
	procName  string
	inflight  chan struct{}
}

func NewService(area *storagearea.Area, processor Processor, procName string) *Service {
	maxInflight := readEnvIntDefault("PROCESS_MAX_INFLIGHT", 4)
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &Service{
		area:      area,
		processor: processor,
		procName:  procName,
		inflight:  make(chan struct{}, maxInflight),
	}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/process-invoice", s.handleProcessInvoice)
	mux.HandleFunc("/api/get-sheets", s.handleGetSheets)
	mux.HandleFunc("/api/download-file", s.handleDownload)
	mux.HandleFunc("/api/download-file/", s.handleDownload)
}

// handleHealth is a pure liveness probe: no storage or adapter access.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"message":   "invoice api is running",
	})
}

func (s *Service) handleProcessInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Stream multipart to disk to reduce memory usage (avoid
	// ParseMultipartForm buffering).
	maxUploadMB := readEnvIntDefault("MAX_UPLOAD_MB", 16)
	if maxUploadMB <= 0 {
		maxUploadMB = 16
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxUploadMB)<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var (
		saved            []string
		coaPath          string
		coaName          string
		invoicePath      string
		invoiceName      string
		sheetName        string
		combineInvoices  bool
		existingFileName string
	)
	// Validation failures must not leave partial uploads behind.
	cleanup := func() {
		for _, p := range saved {
			_ = os.Remove(p)
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, "invalid multipart stream")
			return
		}
		if part == nil {
			continue
		}
		field := strings.TrimSpace(part.FormName())
		switch field {
		case "coaFile", "invoiceFile":
			originalName := filepath.Base(part.FileName())
			ext := strings.ToLower(filepath.Ext(originalName))
			if field == "coaFile" && !excelExts[ext] {
				_ = part.Close()
				cleanup()
				writeError(w, http.StatusBadRequest, "coaFile must be an Excel file (.xlsx, .xls or .xlsm)")
				return
			}
			if field == "invoiceFile" && !pdfExts[ext] {
				_ = part.Close()
				cleanup()
				writeError(w, http.StatusBadRequest, "invoiceFile must be a PDF document")
				return
			}
			name := s.area.AllocateName(originalName)
			dst, err := s.area.SaveUpload(s.area.UploadDir, name, part)
			_ = part.Close()
			if err != nil {
				cleanup()
				writeError(w, http.StatusInternalServerError, "failed to save "+field)
				return
			}
			saved = append(saved, dst)
			if field == "coaFile" {
				coaPath, coaName = dst, originalName
			} else {
				invoicePath, invoiceName = dst, originalName
			}
		case "sheetName":
			sheetName = readFormValue(part)
		case "combineInvoices":
			combineInvoices = strings.EqualFold(readFormValue(part), "true")
		case "existingFilePath":
			existingFileName = readFormValue(part)
		default:
			// Drain unknown parts to keep parser healthy.
			_, _ = io.Copy(io.Discard, part)
			_ = part.Close()
		}
	}

	if coaPath == "" || invoicePath == "" {
		cleanup()
		writeError(w, http.StatusBadRequest, "both coaFile and invoiceFile are required")
		return
	}

	existingPath := ""
	if existingFileName != "" {
		p, err := s.area.ResolveProcessed(filepath.Base(existingFileName))
		if err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, "existingFilePath is not a valid processed file name")
			return
		}
		if _, err := os.Stat(p); err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, "existingFilePath does not name an existing processed file")
			return
		}
		existingPath = p
	}

	req := domain.ProcessRequest{
		COAPath:          coaPath,
		InvoicePath:      invoicePath,
		COAName:          coaName,
		InvoiceName:      invoiceName,
		SheetName:        sheetName,
		CombineInvoices:  combineInvoices,
		ExistingFilePath: existingPath,
	}

	// Backpressure: bound concurrent adapter runs per pod. The adapter call
	// itself may take tens of seconds; no shared lock is held meanwhile.
	s.acquireInflight()
	defer s.releaseInflight()

	start := time.Now()
	result, err := s.processor.Process(r.Context(), req)
	obs.RecordProcessorJob(s.procName, start, err)
	// Inputs are scratch either way; the janitor would get them eventually.
	cleanup()

	if err != nil {
		slog.Error("invoice processing failed", "processor", s.procName, "err", err)
		var sre *coaxlsx.SheetReadError
		if errors.As(err, &sre) || errors.Is(err, pdftext.ErrNotPDF) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("invoice processed",
		"processor", s.procName,
		"outputFile", result.OutputFile,
		"tookMs", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"outputFile":  result.OutputFile,
		"downloadUrl": "/api/download-file/" + result.OutputFile,
		"message":     result.Message,
	})
}

func (s *Service) handleGetSheets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	maxUploadMB := readEnvIntDefault("MAX_UPLOAD_MB", 16)
	if maxUploadMB <= 0 {
		maxUploadMB = 16
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxUploadMB)<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	tmpPath := ""
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart stream")
			return
		}
		field := strings.TrimSpace(part.FormName())
		if field != "file" && field != "coaFile" {
			_, _ = io.Copy(io.Discard, part)
			_ = part.Close()
			continue
		}
		originalName := filepath.Base(part.FileName())
		if !excelExts[strings.ToLower(filepath.Ext(originalName))] {
			_ = part.Close()
			writeError(w, http.StatusBadRequest, "file must be an Excel file (.xlsx, .xls or .xlsm)")
			return
		}
		name := s.area.AllocateName(originalName)
		dst, err := s.area.SaveUpload(s.area.TempDir, name, part)
		_ = part.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save file")
			return
		}
		tmpPath = dst
		break
	}
	if tmpPath == "" {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer func() { _ = os.Remove(tmpPath) }()

	converted, _, err := coaxlsx.ConvertLegacyIfNeeded(r.Context(), tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read workbook: "+err.Error())
		return
	}
	tmpPath = converted

	sheets, err := coaxlsx.ListSheetNames(tmpPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read sheet names: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sheets": sheets})
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// /api/download-file/{filename} with ?filename= fallback
	filename := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/download-file"), "/")
	if q := strings.TrimSpace(r.URL.Query().Get("filename")); q != "" {
		filename = q
	}
	if filename == "" {
		writeError(w, http.StatusBadRequest, "no filename provided")
		return
	}

	path, err := s.area.ResolveProcessed(filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found: "+filename)
		return
	}

	w.Header().Set("Content-Type", contentTypeByName(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

func contentTypeByName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// readFormValue reads one small text form field.
func readFormValue(part io.ReadCloser) string {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Service) acquireInflight() {
	if s.inflight == nil {
		return
	}
	s.inflight <- struct{}{}
}

func (s *Service) releaseInflight() {
	if s.inflight == nil {
		return
	}
	select {
	case <-s.inflight:
	default:
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readEnvIntDefault(key string, defaultVal int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
