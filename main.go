package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"invoiceapi/classify"
	"invoiceapi/obs"
	"invoiceapi/pdftext"
	"invoiceapi/proc"
	"invoiceapi/storagearea"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	shutdownObs, logger := obs.Init("invoice-api")
	defer func() { _ = shutdownObs(context.Background()) }()

	area := storagearea.New(
		readEnvDefault("UPLOAD_DIR", "./uploads"),
		readEnvDefault("TEMP_DIR", "./temp"),
		readEnvDefault("PROCESSED_DIR", "./processed"),
	)
	if err := area.EnsureDirectories(); err != nil {
		log.Fatalf("init storage area failed: %v", err)
	}

	var (
		processor proc.Processor
		procName  string
	)
	switch strings.ToLower(readEnvDefault("PROCESSOR_MODE", "claude")) {
	case "script":
		processor = proc.NewScriptProcessorFromEnv(area)
		procName = "script"
	default:
		client, err := classify.NewClientFromEnv()
		if err != nil {
			log.Fatalf("init claude client failed: %v", err)
		}
		processor = proc.NewClaudeProcessor(area, pdftext.NewExtractorFromEnv(), client)
		procName = "claude"
	}
	logger.Info("processor configured", "mode", procName)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	svc := proc.NewService(area, processor, procName)
	svc.RegisterRoutes(mux)

	// Opportunistic scratch cleanup; request correctness never depends on it.
	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	interval := time.Duration(readEnvIntDefault("JANITOR_INTERVAL_MINUTES", 30)) * time.Minute
	maxAge := time.Duration(readEnvIntDefault("JANITOR_MAX_AGE_HOURS", 24)) * time.Hour
	if interval > 0 && maxAge > 0 {
		go area.RunJanitor(janitorCtx, interval, maxAge)
	}

	addr := ":" + readEnvDefault("PORT", "8080")
	logger.Info("invoice api listening", "addr", addr)
	// Wrap order: cors -> otel/metrics -> mux
	handler := corsMiddleware(obs.WrapHTTP("invoice-api", mux))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func readEnvDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func readEnvIntDefault(key string, defaultVal int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func corsMiddleware(next http.Handler) http.Handler {
	allowOrigin := readEnvDefault("CORS_ALLOW_ORIGIN", "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
