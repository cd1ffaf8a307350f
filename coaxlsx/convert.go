package coaxlsx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ole2Header = [8]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// ConvertLegacyIfNeeded makes a workbook readable by this package. OOXML
// files (zip container) pass through untouched; legacy OLE2 .xls content is
// converted to .xlsx with an external unoserver client before excelize ever
// sees it. The header is sniffed rather than trusting the extension, so a
// mislabeled file on either side is handled. On conversion the original
// scratch file is removed and the new path returned.
func ConvertLegacyIfNeeded(ctx context.Context, inPath string) (outPath string, converted bool, err error) {
	p := strings.TrimSpace(inPath)
	if p == "" {
		return "", false, fmt.Errorf("input file path is empty")
	}
	ext := strings.ToLower(filepath.Ext(p))

	var isZip, isOle2 bool
	if f, e := os.Open(p); e == nil {
		var hdr [8]byte
		n, _ := f.Read(hdr[:])
		_ = f.Close()
		if n >= 2 && hdr[0] == 'P' && hdr[1] == 'K' {
			isZip = true
		}
		if n >= 8 && hdr == ole2Header {
			isOle2 = true
		}
	}

	needConvert := false
	if ext == ".xls" {
		// .xls carrying zip content is really an xlsx; read it directly.
		if isZip {
			return p, false, nil
		}
		needConvert = true
	} else if isOle2 {
		// mislabeled legacy xls
		needConvert = true
	}
	if !needConvert {
		return p, false, nil
	}

	if ext == ".xls" {
		outPath = strings.TrimSuffix(p, filepath.Ext(p)) + ".xlsx"
	} else {
		outPath = strings.TrimSuffix(p, filepath.Ext(p)) + ".converted.xlsx"
	}

	bin := readEnvStringDefault("XLSCONVERT_BIN", "unoconvert")
	host := readEnvStringDefault("XLSCONVERT_HOST", "xlsconvert")
	port := readEnvIntDefault("XLSCONVERT_PORT", 2003)
	proto := readEnvStringDefault("XLSCONVERT_PROTOCOL", "http")
	timeoutSec := readEnvIntDefault("XLSCONVERT_TIMEOUT_SECONDS", 60)

	if _, lpErr := exec.LookPath(bin); lpErr != nil {
		return "", true, fmt.Errorf("legacy xls conversion unavailable: client %q not found", bin)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	_ = os.Remove(outPath)
	cmd := exec.CommandContext(
		ctx,
		bin,
		"--host", host,
		"--port", strconv.Itoa(port),
		"--protocol", proto,
		"--host-location", "remote",
		p,
		outPath,
	)
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", true, fmt.Errorf("legacy xls conversion timed out after %ds", timeoutSec)
	}
	if runErr != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = runErr.Error()
		}
		return "", true, fmt.Errorf("legacy xls conversion failed: %s", msg)
	}
	if _, statErr := os.Stat(outPath); statErr != nil {
		return "", true, fmt.Errorf("legacy xls conversion produced no output: %v", statErr)
	}
	_ = os.Remove(p)
	return outPath, true, nil
}

func readEnvStringDefault(key, defaultVal string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return v
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
