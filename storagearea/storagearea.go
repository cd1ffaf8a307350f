package storagearea

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Area owns the three flat scratch directories: incoming uploads, temporary
// working files and processed outputs. It is constructed once at startup and
// passed to every component that touches disk.
type Area struct {
	UploadDir    string
	TempDir      string
	ProcessedDir string
}

func New(uploadDir, tempDir, processedDir string) *Area {
	return &Area{
		UploadDir:    uploadDir,
		TempDir:      tempDir,
		ProcessedDir: processedDir,
	}
}

// EnsureDirectories creates the scratch directories if absent. Idempotent;
// a failure here means the service cannot run at all.
func (a *Area) EnsureDirectories() error {
	for _, dir := range []string{a.UploadDir, a.TempDir, a.ProcessedDir} {
		if strings.TrimSpace(dir) == "" {
			return errors.New("storage directory path is empty")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// AllocateName returns a filename that cannot collide with any other
// allocation and never echoes the caller-supplied name back verbatim: a
// timestamp plus random token, keeping only the sanitized extension of the
// original name.
func (a *Area) AllocateName(originalName string) string {
	return fmt.Sprintf("%d_%s%s", time.Now().Unix(), randomToken(), safeExt(originalName))
}

// SaveUpload streams one upload into dir under an already-allocated name and
// returns the full destination path.
func (a *Area) SaveUpload(dir, name string, src io.Reader) (string, error) {
	if strings.TrimSpace(dir) == "" || strings.TrimSpace(name) == "" {
		return "", errors.New("invalid path")
	}
	dstPath := filepath.Join(dir, name)
	f, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		_ = os.Remove(dstPath)
		return "", err
	}
	return dstPath, nil
}

// ErrInvalidFilename marks download names that must never reach the
// filesystem (traversal attempts, absolute paths, separators).
var ErrInvalidFilename = errors.New("invalid filename")

// ResolveProcessed maps a client-supplied filename to an absolute path
// strictly inside the processed directory. Anything containing parent
// segments or path separators is rejected before any filesystem call.
func (a *Area) ResolveProcessed(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", ErrInvalidFilename
	}
	if strings.ContainsAny(name, "/\\") {
		return "", ErrInvalidFilename
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return "", ErrInvalidFilename
	}
	root, err := filepath.Abs(a.ProcessedDir)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(root, name)
	// Belt and braces: the join must stay under the processed root.
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", ErrInvalidFilename
	}
	return resolved, nil
}

func randomToken() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// safeExt keeps only a plain alphanumeric extension of reasonable length;
// crafted extensions degrade to nothing rather than reaching the path.
func safeExt(name string) string {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filepath.Base(name))))
	if ext == "" || ext == "." || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
