package storagearea

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testArea(t *testing.T) *Area {
	t.Helper()
	root := t.TempDir()
	a := New(
		filepath.Join(root, "uploads"),
		filepath.Join(root, "temp"),
		filepath.Join(root, "processed"),
	)
	if err := a.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestEnsureDirectoriesIdempotent(t *testing.T) {
	a := testArea(t)
	if err := a.EnsureDirectories(); err != nil {
		t.Fatalf("second EnsureDirectories: %v", err)
	}
	for _, dir := range []string{a.UploadDir, a.TempDir, a.ProcessedDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}

func TestAllocateNameUniqueUnderConcurrency(t *testing.T) {
	a := testArea(t)
	const n = 200
	var (
		mu    sync.Mutex
		names = make(map[string]struct{}, n)
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := a.AllocateName("invoice.pdf")
			mu.Lock()
			names[name] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(names) != n {
		t.Fatalf("expected %d distinct names, got %d", n, len(names))
	}
	for name := range names {
		if name == "invoice.pdf" {
			t.Fatalf("allocated name reused caller-supplied name verbatim")
		}
		if !strings.HasSuffix(name, ".pdf") {
			t.Fatalf("expected .pdf suffix, got %q", name)
		}
	}
}

func TestAllocateNameSanitizesExtension(t *testing.T) {
	a := testArea(t)
	cases := []string{
		"../../etc/passwd",
		"report.XLSX",
		"no_extension",
		"weird.e x t",
		"trailingdot.",
	}
	for _, in := range cases {
		name := a.AllocateName(in)
		if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
			t.Fatalf("allocated name %q from %q contains path components", name, in)
		}
	}
	if got := a.AllocateName("book.XLSX"); !strings.HasSuffix(got, ".xlsx") {
		t.Fatalf("expected lowered .xlsx suffix, got %q", got)
	}
}

func TestResolveProcessedRejectsTraversal(t *testing.T) {
	a := testArea(t)
	bad := []string{
		"",
		"   ",
		"..",
		"../secret.xlsx",
		"..\\secret.xlsx",
		"a/../../b.xlsx",
		"/etc/passwd",
		"\\\\server\\share",
		"sub/dir.xlsx",
		"..hidden..",
	}
	for _, in := range bad {
		if _, err := a.ResolveProcessed(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestResolveProcessedConfinesToDir(t *testing.T) {
	a := testArea(t)
	path, err := a.ResolveProcessed("result.xlsx")
	if err != nil {
		t.Fatalf("ResolveProcessed: %v", err)
	}
	root, _ := filepath.Abs(a.ProcessedDir)
	if filepath.Dir(path) != root {
		t.Fatalf("resolved path %q escapes %q", path, root)
	}
}

func TestSaveUploadWritesBytes(t *testing.T) {
	a := testArea(t)
	name := a.AllocateName("coa.xlsx")
	path, err := a.SaveUpload(a.UploadDir, name, strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected content %q err=%v", data, err)
	}
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	a := testArea(t)
	stale := filepath.Join(a.UploadDir, "stale.pdf")
	fresh := filepath.Join(a.ProcessedDir, "fresh.xlsx")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	a.Sweep(24 * time.Hour)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed, err=%v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file should survive sweep: %v", err)
	}
}

func TestSweepDisabledByZeroMaxAge(t *testing.T) {
	a := testArea(t)
	f := filepath.Join(a.TempDir, "keep.txt")
	if err := os.WriteFile(f, []byte("z"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(f, old, old)
	a.Sweep(0)
	if _, err := os.Stat(f); err != nil {
		t.Fatalf("sweep with zero maxAge must be a no-op: %v", err)
	}
}
