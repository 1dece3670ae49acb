package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestCleanupTempFiles(t *testing.T) {
	blobDir := t.TempDir()
	indexDir := t.TempDir()

	docDir := filepath.Join(blobDir, "doc-1")
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(docDir, ".put-123456")
	keep := filepath.Join(docDir, "report.pdf")
	strayIndex := filepath.Join(indexDir, ".index-789")
	keepIndex := filepath.Join(indexDir, "doc-1.json")
	for _, path := range []string{stray, keep, strayIndex, keepIndex} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fn := CleanupTempFiles(zap.NewNop(), blobDir, indexDir)
	if err := fn(context.Background()); err != nil {
		t.Fatalf("cleanup error = %v", err)
	}

	for _, path := range []string{stray, strayIndex} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("temp file %s should be removed", path)
		}
	}
	for _, path := range []string{keep, keepIndex} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("real file %s should survive: %v", path, err)
		}
	}
}

func TestCleanupTempFilesMissingDir(t *testing.T) {
	fn := CleanupTempFiles(zap.NewNop(), "/does/not/exist")
	if err := fn(context.Background()); err != nil {
		t.Errorf("cleanup of missing dir error = %v, want nil", err)
	}
}
