package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	writeBytes(t, path, buf)
}

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()
	writeBytes(t, path, []byte(content))
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// NewBatchDir creates an empty batch working directory holding the given
// original image names under originals/. With no names, two placeholder
// images are written.
func NewBatchDir(t testing.TB, images ...string) string {
	t.Helper()
	root := t.TempDir()
	if len(images) == 0 {
		images = []string{"img001.jpg", "img002.jpg"}
	}
	for _, name := range images {
		WriteFile(t, filepath.Join(root, "originals", name), 64)
	}
	return root
}
