package wsi

import (
	"fmt"
	"path/filepath"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns an absolute path for the given path, interpreting
// relative paths as relative to baseDir.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("can't convert empty path to absolute path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(absBase, path), nil
}

// HumanBytes returns a human-readable string for a number of bytes, e.g., "83 MB".
func HumanBytes(n int) string {
	if n < 0 {
		return fmt.Sprintf("%d bytes", n)
	}
	return humanize.Bytes(uint64(n))
}

// MemSize returns a human-readable estimate of the in-memory size of the given object.
func MemSize(obj interface{}) string {
	return HumanBytes(size.Of(obj))
}
