package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureMemoryDirectory creates the memory directory under basePath if it
// doesn't exist and returns its path.
func EnsureMemoryDirectory(basePath string) (string, error) {
	memoryPath := filepath.Join(basePath, "memory")

	info, err := os.Stat(memoryPath)
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("memory path exists but is not a directory: %s", memoryPath)
		}
		return memoryPath, nil
	}

	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat memory directory: %w", err)
	}

	if err := os.MkdirAll(memoryPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create memory directory: %w", err)
	}

	return memoryPath, nil
}

// ValidateMemoryPath validates that a path is safe for memory operations:
// relative, clean, and not reaching outside the memory root.
func ValidateMemoryPath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative, got absolute path: %s", path)
	}

	cleanPath := filepath.Clean(path)
	if cleanPath != path {
		return fmt.Errorf("path contains invalid components: %s", path)
	}

	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path cannot reference parent directories: %s", path)
	}

	return nil
}

// GetMemoryFilePath constructs a full path for a memory file, rejecting
// anything that would resolve outside basePath.
func GetMemoryFilePath(basePath, relativePath string) (string, error) {
	if err := ValidateMemoryPath(relativePath); err != nil {
		return "", err
	}

	fullPath := filepath.Join(basePath, relativePath)

	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute base path: %w", err)
	}

	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute full path: %w", err)
	}

	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", relativePath)
	}

	return fullPath, nil
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
