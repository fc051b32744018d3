//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// TempProjectDir creates a directory that stands in for a registered
// project's repository checkout
func TempProjectDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create project dir: %v", err)
	}
	return dir
}
