package main

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfigBody = "server:\n  listen: 127.0.0.1:8000\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFindConfigIn(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, defaultConfigFile), testConfigBody)

	found := findConfigIn(tmpDir)
	if found != filepath.Join(tmpDir, defaultConfigFile) {
		t.Errorf("Expected config in tmpDir, got %q", found)
	}
}

func TestFindConfigInPrefersYAMLOverTOML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "config.toml"), "[server]\n")
	writeFile(t, filepath.Join(tmpDir, defaultConfigFile), testConfigBody)

	if found := findConfigIn(tmpDir); filepath.Base(found) != defaultConfigFile {
		t.Errorf("Expected %s, got %q", defaultConfigFile, found)
	}
}

func TestFindConfigInTOML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "config.toml"), "[server]\n")

	if found := findConfigIn(tmpDir); found != filepath.Join(tmpDir, "config.toml") {
		t.Errorf("Expected config.toml, got %q", found)
	}
}

func TestFindConfigInNotFound(t *testing.T) {
	t.Parallel()

	if found := findConfigIn(t.TempDir()); found != defaultConfigFile {
		t.Errorf("Expected %q default, got %q", defaultConfigFile, found)
	}
}

func TestFindConfigInHomeDir(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	configPath := filepath.Join(home, ".config", appDir, defaultConfigFile)
	writeFile(t, configPath, testConfigBody)

	if found := findConfigInWithHome(t.TempDir(), home); found != configPath {
		t.Errorf("Expected %q, got %q", configPath, found)
	}
}

func TestFindConfigWorkDirWinsOverHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, ".config", appDir, defaultConfigFile), testConfigBody)
	work := t.TempDir()
	local := filepath.Join(work, defaultConfigFile)
	writeFile(t, local, testConfigBody)

	if found := findConfigInWithHome(work, home); found != local {
		t.Errorf("Expected %q, got %q", local, found)
	}
}
