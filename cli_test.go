package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunReleasesResourcesOnFailure(t *testing.T) {
	dir := t.TempDir()
	a := &app{}
	var out bytes.Buffer

	err := run(a, []string{"--root", dir, "roots", "set", "logs", "/tmp/x"}, &out)
	if err == nil {
		t.Fatal("setting a fixed root succeeded")
	}
	if a.backend != nil || a.logger != nil || a.version != nil {
		t.Fatalf("resources still held after failed command: %+v", a)
	}
	if _, err := os.Stat(filepath.Join(dir, "settings.json")); !os.IsNotExist(err) {
		t.Errorf("rejected override was persisted: %v", err)
	}
}

func TestRunRootsGet(t *testing.T) {
	dir := t.TempDir()
	a := &app{}
	var out bytes.Buffer

	if err := run(a, []string{"--root", dir, "roots", "get", "download"}, &out); err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(out.String())
	if !strings.Contains(got, filepath.Base(dir)) {
		t.Errorf("download root = %q, want it under %q", got, dir)
	}
	if a.backend != nil {
		t.Error("backend still open after command")
	}
}

func TestRunVersionNeedsNoRoot(t *testing.T) {
	var out bytes.Buffer
	if err := run(&app{}, []string{"version"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "audiodesk ") {
		t.Errorf("version output = %q", out.String())
	}
}
