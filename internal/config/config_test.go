package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), FileName))

	settings, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.DownloadRoot != "" || settings.ExportRoot != "" || settings.SupportUpload.Configured() {
		t.Fatalf("expected empty settings, got %+v", settings)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatalf("Load must not create the document, stat err = %v", err)
	}
}

func TestSetOverrideRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), FileName))

	if err := s.SetOverride(types.RootDownload, "  /srv/audio  "); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	got, err := s.Override(types.RootDownload)
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got != "/srv/audio" {
		t.Fatalf("Override = %q, want trimmed path", got)
	}

	if err := s.SetOverride(types.RootDownload, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := s.Override(types.RootDownload); got != "" {
		t.Fatalf("override not cleared: %q", got)
	}
}

func TestSetOverrideRejectsFixedRoots(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), FileName))

	for _, kind := range []types.RootKind{types.RootTemp, types.RootLogs} {
		err := s.SetOverride(kind, "/tmp/x")
		if !types.IsKind(err, types.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", kind, err)
		}
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatal("rejected override must not write the document")
	}
}

func TestLoadSeesExternalEdits(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), FileName))
	if err := s.SetOverride(types.RootExport, "/a"); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(s.Path(), []byte(`{"export_root":"/b"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := s.Override(types.RootExport)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/b" {
		t.Fatalf("Override = %q, want value written by another process", got)
	}
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, FileName))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			kind := types.RootDownload
			if i%2 == 1 {
				kind = types.RootExport
			}
			if err := s.SetOverride(kind, "/data"); err != nil {
				t.Errorf("SetOverride: %v", err)
			}
		})
	}
	wg.Wait()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
	settings, err := s.Load()
	if err != nil {
		t.Fatalf("document corrupted: %v", err)
	}
	if settings.DownloadRoot != "/data" || settings.ExportRoot != "/data" {
		t.Fatalf("lost update: %+v", settings)
	}
}

func TestLoadRejectsInvalidDocument(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), FileName))

	cases := map[string]string{
		"malformed":  `{"download_root":`,
		"bad bucket": `{"support_upload":{"bucket":"` + strings.Repeat("b", 64) + `"}}`,
		"bad url":    `{"support_upload":{"endpoint":"not a url"}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(s.Path(), []byte(doc), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSupportUploadConfigured(t *testing.T) {
	c := SupportUploadConfig{Bucket: "b", AccessKeyID: "k"}
	if c.Configured() {
		t.Fatal("missing secret must not count as configured")
	}
	c.SecretAccessKey = "s"
	if !c.Configured() {
		t.Fatal("expected configured")
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateToken()
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
