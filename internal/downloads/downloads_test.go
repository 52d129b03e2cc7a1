package downloads

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/config"
	"github.com/oszuidwest/zwfm-audiodesk/internal/dirs"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

func newManager(t *testing.T) (*Manager, types.Roots) {
	t.Helper()
	appRoot := filepath.Join(t.TempDir(), "app")
	p := dirs.New(appRoot, config.New(filepath.Join(appRoot, config.FileName)))
	roots, err := p.All()
	if err != nil {
		t.Fatal(err)
	}
	return New(p), roots
}

func writeFile(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestPreparePaths(t *testing.T) {
	m, roots := newManager(t)

	dir, err := m.EnsureDownloadsDir("2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(roots.Download, "2026-03-01") {
		t.Fatalf("EnsureDownloadsDir = %q", dir)
	}

	tmp, err := m.PrepareTempAudio("2026-03-01", "20260301_120000")
	if err != nil {
		t.Fatal(err)
	}
	if tmp != filepath.Join(roots.Temp, "2026-03-01", "audio_20260301_120000.mp3") {
		t.Fatalf("PrepareTempAudio = %q", tmp)
	}
	if _, err := os.Stat(filepath.Dir(tmp)); err != nil {
		t.Fatalf("temp folder not created: %v", err)
	}

	paths, err := m.PrepareDownload("2026-03-01", "20260301_120000")
	if err != nil {
		t.Fatal(err)
	}
	want := types.DownloadPaths{
		DownloadRoot: roots.Download,
		DownloadDir:  filepath.Join(roots.Download, "2026-03-01"),
		LogPath:      filepath.Join(roots.Logs, "download_20260301_120000.log"),
	}
	if paths != want {
		t.Fatalf("PrepareDownload = %+v, want %+v", paths, want)
	}
}

func TestIdentifiersValidatedBeforeFilesystem(t *testing.T) {
	m, roots := newManager(t)

	tests := []struct {
		name       string
		dateFolder string
		logStamp   string
	}{
		{"traversal date", "../../etc", "1"},
		{"letters in date", "2026-03-0a", "1"},
		{"dash in stamp", "2026-03-01", "2026-03"},
		{"slash in stamp", "2026-03-01", "1/2"},
		{"empty date", "", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.PrepareDownload(tt.dateFolder, tt.logStamp); !types.IsKind(err, types.KindValidation) {
				t.Fatalf("PrepareDownload: expected validation error, got %v", err)
			}
			if _, err := m.PrepareTempAudio(tt.dateFolder, tt.logStamp); !types.IsKind(err, types.KindValidation) {
				t.Fatalf("PrepareTempAudio: expected validation error, got %v", err)
			}
		})
	}

	entries, _ := os.ReadDir(roots.Download)
	if len(entries) != 0 {
		t.Fatalf("rejected calls created %d entries", len(entries))
	}
}

func TestFindLatestByModTime(t *testing.T) {
	m, roots := newManager(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, filepath.Join(roots.Download, "2026-02-28", "old.mp3"), base.Add(-time.Hour))
	writeFile(t, filepath.Join(roots.Download, "2026-03-01", "deep", "new.mp3"), base)
	writeFile(t, filepath.Join(roots.Download, "2026-03-01", "newer.txt"), base.Add(time.Hour))
	writeFile(t, filepath.Join(roots.Download, "2026-03-01", "partial.mp3.part"), base.Add(time.Hour))

	got, err := m.FindLatest(roots.Download)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(roots.Download, "2026-03-01", "deep", "new.mp3"))
	if got != want {
		t.Fatalf("FindLatest = %q, want %q", got, want)
	}
}

func TestFindLatestTieBreaksByPath(t *testing.T) {
	m, roots := newManager(t)
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(roots.Download, "a.mp3"), mod)
	writeFile(t, filepath.Join(roots.Download, "b.mp3"), mod)

	got, err := m.FindLatest(roots.Download)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "b.mp3" {
		t.Fatalf("FindLatest = %q, want b.mp3", got)
	}
}

func TestFindLatestEmptyAndOutside(t *testing.T) {
	m, roots := newManager(t)

	_, err := m.FindLatest(roots.Download)
	if !types.IsKind(err, types.KindNotFound) || types.PublicMessage(err) != "No downloaded file found" {
		t.Fatalf("empty dir: got %v", err)
	}

	if _, err := m.FindLatest(t.TempDir()); !types.IsKind(err, types.KindPathSecurity) {
		t.Fatalf("outside dir: got %v", err)
	}
	if _, err := m.FindLatest(roots.Temp); !types.IsKind(err, types.KindPathSecurity) {
		t.Fatalf("temp root is not a download dir: got %v", err)
	}
}

func TestSandboxedReadWrite(t *testing.T) {
	m, roots := newManager(t)

	inDownloads := filepath.Join(roots.Download, "clip.mp3")
	if err := m.WriteBinary(inDownloads, []byte("audio")); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
	data, err := m.ReadFile(inDownloads)
	if err != nil || string(data) != "audio" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	if err := m.WriteLog(filepath.Join(roots.Logs, "download_1.log"), "log"); err != nil {
		t.Fatalf("WriteLog: %v", err)
	}
	if err := m.WriteMeta(filepath.Join(roots.Download, "clip.json"), "{}"); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}
}

func TestSandboxRejectsBeforeTouchingFilesystem(t *testing.T) {
	m, roots := newManager(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "evil.bin")

	tests := []struct {
		name string
		call func() error
	}{
		{"binary outside", func() error { return m.WriteBinary(target, []byte("x")) }},
		{"binary traversal", func() error {
			return m.WriteBinary(filepath.Join(roots.Download, "..", "..", filepath.Base(outside), "evil.bin"), []byte("x"))
		}},
		{"meta in temp", func() error { return m.WriteMeta(filepath.Join(roots.Temp, "evil.bin"), "x") }},
		{"log in export", func() error { return m.WriteLog(filepath.Join(roots.Export, "evil.bin"), "x") }},
		{"read outside", func() error { _, err := m.ReadFile(target); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !types.IsKind(err, types.KindPathSecurity) {
				t.Fatalf("expected path security error, got %v", err)
			}
			if types.PublicMessage(err) != types.MsgInvalidPath {
				t.Fatalf("public message leaks detail: %q", types.PublicMessage(err))
			}
		})
	}

	for _, p := range []string{target, filepath.Join(roots.Temp, "evil.bin"), filepath.Join(roots.Export, "evil.bin")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s was written", p)
		}
	}
}

func TestWriteVideoLog(t *testing.T) {
	m, roots := newManager(t)

	path, err := m.WriteVideoLog("20260301_1", "first")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.WriteVideoLog("20260301_1", "second"); err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(roots.Logs, "video_20260301_1.log") {
		t.Fatalf("path = %q", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "second" {
		t.Fatalf("content = %q, want overwrite", data)
	}
	if _, err := m.WriteVideoLog("a-b", "x"); !types.IsKind(err, types.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
