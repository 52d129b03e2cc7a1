package tracelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

func newWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(func() (string, error) { return dir, nil })
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 5, time.FixedZone("CET", 3600)) }
	return w, dir
}

func TestAppendFormatsOneLinePerRecord(t *testing.T) {
	w, dir := newWriter(t)

	if err := w.Append("20260301_1", StageExportStart, "input=a.mp3"); err != nil {
		t.Fatal(err)
	}
	if err := w.Append("20260301_1", StageFFmpegOutput, "line one\nline two\r\nline three"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "video_trace_20260301_1.log"))
	if err != nil {
		t.Fatal(err)
	}
	want := "2026-03-01T11:00:00.000000005Z [export_start] input=a.mp3\n" +
		`2026-03-01T11:00:00.000000005Z [ffmpeg_output] line one\nline two\nline three` + "\n"
	if string(data) != want {
		t.Fatalf("trace =\n%q\nwant\n%q", data, want)
	}
}

func TestAppendKeepsLiteralBackslashesDistinct(t *testing.T) {
	w, dir := newWriter(t)

	if err := w.AppendLine("7", `typed \n by hand`); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendLine("7", "real\nbreak"); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendLine("7", `C:\audio\show.mp3`); err != nil {
		t.Fatal(err)
	}

	lines, err := ReadTail(filepath.Join(dir, FileName("7")), 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{`typed \\n by hand`, `real\nbreak`, `C:\\audio\\show.mp3`}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	for i, l := range lines {
		if !strings.HasSuffix(l, "] "+want[i]) {
			t.Errorf("line %d = %q, want suffix %q", i, l, want[i])
		}
	}
}

func TestAppendRejectsUnsafeSessionID(t *testing.T) {
	w, dir := newWriter(t)

	for _, id := range []string{"", "../x", "abc", "1 2", "1/2"} {
		err := w.AppendLine(id, "hello")
		if !types.IsKind(err, types.KindValidation) {
			t.Fatalf("%q: expected validation error, got %v", id, err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("rejected ids must not create files, found %d", len(entries))
	}
}

func TestSessionRecordsKeepOrder(t *testing.T) {
	w, _ := newWriter(t)
	s, err := w.Session("42")
	if err != nil {
		t.Fatal(err)
	}
	stages := []Stage{StageExportStart, StageFFmpegInvoke, StageFFmpegExit, StageFFmpegOutput, StageExportDone}
	for _, st := range stages {
		if err := s.Recordf(st, "stage %s", st); err != nil {
			t.Fatal(err)
		}
	}

	lines, err := ReadTail(s.Path(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != len(stages) {
		t.Fatalf("got %d lines, want %d", len(lines), len(stages))
	}
	for i, st := range stages {
		if !strings.Contains(lines[i], "["+string(st)+"]") {
			t.Fatalf("line %d = %q, want stage %s", i, lines[i], st)
		}
	}
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	w, dir := newWriter(t)
	const writers, each = 8, 50
	payload := strings.Repeat("x", 4096)

	var wg sync.WaitGroup
	for g := range writers {
		wg.Go(func() {
			for i := range each {
				if err := w.AppendLine("7", fmt.Sprintf("g%d-%d %s", g, i, payload)); err != nil {
					t.Error(err)
					return
				}
			}
		})
	}
	wg.Wait()

	lines, err := ReadTail(filepath.Join(dir, FileName("7")), writers*each+10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != writers*each {
		t.Fatalf("got %d lines, want %d", len(lines), writers*each)
	}
	for _, line := range lines {
		if !strings.HasSuffix(line, payload) || !strings.Contains(line, "[ui] g") {
			t.Fatalf("corrupted line: %.80q", line)
		}
	}
}

func TestReadTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	if err := os.WriteFile(path, []byte("a\nb\r\nc\nd"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{2, "c,d"},
		{4, "a,b,c,d"},
		{10, "a,b,c,d"},
	}
	for _, tt := range tests {
		lines, err := ReadTail(path, tt.n)
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.Join(lines, ","); got != tt.want {
			t.Errorf("ReadTail(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}

	lines, err := ReadTail(filepath.Join(t.TempDir(), "missing"), 5)
	if err != nil || len(lines) != 0 {
		t.Fatalf("missing file: %v %v", lines, err)
	}
}
