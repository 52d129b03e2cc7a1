package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/locator"
	"github.com/oszuidwest/zwfm-audiodesk/internal/tracelog"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

type fakeRoots map[types.RootKind]string

func (f fakeRoots) Root(kind types.RootKind) (string, error) {
	if p, ok := f[kind]; ok {
		return p, os.MkdirAll(p, 0o755)
	}
	return "", errors.New("no root")
}

func (f fakeRoots) SandboxRoots(kinds ...types.RootKind) ([]string, error) {
	var out []string
	for _, k := range kinds {
		if p, err := f.Root(k); err == nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no roots")
	}
	return out, nil
}

type fakeTools struct {
	path string
	err  error
}

func (f fakeTools) FindTool(locator.Tool) (string, locator.Result, error) {
	return f.path, locator.Result{Dir: filepath.Dir(f.path)}, f.err
}

type fixture struct {
	exp   *Exporter
	roots fakeRoots
}

func newFixture(t *testing.T, tools ToolFinder) *fixture {
	t.Helper()
	base := t.TempDir()
	roots := fakeRoots{
		types.RootDownload: filepath.Join(base, "downloads"),
		types.RootExport:   filepath.Join(base, "exports"),
		types.RootTemp:     filepath.Join(base, "temp"),
		types.RootLogs:     filepath.Join(base, "logs"),
	}
	traces := tracelog.New(func() (string, error) { return roots.Root(types.RootLogs) })
	exp := New(roots, tools, traces)
	exp.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local) }
	return &fixture{exp: exp, roots: roots}
}

func (f *fixture) input(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(f.roots[types.RootDownload], "2026-03-01")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, "show.mp3")
	if err := os.WriteFile(p, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) trace(t *testing.T, sessionID string) []string {
	t.Helper()
	lines, err := tracelog.ReadTail(filepath.Join(f.roots[types.RootLogs], tracelog.FileName(sessionID)), 100)
	if err != nil {
		t.Fatal(err)
	}
	return lines
}

func stages(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		start := strings.Index(l, "[")
		end := strings.Index(l, "]")
		if start >= 0 && end > start {
			out = append(out, l[start+1:end])
		}
	}
	return out
}

// fakeFFmpeg writes a script that creates its last argument and exits with code.
func fakeFFmpeg(t *testing.T, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	script := "#!/bin/sh\n" +
		"for last; do :; done\n" +
		"echo \"frame=1 fps=0\" >&2\n" +
		"echo \"progress\"\n"
	if code == 0 {
		script += "printf 'mp4' > \"$last\"\n"
	} else {
		script += "echo \"Conversion failed!\" >&2\n"
	}
	script += "exit " + string(rune('0'+code)) + "\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExportBlackVideoSuccess(t *testing.T) {
	f := newFixture(t, fakeTools{path: fakeFFmpeg(t, 0)})
	input := f.input(t)

	res, err := f.exp.ExportBlackVideo(context.Background(), "20260301_100000", input, "")
	if err != nil {
		t.Fatalf("ExportBlackVideo: %v", err)
	}
	wantDir, _ := filepath.EvalSymlinks(filepath.Join(f.roots[types.RootExport], "2026-03-01"))
	if want := filepath.Join(wantDir, "black_20260301_100000_1280x720_30fps.mp4"); res.Path != want {
		t.Fatalf("Path = %q, want %q", res.Path, want)
	}
	if res.State != types.ExportCompleted || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}

	got := strings.Join(stages(f.trace(t, "20260301_100000")), ",")
	if want := "export_start,ffmpeg_invoke,ffmpeg_exit,ffmpeg_output,export_done"; got != want {
		t.Fatalf("trace stages = %s, want %s", got, want)
	}
}

func TestExportBlackVideoExplicitOutputRoot(t *testing.T) {
	f := newFixture(t, fakeTools{path: fakeFFmpeg(t, 0)})
	out := filepath.Join(f.roots[types.RootExport], "shows", "custom")

	res, err := f.exp.ExportBlackVideo(context.Background(), "1", f.input(t), out)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(filepath.Dir(res.Path)) != "custom" {
		t.Fatalf("explicit root must not get a date bucket: %s", res.Path)
	}
	if !res.FinishedAt.Equal(f.exp.now()) || !res.StartedAt.Equal(f.exp.now()) {
		t.Fatalf("timestamps = %v .. %v, want injected clock", res.StartedAt, res.FinishedAt)
	}
}

func TestExportRejectsOutputRootOutsideSandbox(t *testing.T) {
	f := newFixture(t, fakeTools{path: "/unused"})
	elsewhere := t.TempDir()
	out := filepath.Join(elsewhere, "not", "a", "root")

	res, err := f.exp.ExportBlackVideo(context.Background(), "7", f.input(t), out)
	if !types.IsKind(err, types.KindPathSecurity) {
		t.Fatalf("expected path security error, got %v", err)
	}
	if types.PublicMessage(err) != types.MsgInvalidPath {
		t.Fatalf("public message = %q", types.PublicMessage(err))
	}
	if res.State != types.ExportFailed || !res.FinishedAt.Equal(f.exp.now()) {
		t.Fatalf("result = %+v", res)
	}
	if got := strings.Join(stages(f.trace(t, "7")), ","); got != "output_rejected" {
		t.Fatalf("trace stages = %s", got)
	}

	if _, err := f.exp.ExportAudioFile("payload", "mp3", []byte("x"), out); !types.IsKind(err, types.KindPathSecurity) {
		t.Fatalf("audio export: expected path security error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(elsewhere, "not")); !os.IsNotExist(err) {
		t.Fatalf("directory created outside the sandbox: %v", err)
	}
}

func TestExportBlackVideoProcessFailure(t *testing.T) {
	f := newFixture(t, fakeTools{path: fakeFFmpeg(t, 1)})

	res, err := f.exp.ExportBlackVideo(context.Background(), "9", f.input(t), "")
	if !types.IsKind(err, types.KindProcessExit) {
		t.Fatalf("expected process exit error, got %v", err)
	}
	if types.PublicMessage(err) != types.MsgExportFailed {
		t.Fatalf("public message = %q", types.PublicMessage(err))
	}
	if res.State != types.ExportFailed || res.ExitCode != 1 {
		t.Fatalf("result = %+v", res)
	}

	lines := f.trace(t, "9")
	if got := strings.Join(stages(lines), ","); got != "export_start,ffmpeg_invoke,ffmpeg_exit,ffmpeg_output" {
		t.Fatalf("trace stages = %s", got)
	}
	if !strings.Contains(lines[2], "code=1") || !strings.Contains(lines[2], "Conversion failed!") {
		t.Fatalf("exit record = %q", lines[2])
	}
}

func TestExportBlackVideoRejectsOutsideInput(t *testing.T) {
	f := newFixture(t, fakeTools{path: "/unused"})
	outside := filepath.Join(t.TempDir(), "secret.mp3")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := f.exp.ExportBlackVideo(context.Background(), "5", outside, "")
	if !types.IsKind(err, types.KindPathSecurity) {
		t.Fatalf("expected path security error, got %v", err)
	}
	if types.PublicMessage(err) != types.MsgInvalidInput {
		t.Fatalf("public message = %q", types.PublicMessage(err))
	}
	if got := strings.Join(stages(f.trace(t, "5")), ","); got != "input_rejected" {
		t.Fatalf("trace stages = %s", got)
	}
}

func TestExportBlackVideoRejectsDirectoryInput(t *testing.T) {
	f := newFixture(t, fakeTools{path: "/unused"})
	dir := filepath.Join(f.roots[types.RootDownload], "folder", "inner")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := f.exp.ExportBlackVideo(context.Background(), "5", dir, ""); !types.IsKind(err, types.KindPathSecurity) {
		t.Fatalf("expected path security error, got %v", err)
	}
}

func TestExportBlackVideoInvalidSession(t *testing.T) {
	f := newFixture(t, fakeTools{path: "/unused"})

	_, err := f.exp.ExportBlackVideo(context.Background(), "../../x", f.input(t), "")
	if !types.IsKind(err, types.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(types.PublicMessage(err), "session_id") {
		t.Fatalf("validation reason not exposed: %q", types.PublicMessage(err))
	}
}

func TestExportBlackVideoLocatorFailure(t *testing.T) {
	notFound := &types.Error{Kind: types.KindNotFound, Trail: []string{"resource: /x -> missing"}}
	f := newFixture(t, fakeTools{err: notFound})

	_, err := f.exp.ExportBlackVideo(context.Background(), "3", f.input(t), "")
	if types.PublicMessage(err) != types.MsgExportFailed {
		t.Fatalf("public message = %q (%v)", types.PublicMessage(err), err)
	}
	lines := f.trace(t, "3")
	if got := strings.Join(stages(lines), ","); got != "export_start,locator_failed" {
		t.Fatalf("trace stages = %s", got)
	}
	if !strings.Contains(lines[1], "resource: /x -> missing") {
		t.Fatalf("trail not traced: %q", lines[1])
	}
}

func TestExportBlackVideoSpawnFailure(t *testing.T) {
	f := newFixture(t, fakeTools{path: filepath.Join(t.TempDir(), "gone")})

	_, err := f.exp.ExportBlackVideo(context.Background(), "4", f.input(t), "")
	if !types.IsKind(err, types.KindProcessSpawn) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if got := strings.Join(stages(f.trace(t, "4")), ","); got != "export_start,ffmpeg_invoke,ffmpeg_spawn_failed" {
		t.Fatalf("trace stages = %s", got)
	}
}

func TestExportAudioFile(t *testing.T) {
	f := newFixture(t, fakeTools{})

	path, err := f.exp.ExportAudioFile("../My Show: part 1.MP3", ".MP3", []byte("data"), "")
	if err != nil {
		t.Fatalf("ExportAudioFile: %v", err)
	}
	if filepath.Base(path) != "My Show_ part 1.mp3" {
		t.Fatalf("name = %q", filepath.Base(path))
	}
	if filepath.Base(filepath.Dir(path)) != "2026-03-01" {
		t.Fatalf("not in date bucket: %s", path)
	}

	explicit, err := f.exp.ExportAudioFile("take", "wav", []byte("data"), filepath.Join(f.roots[types.RootDownload], "picked"))
	if err != nil {
		t.Fatalf("ExportAudioFile explicit root: %v", err)
	}
	if filepath.Base(filepath.Dir(explicit)) != "picked" {
		t.Fatalf("explicit root ignored: %s", explicit)
	}
	if data, _ := os.ReadFile(path); string(data) != "data" {
		t.Fatalf("content = %q", data)
	}
}

func TestExportAudioFileValidation(t *testing.T) {
	f := newFixture(t, fakeTools{})

	if _, err := f.exp.ExportAudioFile("a", "exe", nil, ""); !types.IsKind(err, types.KindValidation) {
		t.Fatalf("format: got %v", err)
	}
	if _, err := f.exp.ExportAudioFile("???", "mp3", nil, ""); !types.IsKind(err, types.KindValidation) {
		t.Fatalf("name: got %v", err)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"show.mp3", "show.mp3"},
		{`C:\music\ep 1.wav`, "ep 1.wav"},
		{"a/b/../c", "c"},
		{"héllo wörld", "h_llo w_rld"},
		{"  .hidden  ", "hidden"},
		{"a$$$b", "a_b"},
		{"..", ""},
		{strings.Repeat("x", 200), strings.Repeat("x", MaxFileNameLength)},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
