// Package locator finds the directory holding the sidecar executables.
//
// Installers place the sidecars in different relative positions depending on
// the build type (development run, installed package, portable archive). The
// locator walks an ordered list of probe strategies and records every probed
// directory in a diagnostic trail. When nothing is found it repairs the most
// common misplacement, binaries sitting flat next to the executable, by
// copying them into a binaries folder and probing again.
package locator

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// BinariesDirName is the conventional sidecar folder name.
const BinariesDirName = "binaries"

// DefaultMaxDepth is the number of ancestor levels walked per strategy.
const DefaultMaxDepth = 6

// ResourceDirEnv overrides the packaged resource directory.
const ResourceDirEnv = "AUDIODESK_RESOURCE_DIR"

// Options configures a Locator. Zero values fall back to the running process.
type Options struct {
	ResourceDir string                 // Packaged resource directory (empty = derived from executable)
	Executable  func() (string, error) // Path of the running executable
	Getwd       func() (string, error) // Current working directory
	GOOS        string
	GOARCH      string
	MaxDepth    int
}

// Locator discovers the sidecar directory. It holds no mutable state and is
// safe for concurrent use.
type Locator struct {
	opts Options
}

// Result is a located sidecar directory together with the trail that led to it.
type Result struct {
	Dir   string   `json:"dir"`
	Trail []string `json:"trail"`
}

// New returns a Locator with defaults applied.
func New(opts Options) *Locator {
	if opts.Executable == nil {
		opts.Executable = os.Executable
	}
	if opts.Getwd == nil {
		opts.Getwd = os.Getwd
	}
	opts.GOOS = cmp.Or(opts.GOOS, runtime.GOOS)
	opts.GOARCH = cmp.Or(opts.GOARCH, runtime.GOARCH)
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.ResourceDir == "" {
		opts.ResourceDir = os.Getenv(ResourceDirEnv)
	}
	return &Locator{opts: opts}
}

// Locate returns the first directory that holds at least one required tool.
func (l *Locator) Locate() (Result, error) {
	return l.search(RequiredTools)
}

// FindTool returns the full path of tool, searching with the same strategies
// but requiring that specific tool to be present.
func (l *Locator) FindTool(tool Tool) (string, Result, error) {
	res, err := l.search([]Tool{tool})
	if err != nil {
		return "", res, err
	}
	for _, name := range l.names(tool) {
		p := filepath.Join(res.Dir, name)
		if isRegularFile(p) {
			return p, res, nil
		}
	}
	res.Trail = append(res.Trail, fmt.Sprintf("tool %s vanished from %s", tool, res.Dir))
	return "", res, &types.Error{
		Kind:   types.KindNotFound,
		Op:     "find_tool",
		Detail: string(tool),
		Public: types.MsgNotFound,
		Trail:  res.Trail,
	}
}

// strategy is one ordered probe step. It returns the directory it found, if any.
type strategy struct {
	name string
	run  func(s *search) (string, bool)
}

func (l *Locator) strategies() []strategy {
	return []strategy{
		{"resource", l.probeResourceDir},
		{"executable", l.probeExecutableAncestors},
		{"cwd", l.probeWorkingDirAncestors},
		{"repair", l.repair},
	}
}

// search is the per-call state: the tools that satisfy the presence check,
// the trail, and the set of directories already probed.
type search struct {
	l       *Locator
	tools   []Tool
	trail   []string
	seen    map[string]bool
	exeDir  string
	exeErr  error
	current string
}

func (s *search) note(format string, args ...any) {
	s.trail = append(s.trail, s.current+": "+fmt.Sprintf(format, args...))
}

// probe checks one directory and records the outcome.
func (s *search) probe(dir string) bool {
	if dir == "" {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		s.note("%s -> unresolvable: %v", dir, err)
		return false
	}
	if s.seen[abs] {
		return false
	}
	s.seen[abs] = true

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.note("%s -> missing", abs)
		return false
	case err != nil:
		s.note("%s -> unreadable: %v", abs, err)
		return false
	case !info.IsDir():
		s.note("%s -> not a directory", abs)
		return false
	}

	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		s.note("%s -> unresolvable: %v", abs, err)
		return false
	}
	if canon != abs {
		if s.seen[canon] {
			return false
		}
		s.seen[canon] = true
	}
	if s.exeDir != "" && canon == s.exeDir {
		// Loose copies beside the executable are moved into place by repair.
		s.note("%s -> executable directory, left to repair", abs)
		return false
	}

	found := s.l.present(canon, s.tools)
	if len(found) == 0 {
		s.note("%s -> no required executables", abs)
		return false
	}
	s.note("%s -> found %s", abs, strings.Join(found, ", "))
	return true
}

func (l *Locator) search(tools []Tool) (Result, error) {
	s := &search{
		l:     l,
		tools: tools,
		seen:  make(map[string]bool),
	}

	exe, err := l.executablePath()
	if err != nil {
		s.exeErr = err
	} else {
		s.exeDir = filepath.Dir(exe)
		if canon, err := filepath.EvalSymlinks(s.exeDir); err == nil {
			s.exeDir = canon
		}
	}
	cwd, cwdErr := l.opts.Getwd()

	s.current = "start"
	s.note("platform=%s/%s executable=%q cwd=%q resource_dir=%q",
		l.opts.GOOS, l.opts.GOARCH, exe, cwd, l.resourceDir(s.exeDir))
	if s.exeErr != nil {
		s.note("executable path unavailable: %v", s.exeErr)
	}
	if cwdErr != nil {
		s.note("working directory unavailable: %v", cwdErr)
	}

	for _, st := range l.strategies() {
		s.current = st.name
		dir, ok := st.run(s)
		if !ok {
			continue
		}
		canon, err := filepath.EvalSymlinks(dir)
		if err != nil {
			s.note("%s -> canonicalize failed: %v", dir, err)
			continue
		}
		s.current = "result"
		s.note("using %s", canon)
		slog.Info("sidecar directory located", "dir", canon, "strategy", st.name, "tools", toolNames(tools))
		return Result{Dir: canon, Trail: s.trail}, nil
	}

	slog.Warn("sidecar directory not found", "tools", toolNames(tools), "probes", len(s.seen))
	return Result{Trail: s.trail}, &types.Error{
		Kind:   types.KindNotFound,
		Op:     "locate_binaries",
		Detail: "no directory holds " + strings.Join(toolNames(tools), ", "),
		Public: "Required tools not found. See logs.",
		Trail:  slices.Clone(s.trail),
	}
}

func (l *Locator) executablePath() (string, error) {
	exe, err := l.opts.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		return resolved, nil
	}
	return exe, nil
}

func (l *Locator) resourceDir(exeDir string) string {
	if l.opts.ResourceDir != "" {
		return l.opts.ResourceDir
	}
	if exeDir == "" {
		return ""
	}
	if l.opts.GOOS == "darwin" {
		// App bundles keep resources in Contents/Resources next to Contents/MacOS.
		return filepath.Join(exeDir, "..", "Resources")
	}
	return filepath.Join(exeDir, "resources")
}

// probeResourceDir checks the packaged resource layout.
func (l *Locator) probeResourceDir(s *search) (string, bool) {
	res := l.resourceDir(s.exeDir)
	if res == "" {
		s.note("no resource directory available")
		return "", false
	}
	for _, dir := range []string{
		filepath.Join(res, BinariesDirName),
		res,
		filepath.Dir(filepath.Clean(res)),
		filepath.Join(res, "..", BinariesDirName),
	} {
		if s.probe(dir) {
			return dir, true
		}
	}
	return "", false
}

// probeExecutableAncestors walks up from the executable's directory.
func (l *Locator) probeExecutableAncestors(s *search) (string, bool) {
	if s.exeDir == "" {
		s.note("skipped: executable path unavailable")
		return "", false
	}
	return l.walkAncestors(s, s.exeDir)
}

// probeWorkingDirAncestors walks up from the working directory.
func (l *Locator) probeWorkingDirAncestors(s *search) (string, bool) {
	cwd, err := l.opts.Getwd()
	if err != nil {
		s.note("skipped: %v", err)
		return "", false
	}
	return l.walkAncestors(s, cwd)
}

// walkAncestors probes the development and packaged layouts at each ancestor level.
func (l *Locator) walkAncestors(s *search, start string) (string, bool) {
	level := filepath.Clean(start)
	for range l.opts.MaxDepth + 1 {
		for _, dir := range []string{
			filepath.Join(level, BinariesDirName),
			level,
			filepath.Join(level, "src", BinariesDirName),
			filepath.Join(level, "src-tauri", BinariesDirName),
			filepath.Join(level, "resources"),
			filepath.Join(level, "resources", BinariesDirName),
		} {
			if s.probe(dir) {
				return dir, true
			}
		}
		parent := filepath.Dir(level)
		if parent == level {
			break
		}
		level = parent
	}
	return "", false
}

// repair copies loose sidecars beside the executable into a binaries folder.
func (l *Locator) repair(s *search) (string, bool) {
	if s.exeDir == "" {
		s.note("skipped: executable path unavailable")
		return "", false
	}
	target := filepath.Join(s.exeDir, BinariesDirName)
	if err := os.MkdirAll(target, 0o755); err != nil {
		s.note("create %s failed: %v", target, err)
		return "", false
	}
	s.note("created %s", target)

	var copied int
	for _, tool := range RequiredTools {
		for _, name := range l.names(tool) {
			src := filepath.Join(s.exeDir, name)
			if !isRegularFile(src) {
				continue
			}
			dst := filepath.Join(target, name)
			if isRegularFile(dst) {
				s.note("%s already present", dst)
				continue
			}
			if err := copyExecutable(src, dst); err != nil {
				s.note("copy %s -> %s failed: %v", src, dst, err)
				continue
			}
			copied++
			s.note("copied %s -> %s", src, dst)
		}
	}
	if copied == 0 {
		s.note("no loose executables beside %s", s.exeDir)
	}

	// The folder may have been probed (and found empty) by an earlier strategy.
	delete(s.seen, target)
	if canon, err := filepath.EvalSymlinks(target); err == nil {
		delete(s.seen, canon)
	}
	if s.probe(target) {
		slog.Info("sidecar directory repaired", "dir", target, "copied", copied)
		return target, true
	}
	return "", false
}

func (l *Locator) names(tool Tool) []string {
	return CandidateNames(tool, l.opts.GOOS, l.opts.GOARCH)
}

// present returns the tools with at least one candidate file in dir.
func (l *Locator) present(dir string, tools []Tool) []string {
	var found []string
	for _, tool := range tools {
		for _, name := range l.names(tool) {
			if isRegularFile(filepath.Join(dir, name)) {
				found = append(found, name)
				break
			}
		}
	}
	return found
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// copyExecutable copies src to dst through a temporary file so concurrent
// repairs never observe a partial binary.
func copyExecutable(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp-" + uuid.NewString()
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = string(t)
	}
	return names
}
