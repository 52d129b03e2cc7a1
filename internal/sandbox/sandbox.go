// Package sandbox confines UI-supplied paths to application-owned roots.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// probeSize is the amount of data written to prove a directory is writable.
const probeSize = 1024

// Canonicalize returns the absolute, symlink-free form of an existing path.
func Canonicalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// IsWithin reports whether the parent directory of candidate is root or one
// of its descendants. Both sides are canonicalized first, so symlinks and
// ".." segments cannot escape root. An error is returned when either side
// cannot be resolved.
func IsWithin(root, candidate string) (bool, error) {
	canonRoot, err := Canonicalize(root)
	if err != nil {
		return false, fmt.Errorf("resolve root: %w", err)
	}
	parent, err := canonicalParent(candidate)
	if err != nil {
		return false, err
	}
	return contains(canonRoot, parent), nil
}

// IsWithinAny reports whether candidate is inside at least one of roots.
// Roots that cannot be resolved are skipped; an error is returned only when
// none of them resolve or the candidate itself cannot be resolved. When the
// candidate already exists it is canonicalized as well, so a symlink placed
// inside a root cannot point outside of it.
func IsWithinAny(roots []string, candidate string) (bool, error) {
	parent, err := canonicalParent(candidate)
	if err != nil {
		return false, err
	}
	target, err := existingTarget(candidate)
	if err != nil {
		return false, err
	}
	return anyContains(roots, parent, target)
}

// IsDirWithinAny reports whether dir itself is one of roots or below one of
// them. Unlike IsWithinAny the directory is canonicalized as a whole, so a
// root is considered within itself.
func IsDirWithinAny(roots []string, dir string) (bool, error) {
	canonDir, err := Canonicalize(dir)
	if err != nil {
		return false, fmt.Errorf("resolve directory: %w", err)
	}
	return anyContains(roots, canonDir, "")
}

func anyContains(roots []string, path, target string) (bool, error) {
	var resolved int
	for _, root := range roots {
		canonRoot, err := Canonicalize(root)
		if err != nil {
			slog.Debug("sandbox root unresolvable", "root", root, "error", err)
			continue
		}
		resolved++
		if contains(canonRoot, path) && (target == "" || contains(canonRoot, target)) {
			return true, nil
		}
	}
	if resolved == 0 {
		return false, errors.New("no sandbox root could be resolved")
	}
	return false, nil
}

// Check rejects candidate unless it lies within one of roots. The returned
// error is always KindPathSecurity and never exposes the OS error to the UI.
func Check(op string, roots []string, candidate string) error {
	return check(op, roots, candidate, IsWithinAny)
}

// CheckDir is Check for operations that take a directory argument.
func CheckDir(op string, roots []string, dir string) error {
	return check(op, roots, dir, IsDirWithinAny)
}

func check(op string, roots []string, candidate string, within func([]string, string) (bool, error)) error {
	ok, err := within(roots, candidate)
	if err != nil {
		slog.Warn("sandbox check failed", "op", op, "path", candidate, "error", err)
		return types.NewError(types.KindPathSecurity, op, err).WithDetail("unresolvable path %q", candidate)
	}
	if !ok {
		slog.Warn("sandbox rejected path", "op", op, "path", candidate, "roots", roots)
		return types.NewError(types.KindPathSecurity, op, nil).WithDetail("path %q outside sandbox", candidate)
	}
	return nil
}

// Resolve checks candidate against roots and returns its canonical form:
// the canonical parent joined with the final path element.
func Resolve(op string, roots []string, candidate string) (string, error) {
	name := filepath.Base(filepath.Clean(candidate))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", types.NewError(types.KindPathSecurity, op, nil).WithDetail("path %q has no file name", candidate)
	}
	if err := Check(op, roots, candidate); err != nil {
		return "", err
	}
	parent, err := canonicalParent(candidate)
	if err != nil {
		return "", types.NewError(types.KindPathSecurity, op, err)
	}
	return filepath.Join(parent, name), nil
}

// ResolveDir checks a directory that may not exist yet. The nearest existing
// ancestor is canonicalized and must be inside one of roots; the missing
// elements are appended to it unchanged. Nothing is created.
func ResolveDir(op string, roots []string, dir string) (string, error) {
	reject := func(err error) error {
		slog.Warn("sandbox rejected directory", "op", op, "path", dir, "roots", roots, "error", err)
		return types.NewError(types.KindPathSecurity, op, err).WithDetail("directory %q outside sandbox", dir)
	}
	if strings.TrimSpace(dir) == "" {
		return "", reject(errors.New("empty path"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", reject(err)
	}

	existing, missing := abs, []string{}
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", reject(err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", reject(errors.New("no existing ancestor"))
		}
		missing = append(missing, filepath.Base(existing))
		existing = parent
	}

	canon, err := Canonicalize(existing)
	if err != nil {
		return "", reject(err)
	}
	ok, err := anyContains(roots, canon, "")
	if err != nil {
		return "", reject(err)
	}
	if !ok {
		return "", reject(nil)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		canon = filepath.Join(canon, missing[i])
	}
	return canon, nil
}

// ValidateWritableDir creates path if needed, writes a probe file into it and
// removes the probe again. Any failing step makes the directory unusable.
func ValidateWritableDir(path string) error {
	const op = "validate_writable_dir"

	fail := func(step string, err error) error {
		slog.Error("path writability check failed", "path", path, "error", err, "step", step)
		return types.NewError(types.KindIO, op, err).WithDetail("%s %q", step, path)
	}

	if strings.TrimSpace(path) == "" {
		return fail("mkdir", errors.New("empty path"))
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fail("mkdir", err)
	}

	probe := filepath.Join(path, ".audiodesk-write-test-"+uuid.NewString())

	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fail("create", err)
	}

	if _, err := f.Write(make([]byte, probeSize)); err != nil {
		_ = f.Close()
		_ = os.Remove(probe) // Best effort cleanup
		return fail("write", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(probe) // Best effort cleanup
		return fail("close", err)
	}

	// Cleanup must succeed for the check to pass
	if err := os.Remove(probe); err != nil {
		return fail("remove", err)
	}

	return nil
}

func canonicalParent(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", errors.New("empty candidate path")
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", fmt.Errorf("resolve candidate parent: %w", err)
	}
	return parent, nil
}

// existingTarget returns the canonical form of candidate when it exists,
// or "" when it does not exist yet.
func existingTarget(candidate string) (string, error) {
	if _, err := os.Lstat(candidate); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat candidate: %w", err)
	}
	target, err := Canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}
	return target, nil
}

// contains reports whether path equals root or is below it, comparing whole
// path components so /data/app2 is not inside /data/app.
func contains(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
