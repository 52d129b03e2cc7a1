package downloads

import (
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/sandbox"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// AudioExt is the extension of finished downloads.
const AudioExt = ".mp3"

// FindLatest returns the most recently modified audio file beneath dir.
// Equal modification times resolve to the lexically greatest path.
func (m *Manager) FindLatest(dir string) (string, error) {
	const op = "find_latest_download"
	roots, err := m.roots.SandboxRoots(types.RootDownload)
	if err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	if err := sandbox.CheckDir(op, roots, dir); err != nil {
		return "", err
	}
	canon, err := sandbox.Canonicalize(dir)
	if err != nil {
		return "", types.NewError(types.KindPathSecurity, op, err)
	}

	var (
		best    string
		bestMod time.Time
	)
	for path, info := range audioFiles(canon) {
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && path > best) {
			best, bestMod = path, mod
		}
	}
	if best == "" {
		return "", types.NewError(types.KindNotFound, op, nil).WithPublic("No downloaded file found")
	}
	return best, nil
}

// audioFiles walks root with an explicit stack and yields every regular
// audio file. Symlinked directories are not followed; unreadable directories
// are skipped.
func audioFiles(root string) iter.Seq2[string, os.FileInfo] {
	return func(yield func(string, os.FileInfo) bool) {
		stack := []string{root}
		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			entries, err := os.ReadDir(dir)
			if err != nil {
				slog.Debug("skipping unreadable directory", "dir", dir, "error", err)
				continue
			}
			for _, e := range entries {
				path := filepath.Join(dir, e.Name())
				if e.IsDir() {
					stack = append(stack, path)
					continue
				}
				if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), AudioExt) {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				if !yield(path, info) {
					return
				}
			}
		}
	}
}
