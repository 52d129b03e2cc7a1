// Package downloads manages downloaded audio and the files written around it.
//
// Every path supplied by the UI is checked against a fixed set of sandbox
// roots before the filesystem is touched, and every identifier used to build
// a path is validated first.
package downloads

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oszuidwest/zwfm-audiodesk/internal/sandbox"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// Sandbox root sets per operation.
var (
	ReadRoots   = []types.RootKind{types.RootDownload, types.RootTemp}
	BinaryRoots = []types.RootKind{types.RootDownload, types.RootTemp}
	LogRoots    = []types.RootKind{types.RootLogs, types.RootDownload}
	MetaRoots   = []types.RootKind{types.RootDownload}
)

// Roots resolves runtime directories.
type Roots interface {
	Root(kind types.RootKind) (string, error)
	SandboxRoots(kinds ...types.RootKind) ([]string, error)
}

// Manager implements the download-side file operations.
type Manager struct {
	roots Roots
}

// New creates a Manager.
func New(roots Roots) *Manager {
	return &Manager{roots: roots}
}

// EnsureDownloadsDir creates and returns the dated folder under the download root.
func (m *Manager) EnsureDownloadsDir(dateFolder string) (string, error) {
	const op = "ensure_downloads_dir"
	if err := util.ValidateDateFolder(op, dateFolder); err != nil {
		return "", err
	}
	root, err := m.roots.Root(types.RootDownload)
	if err != nil {
		return "", err
	}
	return makeDir(op, filepath.Join(root, dateFolder))
}

// PrepareTempAudio returns temp/<dateFolder>/audio_<logStamp>.mp3 with its
// folder created.
func (m *Manager) PrepareTempAudio(dateFolder, logStamp string) (string, error) {
	const op = "prepare_temp_audio"
	if err := util.ValidateDateFolder(op, dateFolder); err != nil {
		return "", err
	}
	if err := util.ValidateStamp(op, "log_stamp", logStamp); err != nil {
		return "", err
	}
	root, err := m.roots.Root(types.RootTemp)
	if err != nil {
		return "", err
	}
	dir, err := makeDir(op, filepath.Join(root, dateFolder))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("audio_%s.mp3", logStamp)), nil
}

// PrepareDownload creates the dated download folder and names the log file
// for one download.
func (m *Manager) PrepareDownload(dateFolder, logStamp string) (types.DownloadPaths, error) {
	const op = "prepare_download"
	if err := util.ValidateDateFolder(op, dateFolder); err != nil {
		return types.DownloadPaths{}, err
	}
	if err := util.ValidateStamp(op, "log_stamp", logStamp); err != nil {
		return types.DownloadPaths{}, err
	}

	downloadRoot, err := m.roots.Root(types.RootDownload)
	if err != nil {
		return types.DownloadPaths{}, err
	}
	logsRoot, err := m.roots.Root(types.RootLogs)
	if err != nil {
		return types.DownloadPaths{}, err
	}
	dir, err := makeDir(op, filepath.Join(downloadRoot, dateFolder))
	if err != nil {
		return types.DownloadPaths{}, err
	}
	return types.DownloadPaths{
		DownloadRoot: downloadRoot,
		DownloadDir:  dir,
		LogPath:      filepath.Join(logsRoot, fmt.Sprintf("download_%s.log", logStamp)),
	}, nil
}

// WriteVideoLog overwrites logs/video_<logStamp>.log.
func (m *Manager) WriteVideoLog(logStamp, contents string) (string, error) {
	const op = "write_video_log"
	if err := util.ValidateStamp(op, "log_stamp", logStamp); err != nil {
		return "", err
	}
	root, err := m.roots.Root(types.RootLogs)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, fmt.Sprintf("video_%s.log", logStamp))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	return path, nil
}

// ReadFile returns the contents of a file in the download or temp root.
func (m *Manager) ReadFile(path string) ([]byte, error) {
	const op = "read_downloaded_file"
	target, err := m.resolve(op, ReadRoots, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		slog.Warn("failed to read file", "op", op, "path", target, "error", err)
		return nil, types.NewError(types.KindIO, op, err)
	}
	return data, nil
}

// WriteBinary writes data to a file in the download or temp root.
func (m *Manager) WriteBinary(path string, data []byte) error {
	return m.write("write_binary_file", BinaryRoots, path, data)
}

// WriteLog writes a download log in the logs or download root.
func (m *Manager) WriteLog(path, contents string) error {
	return m.write("write_download_log", LogRoots, path, []byte(contents))
}

// WriteMeta writes a metadata file in the download root.
func (m *Manager) WriteMeta(path, contents string) error {
	return m.write("write_meta_file", MetaRoots, path, []byte(contents))
}

func (m *Manager) write(op string, kinds []types.RootKind, path string, data []byte) error {
	target, err := m.resolve(op, kinds, path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		slog.Warn("failed to write file", "op", op, "path", target, "error", err)
		return types.NewError(types.KindIO, op, err)
	}
	return nil
}

// resolve checks path against the given roots and returns the file path with
// its parent directory canonicalized.
func (m *Manager) resolve(op string, kinds []types.RootKind, path string) (string, error) {
	roots, err := m.roots.SandboxRoots(kinds...)
	if err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	return sandbox.Resolve(op, roots, path)
}

func makeDir(op, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	return dir, nil
}
