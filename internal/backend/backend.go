// Package backend exposes the operations available to the UI.
//
// Every method returns classified errors (see types.Error). Full detail is
// logged here; callers crossing the UI boundary must only forward
// types.PublicMessage(err).
package backend

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/config"
	"github.com/oszuidwest/zwfm-audiodesk/internal/dirs"
	"github.com/oszuidwest/zwfm-audiodesk/internal/downloads"
	"github.com/oszuidwest/zwfm-audiodesk/internal/export"
	"github.com/oszuidwest/zwfm-audiodesk/internal/history"
	"github.com/oszuidwest/zwfm-audiodesk/internal/locator"
	"github.com/oszuidwest/zwfm-audiodesk/internal/sandbox"
	"github.com/oszuidwest/zwfm-audiodesk/internal/support"
	"github.com/oszuidwest/zwfm-audiodesk/internal/tracelog"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// Options configures a Backend.
type Options struct {
	AppRoot     string                // Validated application root
	ResourceDir string                // Packaged resource directory (empty = derived)
	Locator     *locator.Locator      // Optional; built from ResourceDir when nil
	Version     support.VersionSource // Optional version information
}

// Backend wires the components behind the UI operations. It is safe for
// concurrent use.
type Backend struct {
	dirs      *dirs.Provisioner
	locator   *locator.Locator
	traces    *tracelog.Writer
	exporter  *export.Exporter
	downloads *downloads.Manager
	history   *history.Store
	bundler   *support.Bundler
	version   support.VersionSource
}

// New creates a Backend rooted at opts.AppRoot. An unavailable export
// history is logged and disables history only.
func New(ctx context.Context, opts Options) (*Backend, error) {
	settings := config.New(filepath.Join(opts.AppRoot, config.FileName))
	p := dirs.New(opts.AppRoot, settings)
	appRoot, err := p.AppRoot()
	if err != nil {
		return nil, err
	}

	loc := opts.Locator
	if loc == nil {
		loc = locator.New(locator.Options{ResourceDir: opts.ResourceDir})
	}
	traces := tracelog.New(func() (string, error) { return p.Root(types.RootLogs) })

	b := &Backend{
		dirs:      p,
		locator:   loc,
		traces:    traces,
		exporter:  export.New(p, loc, traces),
		downloads: downloads.New(p),
		version:   opts.Version,
	}

	store, err := history.Open(ctx, filepath.Join(appRoot, history.FileName))
	if err != nil {
		slog.Warn("export history unavailable", "error", err)
	} else {
		b.history = store
	}

	var hist support.History
	if b.history != nil {
		hist = b.history
	}
	b.bundler = support.NewBundler(p, loc, hist, opts.Version)
	return b, nil
}

// Close releases the history database.
func (b *Backend) Close() error {
	return b.history.Close()
}

// Dirs returns the directory provisioner.
func (b *Backend) Dirs() *dirs.Provisioner {
	return b.dirs
}

// fail logs err with its full detail and returns it unchanged.
func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	attrs := []any{"op", op, "kind", types.KindOf(err), "error", err}
	if types.IsKind(err, types.KindValidation) || types.IsKind(err, types.KindPathSecurity) {
		slog.Warn("operation rejected", attrs...)
	} else {
		slog.Error("operation failed", attrs...)
	}
	return err
}

// Root returns the validated directory for kind.
func (b *Backend) Root(kind types.RootKind) (string, error) {
	p, err := b.dirs.Root(kind)
	return p, fail("get_root", err)
}

// SetRoot changes a configurable root; an empty path restores the default.
func (b *Backend) SetRoot(kind types.RootKind, path string) (string, error) {
	p, err := b.dirs.SetOverride(kind, path)
	return p, fail("set_root", err)
}

// Roots resolves every runtime directory.
func (b *Backend) Roots() (types.Roots, error) {
	r, err := b.dirs.All()
	return r, fail("get_roots", err)
}

// EnsureDownloadsDir creates the dated download folder.
func (b *Backend) EnsureDownloadsDir(dateFolder string) (string, error) {
	p, err := b.downloads.EnsureDownloadsDir(dateFolder)
	return p, fail("ensure_downloads_dir", err)
}

// PrepareTempAudio returns the temp path for a download's audio.
func (b *Backend) PrepareTempAudio(dateFolder, logStamp string) (string, error) {
	p, err := b.downloads.PrepareTempAudio(dateFolder, logStamp)
	return p, fail("prepare_temp_audio", err)
}

// PrepareDownload creates the download folder and names its log.
func (b *Backend) PrepareDownload(dateFolder, logStamp string) (types.DownloadPaths, error) {
	p, err := b.downloads.PrepareDownload(dateFolder, logStamp)
	return p, fail("prepare_download", err)
}

// WriteBinaryFile writes data inside the download or temp root.
func (b *Backend) WriteBinaryFile(path string, data []byte) error {
	return fail("write_binary_file", b.downloads.WriteBinary(path, data))
}

// WriteDownloadLog writes a download log inside the logs or download root.
func (b *Backend) WriteDownloadLog(path, contents string) error {
	return fail("write_download_log", b.downloads.WriteLog(path, contents))
}

// WriteMetaFile writes metadata inside the download root.
func (b *Backend) WriteMetaFile(path, contents string) error {
	return fail("write_meta_file", b.downloads.WriteMeta(path, contents))
}

// ReadDownloadedFile reads a file from the download or temp root.
func (b *Backend) ReadDownloadedFile(path string) ([]byte, error) {
	data, err := b.downloads.ReadFile(path)
	return data, fail("read_downloaded_file", err)
}

// FindLatestDownload returns the newest audio file beneath dir.
func (b *Backend) FindLatestDownload(dir string) (string, error) {
	p, err := b.downloads.FindLatest(dir)
	return p, fail("find_latest_download", err)
}

// ExportBlackVideo renders input audio to a black-frame MP4 and records the
// attempt in the export history.
func (b *Backend) ExportBlackVideo(ctx context.Context, inputPath, sessionID, outputRoot string) (string, error) {
	res, err := b.exporter.ExportBlackVideo(ctx, sessionID, inputPath, outputRoot)
	if !types.IsKind(err, types.KindValidation) {
		b.record(ctx, &types.HistoryEntry{
			SessionID:  sessionID,
			Kind:       types.ExportKindVideo,
			Input:      inputPath,
			Output:     res.Path,
			State:      res.State,
			ExitCode:   res.ExitCode,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
		})
	}
	return res.Path, fail("export_black_video", err)
}

// ExportAudioFile writes UI-rendered audio to the export location.
func (b *Backend) ExportAudioFile(ctx context.Context, fileName, format string, data []byte, outputRoot string) (string, error) {
	started := time.Now()
	path, err := b.exporter.ExportAudioFile(fileName, format, data, outputRoot)
	if err == nil {
		b.record(ctx, &types.HistoryEntry{
			Kind:       types.ExportKindAudio,
			Output:     path,
			State:      types.ExportCompleted,
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
	}
	return path, fail("export_audio_file", err)
}

// record stores a history entry. Failures never affect the export result.
func (b *Backend) record(ctx context.Context, e *types.HistoryEntry) {
	if b.history == nil {
		return
	}
	if _, err := b.history.Record(context.WithoutCancel(ctx), e); err != nil {
		slog.Warn("failed to record export history", "kind", e.Kind, "error", err)
	}
}

// RecentExports lists up to limit history entries, newest first.
func (b *Backend) RecentExports(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	if b.history == nil {
		return []types.HistoryEntry{}, nil
	}
	entries, err := b.history.Recent(ctx, limit)
	if err != nil {
		return nil, fail("recent_exports", types.NewError(types.KindIO, "recent_exports", err))
	}
	return entries, nil
}

// WriteVideoLog overwrites the video log for logStamp.
func (b *Backend) WriteVideoLog(logStamp, contents string) (string, error) {
	p, err := b.downloads.WriteVideoLog(logStamp, contents)
	return p, fail("write_video_log", err)
}

// AppendVideoTrace appends a UI line to a session trace.
func (b *Backend) AppendVideoTrace(sessionID, line string) error {
	err := b.traces.AppendLine(sessionID, line)
	if err != nil && !types.IsKind(err, types.KindValidation) {
		err = types.NewError(types.KindIO, "append_video_trace", err)
	}
	return fail("append_video_trace", err)
}

// BinariesDir locates the sidecar directory. The trail is returned on
// failure too.
func (b *Backend) BinariesDir() (types.BinariesInfo, error) {
	res, err := b.locator.Locate()
	if err != nil {
		return types.BinariesInfo{Trail: types.TrailOf(err)}, fail("get_binaries_dir", err)
	}
	return types.BinariesInfo{Dir: res.Dir, Trail: res.Trail}, nil
}

// WriteSupportBundle writes a diagnostic bundle to the logs root.
func (b *Backend) WriteSupportBundle(ctx context.Context) (string, error) {
	p, err := b.bundler.Write(ctx)
	return p, fail("write_support_bundle", err)
}

// UploadSupportBundle uploads the bundle at path, writing a fresh bundle
// first when path is empty. It returns the object key.
func (b *Backend) UploadSupportBundle(ctx context.Context, path string) (string, error) {
	const op = "upload_support_bundle"
	cfg, err := b.dirs.Settings().SupportUpload()
	if err != nil {
		return "", fail(op, types.NewError(types.KindIO, op, err))
	}
	uploader, err := support.NewUploader(cfg)
	if err != nil {
		return "", fail(op, types.NewError(types.KindValidation, op, err).WithPublic("Support upload is not configured"))
	}

	if path == "" {
		if path, err = b.WriteSupportBundle(ctx); err != nil {
			return "", err
		}
	} else {
		logs, err := b.dirs.Root(types.RootLogs)
		if err != nil {
			return "", fail(op, err)
		}
		if path, err = sandbox.Resolve(op, []string{logs}, path); err != nil {
			return "", fail(op, err)
		}
	}

	key, err := uploader.Upload(ctx, path)
	return key, fail(op, err)
}

// Status reports version, directories and the sidecar directory.
func (b *Backend) Status() types.StatusInfo {
	info := types.StatusInfo{Platform: runtime.GOOS + "/" + runtime.GOARCH}
	if b.version != nil {
		info.Version = b.version.Info()
	}
	roots, err := b.dirs.All()
	info.Roots = roots
	if err != nil {
		info.RootsError = types.PublicMessage(err)
	}
	if res, err := b.locator.Locate(); err == nil {
		info.BinariesDir = res.Dir
	}
	return info
}
