// Package support assembles diagnostic bundles for troubleshooting.
//
// A bundle is a single text file in the logs root that collects everything
// needed to diagnose a broken installation: version, resolved directories,
// the sidecar search trail, and the tails of the most recent logs. Failures
// while collecting a section are written into the bundle instead of aborting.
package support

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-audiodesk/internal/locator"
	"github.com/oszuidwest/zwfm-audiodesk/internal/tracelog"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// Bundle limits.
const (
	TailLines    = 200
	HistoryLimit = 20
)

// BundlePrefix starts every bundle file name.
const BundlePrefix = "support_bundle_"

// Roots resolves runtime directories.
type Roots interface {
	Root(kind types.RootKind) (string, error)
	AppRoot() (string, error)
}

// Locator finds the sidecar directory.
type Locator interface {
	Locate() (locator.Result, error)
}

// History lists recent exports.
type History interface {
	Recent(ctx context.Context, limit int) ([]types.HistoryEntry, error)
}

// VersionSource reports the running and latest known version.
type VersionSource interface {
	Info() types.VersionInfo
}

// Bundler writes support bundles. History and Version may be nil.
type Bundler struct {
	Roots   Roots
	Locator Locator
	History History
	Version VersionSource
	now     func() time.Time
}

// NewBundler creates a Bundler.
func NewBundler(roots Roots, loc Locator, history History, version VersionSource) *Bundler {
	return &Bundler{Roots: roots, Locator: loc, History: history, Version: version, now: time.Now}
}

// Write assembles a bundle and returns its path. Only a logs root that
// cannot be resolved, or a failed write, is an error.
func (b *Bundler) Write(ctx context.Context) (string, error) {
	const op = "write_support_bundle"
	logsDir, err := b.Roots.Root(types.RootLogs)
	if err != nil {
		return "", err
	}

	now := b.now()
	var sb strings.Builder
	b.writeHeader(&sb, now)
	b.writeRoots(&sb)
	b.writeBinaries(&sb)
	writeLogTail(&sb, "Latest download log", logsDir, latestLog(logsDir, "download_", ""))
	writeLogTail(&sb, "Latest video log", logsDir, latestLog(logsDir, "video_", tracelog.FilePrefix))
	writeLogTail(&sb, "Latest session trace", logsDir, latestLog(logsDir, tracelog.FilePrefix, ""))
	b.writeHistory(ctx, &sb)

	path := filepath.Join(logsDir, BundlePrefix+util.FileStamp(now)+".txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	slog.Info("support bundle written", "path", path, "bytes", sb.Len())
	return path, nil
}

func section(sb *strings.Builder, title string) {
	fmt.Fprintf(sb, "\n== %s ==\n", title)
}

func (b *Bundler) writeHeader(sb *strings.Builder, now time.Time) {
	fmt.Fprintf(sb, "zwfm-audiodesk support bundle\n")
	fmt.Fprintf(sb, "bundle_id: %s\n", uuid.NewString())
	fmt.Fprintf(sb, "generated_at: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(sb, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(sb, "go: %s\n", runtime.Version())

	if b.Version == nil {
		return
	}
	info := b.Version.Info()
	fmt.Fprintf(sb, "version: %s\n", info.Current)
	fmt.Fprintf(sb, "commit: %s\n", cmp.Or(info.Commit, "unknown"))
	fmt.Fprintf(sb, "build_time: %s\n", cmp.Or(info.BuildTime, "unknown"))
	switch {
	case info.Latest == "":
		fmt.Fprintf(sb, "latest_release: unknown\n")
	case info.UpdateAvail:
		fmt.Fprintf(sb, "latest_release: %s (update available)\n", info.Latest)
	default:
		fmt.Fprintf(sb, "latest_release: %s\n", info.Latest)
	}
	switch {
	case !info.Checking:
		fmt.Fprintf(sb, "update_check: disabled for this build\n")
	case info.CheckedAt.IsZero():
		fmt.Fprintf(sb, "update_check: not run yet\n")
	case info.CheckError != "":
		fmt.Fprintf(sb, "update_check: failed at %s: %s\n", info.CheckedAt.UTC().Format(time.RFC3339), info.CheckError)
	default:
		fmt.Fprintf(sb, "update_check: ok at %s\n", info.CheckedAt.UTC().Format(time.RFC3339))
	}
}

func (b *Bundler) writeRoots(sb *strings.Builder) {
	section(sb, "Directories")
	if appRoot, err := b.Roots.AppRoot(); err != nil {
		fmt.Fprintf(sb, "app_root: ERROR %v\n", err)
	} else {
		fmt.Fprintf(sb, "app_root: %s\n", appRoot)
	}
	for _, kind := range types.AllRootKinds {
		path, err := b.Roots.Root(kind)
		if err != nil {
			fmt.Fprintf(sb, "%s: ERROR %v\n", kind, err)
			continue
		}
		fmt.Fprintf(sb, "%s: %s\n", kind, path)
	}
}

func (b *Bundler) writeBinaries(sb *strings.Builder) {
	section(sb, "Binaries")
	if b.Locator == nil {
		fmt.Fprintf(sb, "locator unavailable\n")
		return
	}
	res, err := b.Locator.Locate()
	trail := res.Trail
	if err != nil {
		fmt.Fprintf(sb, "dir: NOT FOUND (%v)\n", err)
		if t := types.TrailOf(err); len(t) > 0 {
			trail = t
		}
	} else {
		fmt.Fprintf(sb, "dir: %s\n", res.Dir)
	}
	for _, line := range trail {
		fmt.Fprintf(sb, "  %s\n", line)
	}
}

// latestLog returns the newest *.log file in dir whose name starts with
// prefix and not with exclude.
func latestLog(dir, prefix, exclude string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		if exclude != "" && strings.HasPrefix(name, exclude) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) || (info.ModTime().Equal(bestMod) && name > best) {
			best, bestMod = name, info.ModTime()
		}
	}
	return best
}

func writeLogTail(sb *strings.Builder, title, dir, name string) {
	if name == "" {
		section(sb, title)
		fmt.Fprintf(sb, "(none)\n")
		return
	}
	section(sb, title+": "+name)
	lines, err := tracelog.ReadTail(filepath.Join(dir, name), TailLines)
	if err != nil {
		fmt.Fprintf(sb, "ERROR %v\n", err)
		return
	}
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
}

func (b *Bundler) writeHistory(ctx context.Context, sb *strings.Builder) {
	section(sb, "Recent exports")
	if b.History == nil {
		fmt.Fprintf(sb, "(history unavailable)\n")
		return
	}
	entries, err := b.History.Recent(ctx, HistoryLimit)
	if err != nil {
		fmt.Fprintf(sb, "ERROR %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintf(sb, "(none)\n")
		return
	}
	for _, e := range slices.Backward(entries) {
		fmt.Fprintf(sb, "%s %-5s %-9s exit=%d session=%s output=%s\n",
			e.FinishedAt.UTC().Format(time.RFC3339), e.Kind, e.State, e.ExitCode,
			cmp.Or(e.SessionID, "-"), cmp.Or(e.Output, "-"))
	}
}
