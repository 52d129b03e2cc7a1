// Package dirs resolves the application root and the runtime directories
// beneath it.
//
// Every lookup re-validates the directory with a write probe. A directory is
// never handed out on the strength of an earlier check, because users move,
// unmount and chmod folders while the application runs.
package dirs

import (
	"cmp"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/oszuidwest/zwfm-audiodesk/internal/config"
	"github.com/oszuidwest/zwfm-audiodesk/internal/sandbox"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// AppName is the folder name used under the user configuration directory.
const AppName = "zwfm-audiodesk"

// RootEnv overrides the application root.
const RootEnv = "AUDIODESK_ROOT"

// DefaultFolders are the root folder names under the application root.
var DefaultFolders = map[types.RootKind]string{
	types.RootDownload: "downloads",
	types.RootExport:   "exports",
	types.RootTemp:     "temp",
	types.RootLogs:     "logs",
}

// ResolveAppRoot picks the application root. An explicit path (flag, then
// environment) wins; otherwise the first writable default is used.
func ResolveAppRoot(explicit string) (string, error) {
	if p := cmp.Or(strings.TrimSpace(explicit), strings.TrimSpace(os.Getenv(RootEnv))); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", types.NewError(types.KindIO, "resolve_app_root", err)
		}
		if err := sandbox.ValidateWritableDir(abs); err != nil {
			return "", err
		}
		return abs, nil
	}

	var errs []error
	for _, candidate := range defaultAppRoots() {
		if err := sandbox.ValidateWritableDir(candidate); err != nil {
			slog.Warn("application root candidate rejected", "path", candidate, "error", err)
			errs = append(errs, err)
			continue
		}
		return candidate, nil
	}
	return "", types.NewError(types.KindIO, "resolve_app_root", errors.Join(errs...))
}

func defaultAppRoots() []string {
	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, AppName))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "data"))
	}
	if abs, err := filepath.Abs("data"); err == nil {
		candidates = append(candidates, abs)
	}
	return candidates
}

// Provisioner resolves runtime directories under an application root.
type Provisioner struct {
	appRoot  string
	settings *config.Store
}

// New creates a Provisioner for appRoot, reading overrides from settings.
func New(appRoot string, settings *config.Store) *Provisioner {
	return &Provisioner{appRoot: filepath.Clean(appRoot), settings: settings}
}

// AppRoot returns the validated application root.
func (p *Provisioner) AppRoot() (string, error) {
	if err := sandbox.ValidateWritableDir(p.appRoot); err != nil {
		return "", err
	}
	return p.appRoot, nil
}

// Settings returns the settings store backing the overrides.
func (p *Provisioner) Settings() *config.Store {
	return p.settings
}

// Root resolves and validates one runtime directory.
func (p *Provisioner) Root(kind types.RootKind) (string, error) {
	appRoot, err := p.AppRoot()
	if err != nil {
		return "", err
	}

	path, err := p.target(appRoot, kind)
	if err != nil {
		return "", err
	}
	if err := sandbox.ValidateWritableDir(path); err != nil {
		return "", err
	}
	return path, nil
}

// target returns the unvalidated location of kind.
func (p *Provisioner) target(appRoot string, kind types.RootKind) (string, error) {
	folder, ok := DefaultFolders[kind]
	if !ok {
		return "", types.Validation("resolve_root", "kind", "is unknown")
	}
	if kind.Configurable() && p.settings != nil {
		override, err := p.settings.Override(kind)
		if err != nil {
			return "", types.NewError(types.KindIO, "resolve_root", err)
		}
		if override != "" {
			return resolveOverride(appRoot, override), nil
		}
	}
	return filepath.Join(appRoot, folder), nil
}

func resolveOverride(appRoot, override string) string {
	if filepath.IsAbs(override) {
		return filepath.Clean(override)
	}
	return filepath.Join(appRoot, override)
}

// All resolves every runtime directory. The first failure aborts.
func (p *Provisioner) All() (types.Roots, error) {
	appRoot, err := p.AppRoot()
	if err != nil {
		return types.Roots{}, err
	}
	roots := types.Roots{AppRoot: appRoot}
	for _, kind := range types.AllRootKinds {
		path, err := p.Root(kind)
		if err != nil {
			return roots, err
		}
		switch kind {
		case types.RootDownload:
			roots.Download = path
		case types.RootExport:
			roots.Export = path
		case types.RootTemp:
			roots.Temp = path
		case types.RootLogs:
			roots.Logs = path
		}
	}
	return roots, nil
}

// SandboxRoots resolves the given kinds for use as a sandbox root set.
// Kinds that fail to resolve are left out; an error is returned only when
// none resolve.
func (p *Provisioner) SandboxRoots(kinds ...types.RootKind) ([]string, error) {
	roots := make([]string, 0, len(kinds))
	var errs []error
	for _, kind := range kinds {
		path, err := p.Root(kind)
		if err != nil {
			slog.Warn("sandbox root unavailable", "kind", kind, "error", err)
			errs = append(errs, err)
			continue
		}
		roots = append(roots, path)
	}
	if len(roots) == 0 {
		return nil, types.NewError(types.KindIO, "resolve_sandbox_roots", errors.Join(errs...))
	}
	return roots, nil
}

// SetOverride changes a configurable root and returns the directory now in
// effect. A blank path clears the override. A new override is proven
// writable before it is persisted, so a failed call leaves settings untouched.
func (p *Provisioner) SetOverride(kind types.RootKind, path string) (string, error) {
	if !kind.Configurable() {
		return "", types.Validation("set_root", "kind", "is not configurable")
	}
	if p.settings == nil {
		return "", types.NewError(types.KindIO, "set_root", errors.New("no settings store"))
	}
	appRoot, err := p.AppRoot()
	if err != nil {
		return "", err
	}

	path = strings.TrimSpace(path)
	if path == "" {
		if err := p.settings.SetOverride(kind, ""); err != nil {
			return "", types.NewError(types.KindIO, "set_root", err)
		}
		slog.Info("root override cleared", "kind", kind)
		return p.Root(kind)
	}

	resolved := resolveOverride(appRoot, path)
	if err := sandbox.ValidateWritableDir(resolved); err != nil {
		slog.Warn("root override rejected", "kind", kind, "path", resolved, "error", err)
		return "", err
	}
	if err := p.settings.SetOverride(kind, resolved); err != nil {
		return "", types.NewError(types.KindIO, "set_root", err)
	}
	slog.Info("root override saved", "kind", kind, "path", resolved)
	return resolved, nil
}
