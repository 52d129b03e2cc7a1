// Package config provides the persisted application settings.
//
// Settings are stored as one JSON document under the application root. The
// document is read from disk on every access, so edits made by another
// process are picked up immediately, and rewritten as a whole through a
// temporary file and rename.
package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// FileName is the settings document name inside the application root.
const FileName = "settings.json"

// SupportUploadConfig holds the S3 destination for support bundles.
type SupportUploadConfig struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`    // Custom S3 endpoint (empty = AWS)
	Region          string `json:"region,omitempty" validate:"max=64"`   // Signing region (empty = auto)
	Bucket          string `json:"bucket" validate:"max=63"`             // Target bucket
	AccessKeyID     string `json:"access_key_id" validate:"max=128"`     // Static access key
	SecretAccessKey string `json:"secret_access_key" validate:"max=256"` // Static secret key
}

// Configured reports whether uploads have enough settings to run.
func (c SupportUploadConfig) Configured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// Settings is the persisted settings document. Empty root overrides mean the
// default location under the application root is used.
type Settings struct {
	DownloadRoot  string              `json:"download_root,omitempty" validate:"max=4096"`
	ExportRoot    string              `json:"export_root,omitempty" validate:"max=4096"`
	SupportUpload SupportUploadConfig `json:"support_upload"`
}

// Override returns the configured override for a root kind.
func (s *Settings) Override(kind types.RootKind) string {
	switch kind {
	case types.RootDownload:
		return s.DownloadRoot
	case types.RootExport:
		return s.ExportRoot
	default:
		return ""
	}
}

func (s *Settings) setOverride(kind types.RootKind, path string) error {
	switch kind {
	case types.RootDownload:
		s.DownloadRoot = path
	case types.RootExport:
		s.ExportRoot = path
	default:
		return types.Validation("set_root", "kind", "is not configurable")
	}
	return nil
}

// Store reads and writes the settings document. Writes are serialized within
// the process; concurrent writers in different processes are last-write-wins.
type Store struct {
	mu       sync.Mutex
	filePath string
}

// New creates a Store for the settings document at filePath.
func New(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Path returns the location of the settings document.
func (s *Store) Path() string {
	return s.filePath
}

// Load reads the settings from disk. A missing document yields empty settings.
func (s *Store) Load() (Settings, error) {
	var settings Settings

	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, util.WrapError("parse settings", err)
	}
	if err := util.Validator().Struct(&settings); err != nil {
		return Settings{}, util.WrapError("validate settings", err)
	}
	return settings, nil
}

// Update loads the current document, applies fn and saves the result.
func (s *Store) Update(fn func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(&settings); err != nil {
		return err
	}
	if err := util.Validator().Struct(&settings); err != nil {
		return util.WrapError("validate settings", err)
	}
	return s.saveLocked(&settings)
}

// Override returns the stored override for kind, or "" when unset.
func (s *Store) Override(kind types.RootKind) (string, error) {
	settings, err := s.Load()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(settings.Override(kind)), nil
}

// SetOverride persists an override for a configurable root. An empty path
// clears it.
func (s *Store) SetOverride(kind types.RootKind, path string) error {
	return s.Update(func(settings *Settings) error {
		return settings.setOverride(kind, strings.TrimSpace(path))
	})
}

// SupportUpload returns the stored upload destination.
func (s *Store) SupportUpload() (SupportUploadConfig, error) {
	settings, err := s.Load()
	if err != nil {
		return SupportUploadConfig{}, err
	}
	return settings.SupportUpload, nil
}

// saveLocked writes the document atomically. Caller must hold s.mu.
func (s *Store) saveLocked(settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return util.WrapError("marshal settings", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create settings directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return util.WrapError("create temporary settings file", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return util.WrapError("write settings", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return util.WrapError("sync settings", err)
	}
	if err := tmp.Close(); err != nil {
		return util.WrapError("close settings", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return util.WrapError("set settings permissions", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return util.WrapError("replace settings", err)
	}
	committed = true
	return nil
}

// GenerateToken generates a random 32-character alphanumeric token for the
// UI bridge.
func GenerateToken() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
