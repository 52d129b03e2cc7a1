package export

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oszuidwest/zwfm-audiodesk/internal/sandbox"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// MaxFileNameLength bounds a sanitized export file name, extension excluded.
const MaxFileNameLength = 120

// AudioFormats lists the accepted audio export extensions.
var AudioFormats = []string{"mp3", "wav", "m4a", "flac", "ogg", "opus", "aac"}

// SanitizeFileName reduces a UI-supplied name to a safe base name. Runs of
// characters outside [A-Za-z0-9 ._-] become a single underscore. It returns
// "" when nothing usable remains.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = name[strings.LastIndex(name, "/")+1:]

	var b strings.Builder
	replaced := false
	for _, r := range name {
		if isSafeNameRune(r) {
			b.WriteRune(r)
			replaced = false
			continue
		}
		if !replaced {
			b.WriteByte('_')
			replaced = true
		}
	}

	out := strings.Trim(b.String(), " .")
	if len(out) > MaxFileNameLength {
		out = strings.TrimRight(out[:MaxFileNameLength], " .")
	}
	if strings.Trim(out, "_") == "" {
		return ""
	}
	return out
}

func isSafeNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// NormalizeFormat lowercases an audio format and strips a leading dot.
// It returns "" for unsupported formats.
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if slices.Contains(AudioFormats, format) {
		return format
	}
	return ""
}

// ExportAudioFile writes data as <name>.<format> in outputRoot, or in a dated
// folder under the export root when outputRoot is empty. It returns the
// canonical path of the written file.
func (e *Exporter) ExportAudioFile(fileName, format string, data []byte, outputRoot string) (string, error) {
	const op = "export_audio_file"

	ext := NormalizeFormat(format)
	if ext == "" {
		return "", types.Validation(op, "format", "must be one of "+strings.Join(AudioFormats, ", "))
	}
	name := SanitizeFileName(fileName)
	if strings.EqualFold(filepath.Ext(name), "."+ext) {
		name = strings.TrimRight(name[:len(name)-len(ext)-1], " .")
	}
	if name == "" {
		return "", types.Validation(op, "file_name", "has no usable characters")
	}

	dir, derr := e.outputDir(op, strings.TrimSpace(outputRoot), util.DateFolder(e.now()))
	if derr != nil {
		return "", derr
	}
	if err := sandbox.ValidateWritableDir(dir); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("failed to write audio export", "path", path, "error", err)
		return "", types.NewError(types.KindIO, op, err)
	}
	final, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	slog.Info("audio exported", "path", final, "bytes", len(data))
	return final, nil
}
