package locator

import "fmt"

// Tool is the base name of a sidecar executable.
type Tool string

// Sidecar executables shipped with the application.
const (
	FFmpeg  Tool = "ffmpeg"
	FFprobe Tool = "ffprobe"
	YtDlp   Tool = "yt-dlp"
)

// RequiredTools lists every sidecar the binaries directory may hold.
var RequiredTools = []Tool{FFmpeg, FFprobe, YtDlp}

// targetTriples maps GOOS/GOARCH to the triples used when sidecars are
// bundled with an architecture suffix, e.g. ffmpeg-x86_64-unknown-linux-gnu.
var targetTriples = map[string][]string{
	"linux/amd64":   {"x86_64-unknown-linux-gnu"},
	"linux/arm64":   {"aarch64-unknown-linux-gnu"},
	"linux/386":     {"i686-unknown-linux-gnu"},
	"darwin/amd64":  {"x86_64-apple-darwin", "universal-apple-darwin"},
	"darwin/arm64":  {"aarch64-apple-darwin", "universal-apple-darwin"},
	"windows/amd64": {"x86_64-pc-windows-msvc"},
	"windows/arm64": {"aarch64-pc-windows-msvc"},
	"windows/386":   {"i686-pc-windows-msvc"},
}

// CandidateNames returns the file names a tool may have on the given
// platform, bare name first.
func CandidateNames(tool Tool, goos, goarch string) []string {
	ext := ""
	if goos == "windows" {
		ext = ".exe"
	}

	names := []string{string(tool) + ext}
	for _, triple := range targetTriples[goos+"/"+goarch] {
		names = append(names, fmt.Sprintf("%s-%s%s", tool, triple, ext))
	}
	names = append(names, fmt.Sprintf("%s-%s-%s%s", tool, goos, goarch, ext))
	return names
}
