// Package types provides shared type definitions used across the backend.
package types

import "time"

// RootKind identifies one of the logical runtime directories.
type RootKind string

// Supported root kinds.
const (
	RootDownload RootKind = "download" // Downloaded audio, per-date subfolders
	RootExport   RootKind = "export"   // Exported artifacts, per-date buckets
	RootTemp     RootKind = "temp"     // Temporary working audio
	RootLogs     RootKind = "logs"     // Download, video and session trace logs
)

// AllRootKinds lists the root kinds in resolution order.
var AllRootKinds = []RootKind{RootDownload, RootExport, RootTemp, RootLogs}

// Configurable reports whether the root can be overridden in settings.
func (k RootKind) Configurable() bool {
	return k == RootDownload || k == RootExport
}

// Roots contains every resolved runtime directory.
type Roots struct {
	AppRoot  string `json:"app_root"`
	Download string `json:"download"`
	Export   string `json:"export"`
	Temp     string `json:"temp"`
	Logs     string `json:"logs"`
}

// Export parameters for the black video artifact.
const (
	VideoWidth      = 1280
	VideoHeight     = 720
	VideoFrameRate  = 30
	VideoTag        = "black"
	AudioSampleRate = 48000
	AudioChannels   = 2
	AudioBitrate    = "192k"
)

// ExportJob describes one black video export request.
type ExportJob struct {
	SessionID  string // Restricted to [0-9_]
	InputPath  string // UI-supplied audio file, must be inside a sandbox root
	OutputRoot string // Optional explicit output directory (no date bucket)
	DateBucket string // YYYY-MM-DD, derived from the wall clock when OutputRoot is empty
}

// ExportState tracks an export request through its lifecycle.
type ExportState string

// Export lifecycle states. Completed and Failed are terminal.
const (
	ExportIdle           ExportState = "idle"
	ExportInputValidated ExportState = "input_validated"
	ExportOutputPrepared ExportState = "output_prepared"
	ExportProcessRunning ExportState = "process_running"
	ExportCompleted      ExportState = "completed"
	ExportFailed         ExportState = "failed"
)

// TailLines is the number of output lines kept as the compact process tail.
const TailLines = 50

// ProcessResult contains the outcome of a finished external process.
type ProcessResult struct {
	ExitCode int      `json:"exit_code"`
	Output   string   `json:"output"` // Combined stdout and stderr
	Tail     []string `json:"tail"`   // Last TailLines lines of Output
}

// DownloadPaths is returned by prepare_download.
type DownloadPaths struct {
	DownloadRoot string `json:"download_root"`
	DownloadDir  string `json:"download_dir"`
	LogPath      string `json:"log_path"`
}

// BinariesInfo describes the resolved sidecar directory.
type BinariesInfo struct {
	Dir   string   `json:"dir"`
	Trail []string `json:"trail"`
}

// ExportKind distinguishes exported artifact types in history.
type ExportKind string

// Exported artifact kinds.
const (
	ExportKindVideo ExportKind = "video"
	ExportKindAudio ExportKind = "audio"
)

// HistoryEntry records the outcome of one export.
type HistoryEntry struct {
	ID         int64       `json:"id"`
	SessionID  string      `json:"session_id,omitempty"`
	Kind       ExportKind  `json:"kind"`
	Input      string      `json:"input,omitempty"`
	Output     string      `json:"output,omitempty"`
	State      ExportState `json:"state"`
	ExitCode   int         `json:"exit_code"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string    `json:"current"`               // Current version
	Latest      string    `json:"latest,omitempty"`      // Latest available version
	UpdateAvail bool      `json:"update_available"`      // Update is available
	Commit      string    `json:"commit,omitempty"`      // Git commit hash
	BuildTime   string    `json:"build_time,omitempty"`  // Build timestamp
	CheckedAt   time.Time `json:"checked_at,omitzero"`   // Last completed release check
	CheckError  string    `json:"check_error,omitempty"` // Why the last check failed
	Checking    bool      `json:"checking"`              // Release checks are enabled for this build
}

// StatusInfo is the payload of status/get.
type StatusInfo struct {
	Version     VersionInfo `json:"version"`
	Platform    string      `json:"platform"`
	Roots       Roots       `json:"roots"`
	RootsError  string      `json:"roots_error,omitempty"`
	BinariesDir string      `json:"binaries_dir,omitempty"`
}
