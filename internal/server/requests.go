package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// MaxPathLength bounds every path accepted from the UI.
const MaxPathLength = 4096

// --- Roots ---

// RootGetRequest is the request body for roots/get.
type RootGetRequest struct {
	Kind string `json:"kind" validate:"required,oneof=download export"`
}

// RootSetRequest is the request body for roots/set. An empty path restores
// the default root.
type RootSetRequest struct {
	Kind string `json:"kind" validate:"required,oneof=download export"`
	Path string `json:"path" validate:"max=4096"`
}

// --- Downloads ---

// DateFolderRequest is the request body for downloads/ensure.
type DateFolderRequest struct {
	DateFolder string `json:"date_folder" validate:"required,date_folder"`
}

// DownloadStampRequest is the request body for downloads/temp-audio and downloads/prepare.
type DownloadStampRequest struct {
	DateFolder string `json:"date_folder" validate:"required,date_folder"`
	LogStamp   string `json:"log_stamp" validate:"required,stamp"`
}

// LatestDownloadRequest is the request body for downloads/latest.
type LatestDownloadRequest struct {
	DownloadDir string `json:"download_dir" validate:"required,max=4096"`
}

// --- Files ---

// PathRequest is the request body for files/read.
type PathRequest struct {
	Path string `json:"path" validate:"required,max=4096"`
}

// WriteBinaryRequest is the request body for files/write-binary. Data is
// base64 in JSON.
type WriteBinaryRequest struct {
	Path string `json:"path" validate:"required,max=4096"`
	Data []byte `json:"data"`
}

// WriteTextRequest is the request body for files/write-log and files/write-meta.
type WriteTextRequest struct {
	Path     string `json:"path" validate:"required,max=4096"`
	Contents string `json:"contents"`
}

// --- Export ---

// ExportVideoRequest is the request body for export/video.
type ExportVideoRequest struct {
	InputPath  string `json:"input_path" validate:"required,max=4096"`
	SessionID  string `json:"session_id" validate:"required,stamp"`
	OutputRoot string `json:"output_root" validate:"omitempty,max=4096"`
}

// ExportAudioRequest is the request body for export/audio.
type ExportAudioRequest struct {
	FileName   string `json:"file_name" validate:"required,max=255"`
	Format     string `json:"format" validate:"required,max=8"`
	Data       []byte `json:"data" validate:"required"`
	OutputRoot string `json:"output_root" validate:"omitempty,max=4096"`
}

// HistoryRequest is the request body for history/list.
type HistoryRequest struct {
	Limit int `json:"limit" validate:"omitempty,gte=1,lte=100"`
}

// --- Logs ---

// VideoLogRequest is the request body for logs/video.
type VideoLogRequest struct {
	LogStamp string `json:"log_stamp" validate:"required,stamp"`
	Contents string `json:"contents"`
}

// TraceRequest is the request body for logs/trace.
type TraceRequest struct {
	SessionID string `json:"session_id" validate:"required,stamp"`
	Line      string `json:"line" validate:"max=65536"`
}

// --- Support ---

// SupportUploadRequest is the request body for support/upload. An empty path
// writes and uploads a fresh bundle.
type SupportUploadRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}
