package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// Bridge limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Backend is the set of operations the bridge exposes.
type Backend interface {
	Root(kind types.RootKind) (string, error)
	SetRoot(kind types.RootKind, path string) (string, error)
	EnsureDownloadsDir(dateFolder string) (string, error)
	PrepareTempAudio(dateFolder, logStamp string) (string, error)
	PrepareDownload(dateFolder, logStamp string) (types.DownloadPaths, error)
	FindLatestDownload(dir string) (string, error)
	WriteBinaryFile(path string, data []byte) error
	WriteDownloadLog(path, contents string) error
	WriteMetaFile(path, contents string) error
	ReadDownloadedFile(path string) ([]byte, error)
	ExportBlackVideo(ctx context.Context, inputPath, sessionID, outputRoot string) (string, error)
	ExportAudioFile(ctx context.Context, fileName, format string, data []byte, outputRoot string) (string, error)
	RecentExports(ctx context.Context, limit int) ([]types.HistoryEntry, error)
	WriteVideoLog(logStamp, contents string) (string, error)
	AppendVideoTrace(sessionID, line string) error
	BinariesDir() (types.BinariesInfo, error)
	WriteSupportBundle(ctx context.Context) (string, error)
	UploadSupportBundle(ctx context.Context, path string) (string, error)
	Status() types.StatusInfo
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	backend Backend
	ctx     context.Context // Cancelled on server shutdown
}

// NewCommandHandler creates a new command handler. ctx bounds asynchronous
// commands.
func NewCommandHandler(ctx context.Context, b Backend) *CommandHandler {
	return &CommandHandler{backend: b, ctx: ctx}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "roots/get", "export/video")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "roots":
		h.handleRoots(action, cmd, send, triggerStatusUpdate)
	case "downloads":
		h.handleDownloads(action, cmd, send)
	case "files":
		h.handleFiles(action, cmd, send)
	case "export":
		h.handleExport(action, cmd, send)
	case "history":
		h.handleHistory(action, cmd, send)
	case "logs":
		h.handleLogs(action, cmd, send)
	case "binaries":
		h.handleBinaries(action, cmd, send)
	case "support":
		h.handleSupport(action, cmd, send)
	case "status":
		h.handleStatus(action, cmd, send, triggerStatusUpdate)
	default:
		h.unknown(cmd, send)
	}
}

// unknown answers a command nobody handles so the UI does not wait forever.
func (h *CommandHandler) unknown(cmd WSCommand, send chan<- any) {
	slog.Warn("unknown WebSocket command", "type", cmd.Type)
	SendError(send, cmd, types.Validation("dispatch", "type", "is not a known command"))
}

// --- Namespace handlers ---

// handleRoots routes roots/* commands
func (h *CommandHandler) handleRoots(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "get":
		HandleCommand(cmd, send, func(req *RootGetRequest) (any, error) {
			return h.backend.Root(types.RootKind(req.Kind))
		})
	case "set":
		HandleCommand(cmd, send, func(req *RootSetRequest) (any, error) {
			slog.Info("roots/set: changing root", "kind", req.Kind)
			path, err := h.backend.SetRoot(types.RootKind(req.Kind), req.Path)
			if err == nil {
				triggerStatusUpdate()
			}
			return path, err
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleDownloads routes downloads/* commands
func (h *CommandHandler) handleDownloads(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "ensure":
		HandleCommand(cmd, send, func(req *DateFolderRequest) (any, error) {
			return h.backend.EnsureDownloadsDir(req.DateFolder)
		})
	case "temp-audio":
		HandleCommand(cmd, send, func(req *DownloadStampRequest) (any, error) {
			return h.backend.PrepareTempAudio(req.DateFolder, req.LogStamp)
		})
	case "prepare":
		HandleCommand(cmd, send, func(req *DownloadStampRequest) (any, error) {
			return h.backend.PrepareDownload(req.DateFolder, req.LogStamp)
		})
	case "latest":
		HandleCommandAsync(cmd, send, func(req *LatestDownloadRequest) (any, error) {
			return h.backend.FindLatestDownload(req.DownloadDir)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleFiles routes files/* commands
func (h *CommandHandler) handleFiles(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "write-binary":
		HandleCommand(cmd, send, func(req *WriteBinaryRequest) (any, error) {
			return nil, h.backend.WriteBinaryFile(req.Path, req.Data)
		})
	case "write-log":
		HandleCommand(cmd, send, func(req *WriteTextRequest) (any, error) {
			return nil, h.backend.WriteDownloadLog(req.Path, req.Contents)
		})
	case "write-meta":
		HandleCommand(cmd, send, func(req *WriteTextRequest) (any, error) {
			return nil, h.backend.WriteMetaFile(req.Path, req.Contents)
		})
	case "read":
		HandleCommandAsync(cmd, send, func(req *PathRequest) (any, error) {
			return h.backend.ReadDownloadedFile(req.Path)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleExport routes export/* commands
func (h *CommandHandler) handleExport(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "video":
		HandleCommandAsync(cmd, send, func(req *ExportVideoRequest) (any, error) {
			slog.Info("export/video: starting", "session_id", req.SessionID)
			return h.backend.ExportBlackVideo(h.ctx, req.InputPath, req.SessionID, req.OutputRoot)
		})
	case "audio":
		HandleCommandAsync(cmd, send, func(req *ExportAudioRequest) (any, error) {
			return h.backend.ExportAudioFile(h.ctx, req.FileName, req.Format, req.Data, req.OutputRoot)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleHistory routes history/* commands
func (h *CommandHandler) handleHistory(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		HandleCommand(cmd, send, func(req *HistoryRequest) (any, error) {
			limit := req.Limit
			if limit == 0 {
				limit = DefaultHistoryLimit
			}
			return h.backend.RecentExports(h.ctx, limit)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleLogs routes logs/* commands
func (h *CommandHandler) handleLogs(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "video":
		HandleCommand(cmd, send, func(req *VideoLogRequest) (any, error) {
			return h.backend.WriteVideoLog(req.LogStamp, req.Contents)
		})
	case "trace":
		HandleCommand(cmd, send, func(req *TraceRequest) (any, error) {
			return nil, h.backend.AppendVideoTrace(req.SessionID, req.Line)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleBinaries routes binaries/* commands
func (h *CommandHandler) handleBinaries(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		HandleActionAsync(cmd, send, func() (any, error) {
			info, err := h.backend.BinariesDir()
			if err != nil {
				return nil, err
			}
			return info, nil
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleSupport routes support/* commands
func (h *CommandHandler) handleSupport(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "bundle":
		HandleActionAsync(cmd, send, func() (any, error) {
			return h.backend.WriteSupportBundle(h.ctx)
		})
	case "upload":
		HandleCommandAsync(cmd, send, func(req *SupportUploadRequest) (any, error) {
			return h.backend.UploadSupportBundle(h.ctx, req.Path)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "get":
		SendSuccess(send, cmd, nil)
		triggerStatusUpdate()
	default:
		h.unknown(cmd, send)
	}
}
