// Package tracelog writes per-session export traces.
//
// A trace is an append-only text file, one record per line:
//
//	2026-10-19T09:14:03.512Z [ffmpeg_exit] code=1 tail="..."
//
// Each record is written with a single Write call on a file opened with
// O_APPEND, so concurrent appenders never interleave partial lines.
package tracelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// Stage labels one record in a session trace.
type Stage string

// Export stages, in the order they are written.
const (
	StageExportStart       Stage = "export_start"
	StageInputRejected     Stage = "input_rejected"
	StageOutputRejected    Stage = "output_rejected"
	StageLocatorFailed     Stage = "locator_failed"
	StageFFmpegInvoke      Stage = "ffmpeg_invoke"
	StageFFmpegSpawnFailed Stage = "ffmpeg_spawn_failed"
	StageFFmpegExit        Stage = "ffmpeg_exit"
	StageFFmpegOutput      Stage = "ffmpeg_output"
	StageExportDone        Stage = "export_done"
	StageUI                Stage = "ui" // Lines appended by the UI
)

// FilePrefix and FileSuffix frame the session id in a trace file name.
const (
	FilePrefix = "video_trace_"
	FileSuffix = ".log"
)

// recordEscaper keeps a record on one line. Backslashes are doubled so an
// escaped newline cannot be confused with a literal `\n` in the message.
var recordEscaper = strings.NewReplacer(`\`, `\\`, "\r\n", `\n`, "\n", `\n`, "\r", `\r`)

// pathLocks serializes appends to the same file within the process.
var pathLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Writer appends records to session traces in the logs directory.
type Writer struct {
	logsDir func() (string, error)
	now     func() time.Time
}

// New creates a Writer. logsDir is called on every append so the logs root
// is re-validated each time.
func New(logsDir func() (string, error)) *Writer {
	return &Writer{logsDir: logsDir, now: time.Now}
}

// FileName returns the trace file name for sessionID.
func FileName(sessionID string) string {
	return FilePrefix + sessionID + FileSuffix
}

// Path returns the trace file path for sessionID after validating it.
func (w *Writer) Path(sessionID string) (string, error) {
	if err := util.ValidateStamp("trace", "session_id", sessionID); err != nil {
		return "", err
	}
	dir, err := w.logsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName(sessionID)), nil
}

// Append writes one record to the session trace.
func (w *Writer) Append(sessionID string, stage Stage, msg string) error {
	path, err := w.Path(sessionID)
	if err != nil {
		return err
	}
	return appendRecord(path, formatRecord(w.now(), stage, msg))
}

// AppendLine writes a UI-supplied line to the session trace.
func (w *Writer) AppendLine(sessionID, line string) error {
	return w.Append(sessionID, StageUI, line)
}

// Session returns a handle bound to one session's trace file.
func (w *Writer) Session(sessionID string) (*Session, error) {
	path, err := w.Path(sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{path: path, now: w.now}, nil
}

// Session appends to a single trace file.
type Session struct {
	path string
	now  func() time.Time
}

// Path returns the trace file path.
func (s *Session) Path() string {
	return s.path
}

// Record writes one record.
func (s *Session) Record(stage Stage, msg string) error {
	return appendRecord(s.path, formatRecord(s.now(), stage, msg))
}

// Recordf writes one formatted record.
func (s *Session) Recordf(stage Stage, format string, args ...any) error {
	return s.Record(stage, fmt.Sprintf(format, args...))
}

func formatRecord(ts time.Time, stage Stage, msg string) []byte {
	return fmt.Appendf(nil, "%s [%s] %s\n", ts.UTC().Format(time.RFC3339Nano), stage, recordEscaper.Replace(msg))
}

func appendRecord(path string, record []byte) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open trace", err)
	}
	if _, err := f.Write(record); err != nil {
		_ = f.Close()
		return util.WrapError("append trace", err)
	}
	return util.WrapError("close trace", f.Close())
}

// ReadTail returns the last n lines of the file at path. A missing file
// yields no lines. Lines of any length are supported.
func ReadTail(path string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	ring := make([]string, 0, n)
	r := bufio.NewReader(file)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if len(ring) == n {
				copy(ring, ring[1:])
				ring = ring[:n-1]
			}
			ring = append(ring, line)
		}
		if errors.Is(err, io.EOF) {
			return ring, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
