// Package export renders session audio into deliverable files.
//
// ExportBlackVideo drives one ffmpeg invocation per request and writes every
// step to the session trace, so a failed export can be diagnosed from the
// trace file alone. The caller only ever sees a generic failure message.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-audiodesk/internal/locator"
	"github.com/oszuidwest/zwfm-audiodesk/internal/sandbox"
	"github.com/oszuidwest/zwfm-audiodesk/internal/tracelog"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// InputRoots are the roots an export input may come from.
var InputRoots = []types.RootKind{types.RootDownload, types.RootTemp, types.RootExport}

// OutputRoots are the roots an explicit output directory must lie under.
var OutputRoots = []types.RootKind{types.RootExport, types.RootDownload}

// Roots resolves runtime directories.
type Roots interface {
	Root(kind types.RootKind) (string, error)
	SandboxRoots(kinds ...types.RootKind) ([]string, error)
}

// ToolFinder locates sidecar executables.
type ToolFinder interface {
	FindTool(tool locator.Tool) (string, locator.Result, error)
}

// Runner executes a process to completion.
type Runner func(ctx context.Context, bin string, args []string) (types.ProcessResult, error)

// Exporter produces export artifacts.
type Exporter struct {
	roots  Roots
	tools  ToolFinder
	traces *tracelog.Writer
	run    Runner
	now    func() time.Time
}

// New creates an Exporter that runs the located ffmpeg.
func New(roots Roots, tools ToolFinder, traces *tracelog.Writer) *Exporter {
	return &Exporter{
		roots:  roots,
		tools:  tools,
		traces: traces,
		run:    ffmpeg.Run,
		now:    time.Now,
	}
}

// Result describes a finished export attempt.
type Result struct {
	Path       string            `json:"path,omitempty"`
	State      types.ExportState `json:"state"`
	ExitCode   int               `json:"exit_code"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// job carries one black video export through its states.
type job struct {
	types.ExportJob
	trace  *tracelog.Session
	result Result
	input  string // Canonical input path
	output string // Output file path
	now    func() time.Time
}

func (j *job) advance(state types.ExportState) {
	slog.Debug("export state", "session_id", j.SessionID, "from", j.result.State, "to", state)
	j.result.State = state
}

// record writes a trace record. A trace that cannot be written is logged and
// does not change the outcome of the export.
func (j *job) record(stage tracelog.Stage, msg string) {
	if err := j.trace.Record(stage, msg); err != nil {
		slog.Warn("failed to write session trace", "session_id", j.SessionID, "stage", stage, "error", err)
	}
}

func (j *job) fail(err error) (Result, error) {
	j.advance(types.ExportFailed)
	j.result.FinishedAt = j.now()
	return j.result, err
}

// ExportBlackVideo renders inputPath over a black 1280x720 frame. The output
// lands in outputRoot when given, or in a dated folder under the export root.
// It returns the canonical output path.
func (e *Exporter) ExportBlackVideo(ctx context.Context, sessionID, inputPath, outputRoot string) (Result, error) {
	const op = "export_black_video"
	started := e.now()
	j := &job{
		ExportJob: types.ExportJob{
			SessionID:  sessionID,
			InputPath:  inputPath,
			OutputRoot: strings.TrimSpace(outputRoot),
			DateBucket: util.DateFolder(started),
		},
		result: Result{State: types.ExportIdle, ExitCode: -1, StartedAt: started},
		now:    e.now,
	}

	if err := util.ValidateStamp(op, "session_id", sessionID); err != nil {
		return j.fail(err)
	}
	trace, err := e.traces.Session(sessionID)
	if err != nil {
		return j.fail(types.NewError(types.KindIO, op, err).WithPublic(types.MsgExportFailed))
	}
	j.trace = trace

	if err := e.validateInput(j); err != nil {
		return j.fail(err)
	}
	j.advance(types.ExportInputValidated)

	if err := e.prepareOutput(j); err != nil {
		return j.fail(err)
	}
	j.advance(types.ExportOutputPrepared)

	j.record(tracelog.StageExportStart, fmt.Sprintf("input=%q output=%q", j.input, j.output))

	bin, loc, err := e.tools.FindTool(locator.FFmpeg)
	if err != nil {
		j.record(tracelog.StageLocatorFailed, jsonString(strings.Join(types.TrailOf(err), "\n")))
		return j.fail(types.NewError(types.KindNotFound, op, err).WithPublic(types.MsgExportFailed))
	}
	slog.Debug("ffmpeg located", "path", bin, "dir", loc.Dir)

	args := ffmpeg.BlackVideoArgs(j.input, j.output)
	argsJSON, _ := json.Marshal(args)
	j.record(tracelog.StageFFmpegInvoke, fmt.Sprintf("binary=%q args=%s", bin, argsJSON))

	j.advance(types.ExportProcessRunning)
	res, err := e.run(ctx, bin, args)
	if err != nil {
		j.record(tracelog.StageFFmpegSpawnFailed, err.Error())
		slog.Error("ffmpeg could not be started", "session_id", sessionID, "error", err)
		return j.fail(types.NewError(types.KindProcessSpawn, op, err))
	}
	j.result.ExitCode = res.ExitCode
	j.record(tracelog.StageFFmpegExit, fmt.Sprintf("code=%d tail=%s", res.ExitCode, jsonString(strings.Join(res.Tail, "\n"))))
	j.record(tracelog.StageFFmpegOutput, jsonString(res.Output))

	if res.ExitCode != 0 {
		slog.Error("black video export failed", "session_id", sessionID, "exit_code", res.ExitCode,
			"error", util.ExtractLastError(res.Output))
		return j.fail(types.NewError(types.KindProcessExit, op, nil).WithDetail("ffmpeg exited with code %d", res.ExitCode))
	}

	final, err := filepath.EvalSymlinks(j.output)
	if err != nil {
		j.record(tracelog.StageOutputRejected, "output missing after ffmpeg exit: "+err.Error())
		return j.fail(types.NewError(types.KindIO, op, err).WithPublic(types.MsgExportFailed))
	}
	j.result.Path = final
	j.result.FinishedAt = e.now()
	j.advance(types.ExportCompleted)
	j.record(tracelog.StageExportDone, fmt.Sprintf("output=%q", final))
	slog.Info("black video exported", "session_id", sessionID, "output", final)
	return j.result, nil
}

func (e *Exporter) validateInput(j *job) *types.Error {
	const op = "export_black_video"
	reject := func(err error, reason string) *types.Error {
		j.record(tracelog.StageInputRejected, fmt.Sprintf("input=%q reason=%s", j.InputPath, reason))
		return types.NewError(types.KindPathSecurity, op, err).WithPublic(types.MsgInvalidInput)
	}

	roots, err := e.roots.SandboxRoots(InputRoots...)
	if err != nil {
		return reject(err, "no sandbox root available")
	}
	if err := sandbox.Check(op, roots, j.InputPath); err != nil {
		return reject(err, "outside sandbox roots")
	}
	canon, err := sandbox.Canonicalize(j.InputPath)
	if err != nil {
		return reject(err, "unresolvable")
	}
	info, err := os.Stat(canon)
	if err != nil {
		return reject(err, "unreadable")
	}
	if !info.Mode().IsRegular() {
		return reject(nil, "not a regular file")
	}
	j.input = canon
	return nil
}

func (e *Exporter) prepareOutput(j *job) *types.Error {
	const op = "export_black_video"
	dir, err := e.outputDir(op, j.OutputRoot, j.DateBucket)
	if err != nil {
		j.record(tracelog.StageOutputRejected, fmt.Sprintf("output_root=%q error=%s", j.OutputRoot, jsonString(err.Error())))
		return err
	}
	if err := sandbox.ValidateWritableDir(dir); err != nil {
		j.record(tracelog.StageOutputRejected, fmt.Sprintf("output_root=%q error=%s", dir, jsonString(err.Error())))
		return types.NewError(types.KindIO, op, err).WithPublic(types.MsgExportFailed)
	}
	j.output = filepath.Join(dir, ffmpeg.BlackVideoName(j.SessionID))
	return nil
}

// outputDir returns the explicit root once it is proven to lie under an
// output root, or the dated bucket under the export root. Nothing is created.
func (e *Exporter) outputDir(op, explicit, dateBucket string) (string, *types.Error) {
	if explicit != "" {
		roots, err := e.roots.SandboxRoots(OutputRoots...)
		if err != nil {
			return "", types.NewError(types.KindPathSecurity, op, err)
		}
		dir, err := sandbox.ResolveDir(op, roots, explicit)
		if err != nil {
			return "", types.NewError(types.KindPathSecurity, op, err)
		}
		return dir, nil
	}
	root, err := e.roots.Root(types.RootExport)
	if err != nil {
		return "", types.NewError(types.KindIO, op, err).WithPublic(types.MsgExportFailed)
	}
	return filepath.Join(root, dateBucket), nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
