// Package ffmpeg runs the bundled transcoder and builds its argument lists.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// Run executes bin with args and waits for it to exit. Standard output and
// standard error are captured together in arrival order.
//
// A process that starts and exits nonzero is not an error: the exit code is
// reported in the result. The returned error is a KindProcessSpawn failure
// when the process could not be started at all.
func Run(ctx context.Context, bin string, args []string) (types.ProcessResult, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	hideWindow(cmd)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return types.ProcessResult{ExitCode: -1, Tail: []string{}},
			types.NewError(types.KindProcessSpawn, "run_ffmpeg", fmt.Errorf("start %s: %w", bin, err))
	}

	err := cmd.Wait()
	result := types.ProcessResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Output:   output.String(),
	}
	result.Tail = util.LastLines(result.Output, types.TailLines)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Wait failed for a reason other than the exit status, e.g. an I/O error
		// copying output. The process still ran; report what was captured.
		slog.Warn("ffmpeg wait failed", "binary", bin, "error", err)
	}

	slog.Debug("ffmpeg finished",
		"binary", bin,
		"exit_code", result.ExitCode,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	if result.ExitCode != 0 {
		slog.Warn("ffmpeg exited with error", "exit_code", result.ExitCode, "error", util.ExtractLastError(result.Output))
	}
	return result, nil
}

// BlackVideoArgs returns the arguments that render input audio over a black
// frame as an H.264/AAC MP4 at the fixed export geometry.
func BlackVideoArgs(input, output string) []string {
	return []string{
		"-hide_banner",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", types.VideoWidth, types.VideoHeight, types.VideoFrameRate),
		"-i", input,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(types.VideoFrameRate),
		"-c:a", "aac",
		"-ar", strconv.Itoa(types.AudioSampleRate),
		"-ac", strconv.Itoa(types.AudioChannels),
		"-b:a", types.AudioBitrate,
		"-shortest",
		"-movflags", "+faststart",
		output,
	}
}

// BlackVideoName returns the output file name for a session.
func BlackVideoName(sessionID string) string {
	return fmt.Sprintf("%s_%s_%dx%d_%dfps.mp4",
		types.VideoTag, sessionID, types.VideoWidth, types.VideoHeight, types.VideoFrameRate)
}
