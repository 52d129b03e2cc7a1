//go:build windows

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// createNoWindow keeps a console from flashing up when the GUI host spawns ffmpeg.
const createNoWindow = 0x08000000

func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
}
