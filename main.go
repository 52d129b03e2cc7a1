// Package main provides the audiodesk backend: a loopback WebSocket bridge
// for the desktop shell plus a CLI for diagnostics and unattended exports.
//
// Usage:
//
//	audiodesk [--root dir] [--resource-dir dir] [--log-level level] <command>
//
// If --root is not specified, the application root comes from AUDIODESK_ROOT
// or the per-user configuration directory.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(&app{}, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
