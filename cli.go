package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-audiodesk/internal/applog"
	"github.com/oszuidwest/zwfm-audiodesk/internal/backend"
	"github.com/oszuidwest/zwfm-audiodesk/internal/config"
	"github.com/oszuidwest/zwfm-audiodesk/internal/dirs"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

const shutdownTimeout = 30 * time.Second

// app holds the state shared by all commands.
type app struct {
	root        string
	resourceDir string
	logLevel    string

	level   slog.Level
	version *VersionChecker
	backend *backend.Backend
	logger  *applog.Logger
}

// run executes the command line in args and releases everything the command
// opened, whether or not it failed.
func run(a *app, args []string, out io.Writer) error {
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	err := cmd.Execute()
	if cerr := a.close(); cerr != nil {
		slog.Warn("failed to release resources", "error", cerr)
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "audiodesk",
		Short: "Backend for the audiodesk desktop app",
		Long: `audiodesk resolves runtime directories, sandboxes file access for the
desktop UI and exports black videos with the bundled ffmpeg.

Run "audiodesk serve" to start the bridge the UI connects to.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip initialization for commands that touch no directories
			switch cmd.Name() {
			case "help", "completion", "version":
				return nil
			}
			return a.open(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.root, "root", "", "application root (default $"+dirs.RootEnv+" or the user config dir)")
	flags.StringVar(&a.resourceDir, "resource-dir", "", "packaged resource directory (default derived from the executable)")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		a.serveCmd(),
		a.locateCmd(),
		a.rootsCmd(),
		a.exportCmd(),
		a.bundleCmd(),
		versionCmd(),
	)
	return root
}

// open resolves the application root, builds the backend and moves logging
// into the logs root.
func (a *app) open(ctx context.Context) error {
	level, err := applog.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.level = level
	applog.Setup(level, "")

	appRoot, err := dirs.ResolveAppRoot(a.root)
	if err != nil {
		return util.WrapError("resolve application root", err)
	}

	a.version = NewVersionChecker()
	a.backend, err = backend.New(ctx, backend.Options{
		AppRoot:     appRoot,
		ResourceDir: a.resourceDir,
		Version:     a.version,
	})
	if err != nil {
		return util.WrapError("start backend", err)
	}

	logs, err := a.backend.Root(types.RootLogs)
	if err != nil {
		slog.Warn("logging to stderr only", "error", err)
		return nil
	}
	a.logger = applog.Setup(level, logs)
	slog.Debug("backend ready", "app_root", appRoot, "log_file", a.logger.Path())
	return nil
}

// close stops the version checker, closes the history database and moves
// logging back to stderr. It is safe to call when open never ran.
func (a *app) close() error {
	if a.version != nil {
		a.version.Stop()
		a.version = nil
	}
	var err error
	if a.backend != nil {
		err = a.backend.Close()
		a.backend = nil
	}
	if a.logger != nil {
		applog.Setup(a.level, "")
		if lerr := a.logger.Close(); err == nil {
			err = lerr
		}
		a.logger = nil
	}
	return err
}

func (a *app) serveCmd() *cobra.Command {
	port := DefaultPort
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket bridge on the loopback interface",
		Long: `Start the WebSocket bridge on 127.0.0.1.

A session token is generated on every launch and printed to stdout as
AUDIODESK_TOKEN=<token>. Clients present it in the X-Audiodesk-Token header
or the token query parameter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()

			token, err := config.GenerateToken()
			if err != nil {
				return util.WrapError("generate session token", err)
			}

			a.version.Start(ctx)
			httpServer, err := NewServer(ctx, a.backend, token).Start(port)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "AUDIODESK_TOKEN=%s\nAUDIODESK_PORT=%d\n", token, port)

			<-ctx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}
			slog.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", DefaultPort, "loopback port to listen on")
	return cmd
}

func (a *app) locateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Locate the sidecar binaries directory and print the search trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := a.backend.BinariesDir()
			out := cmd.OutOrStdout()
			for _, line := range info.Trail {
				fmt.Fprintln(out, "  "+line)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, info.Dir)
			return nil
		},
	}
}

func (a *app) rootsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roots",
		Short: "Show or change the runtime directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roots, err := a.backend.Roots()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "app_root  %s\n", roots.AppRoot)
			fmt.Fprintf(out, "download  %s\n", roots.Download)
			fmt.Fprintf(out, "export    %s\n", roots.Export)
			fmt.Fprintf(out, "temp      %s\n", roots.Temp)
			fmt.Fprintf(out, "logs      %s\n", roots.Logs)
			return err
		},
	}

	get := &cobra.Command{
		Use:       "get <download|export|temp|logs>",
		Short:     "Print one root",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"download", "export", "temp", "logs"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.backend.Root(types.RootKind(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <download|export> [path]",
		Short: "Override a root; omit the path to restore the default",
		Long: `Override the download or export root.

Examples:
  audiodesk roots set download /mnt/audio
  audiodesk roots set export`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"download", "export"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 2 {
				path = args[1]
			}
			resolved, err := a.backend.SetRoot(types.RootKind(args[0]), path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolved)
			return nil
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var sessionID, outputRoot string
	cmd := &cobra.Command{
		Use:   "export <input>",
		Short: "Export a 1280x720 black video carrying the input audio",
		Long: `Export a black video for an audio file inside the download, temp or
export root. Without --output-root the video lands in the dated export bucket.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()

			if sessionID == "" {
				sessionID = util.FileStamp(time.Now())
			}
			path, err := a.backend.ExportBlackVideo(ctx, args[0], sessionID, outputRoot)
			if err != nil {
				return fmt.Errorf("%s (session %s)", types.PublicMessage(err), sessionID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id, digits and underscores (default current timestamp)")
	cmd.Flags().StringVar(&outputRoot, "output-root", "", "explicit output directory")
	return cmd
}

func (a *app) bundleCmd() *cobra.Command {
	var upload, copyPath bool
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Write a support bundle to the logs root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			path, err := a.backend.WriteSupportBundle(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)

			if copyPath {
				if err := clipboard.WriteAll(path); err != nil {
					slog.Warn("failed to copy bundle path", "error", err)
				} else {
					fmt.Fprintln(out, "path copied to clipboard")
				}
			}

			if upload {
				key, err := a.backend.UploadSupportBundle(ctx, path)
				if err != nil {
					return errors.New(types.PublicMessage(err))
				}
				fmt.Fprintln(out, "uploaded as "+key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the bundle to the configured support bucket")
	cmd.Flags().BoolVar(&copyPath, "copy", false, "copy the bundle path to the clipboard")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := NewVersionChecker().Info()
			parts := []string{"audiodesk " + info.Current}
			if info.Commit != "" {
				parts = append(parts, "commit "+info.Commit)
			}
			if BuildTime != "" {
				parts = append(parts, "built "+info.BuildTime)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, ", "))
		},
	}
}
