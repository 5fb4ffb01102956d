package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/soundrecorder/internal/audio"
	"github.com/audiolibrelab/soundrecorder/internal/host"
	"github.com/audiolibrelab/soundrecorder/internal/library"
	"github.com/audiolibrelab/soundrecorder/internal/prefs"
	"github.com/audiolibrelab/soundrecorder/internal/server"
	"github.com/audiolibrelab/soundrecorder/internal/service"
	"github.com/audiolibrelab/soundrecorder/internal/tasks"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording daemon",
	Long: `Run the recording daemon and its control API.

Clients control recording over HTTP and receive status, amplitude and
elapsed-time events over a WebSocket at /ws.

Process signals:
  SIGUSR2   stop and save the active recording (system shutdown)
  SIGUSR1   user present, resume a recording interrupted by a restart
  SIGINT    stop the daemon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Server.Listen
		}

		store, err := prefs.Open(cfg.Storage.PreferencesFile)
		if err != nil {
			return fmt.Errorf("failed to open preferences: %w", err)
		}

		lib, err := library.Open(cfg.Storage.LibraryDirectory)
		if err != nil {
			return fmt.Errorf("failed to open library: %w", err)
		}

		if err := os.MkdirAll(cfg.Storage.RecordingsDirectory, 0755); err != nil {
			return fmt.Errorf("failed to create recordings directory: %w", err)
		}

		backend, err := audio.NewBackend(cfg.Audio)
		if err != nil {
			return fmt.Errorf("failed to initialize audio backend: %w", err)
		}

		queue := tasks.New(cfg.Tasks.Workers)

		svc := service.New(service.Options{
			RecordingsDir: cfg.Storage.RecordingsDirectory,
			Recorders:     backend,
			Library:       lib,
			Tasks:         queue,
			Prefs:         store,
			Permissions: host.DevicePermissions{
				Backend: backend,
				Device:  cfg.Audio.Device,
			},
			Foreground:        host.NewLockForeground(cfg.Storage.LockFile),
			ShutdownSignal:    syscall.SIGUSR2,
			UserPresentSignal: syscall.SIGUSR1,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Sound recorder daemon starting",
			"listen", listen,
			"backend", backend.Type,
			"device", backend.Device,
			"library", lib.Root(),
			"pid", os.Getpid())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return svc.Run(gctx)
		})
		g.Go(func() error {
			return server.New(svc, lib, store, listen).Start(gctx)
		})

		err = g.Wait()
		queue.Wait()
		slog.Info("Sound recorder daemon stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address for the control API (overrides server.listen)")
}
