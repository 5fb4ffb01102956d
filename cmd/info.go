package cmd

import (
	"fmt"

	"github.com/audiolibrelab/soundrecorder/internal/audio"
	"github.com/audiolibrelab/soundrecorder/internal/host"
	"github.com/audiolibrelab/soundrecorder/internal/library"
	"github.com/audiolibrelab/soundrecorder/internal/prefs"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved paths, backend and recording readiness",
	Long:  `Display the resolved storage paths, the audio backend that would be used, whether recording is currently permitted and the persisted recording flags.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== STORAGE ===\n")
		fmt.Printf("recordings: %s\n", cfg.Storage.RecordingsDirectory)
		fmt.Printf("library:    %s\n", cfg.Storage.LibraryDirectory)
		fmt.Printf("prefs:      %s\n", cfg.Storage.PreferencesFile)
		fmt.Printf("lock:       %s\n", cfg.Storage.LockFile)

		fmt.Printf("\n=== AUDIO ===\n")
		if cfg.Profile != "" {
			fmt.Printf("profile:     %s\n", cfg.Profile)
		}
		backend, err := audio.NewBackend(cfg.Audio)
		if err != nil {
			fmt.Printf("backend:     unavailable (%v)\n", err)
		} else {
			fmt.Printf("backend:     %s (%s)\n", backend.Type, backend.Tool())
			fmt.Printf("device:      %s\n", backend.Device)
			fmt.Printf("format:      %d Hz, %d channel(s)\n", backend.Format.SampleRate, backend.Format.Channels)

			perm := host.DevicePermissions{Backend: backend, Device: cfg.Audio.Device}
			if err := perm.CanRecordAudio(); err != nil {
				fmt.Printf("can record:  no (%v)\n", err)
			} else {
				fmt.Printf("can record:  yes\n")
			}
		}

		store, err := prefs.Open(cfg.Storage.PreferencesFile)
		if err != nil {
			return fmt.Errorf("failed to open preferences: %w", err)
		}
		fmt.Printf("\n=== STATE ===\n")
		fmt.Printf("currently_recording: %t\n", store.CurrentlyRecording())
		fmt.Printf("last_item:           %s\n", store.LastItem())
		if store.CircularRecording() {
			fmt.Printf("circular:            every %ds, keep %d\n", store.CircularPeriod(), store.CircularNumber())
		} else {
			fmt.Printf("circular:            off\n")
		}

		if lib, err := library.Open(cfg.Storage.LibraryDirectory); err == nil {
			fmt.Printf("saved recordings:    %d\n", len(lib.List()))
		}

		return nil
	},
}
