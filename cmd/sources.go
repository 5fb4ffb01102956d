package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/soundrecorder/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture devices of the configured audio backend. Any listed name can be used as audio.device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.NewBackend(cfg.Audio)
		if err != nil {
			return err
		}
		return listAvailableSources(backend)
	},
}

// listAvailableSources prints the devices of backend and marks the
// configured one
func listAvailableSources(backend *audio.Backend) error {
	fmt.Printf("Audio Sources (%s, %s via %s)\n", runtime.GOOS, backend.Type, backend.Tool())
	fmt.Printf("═══════════════════════════════════════\n\n")

	sources, err := backend.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to get %s sources: %w", backend.Type, err)
	}

	fmt.Printf("%d source(s) found:\n", len(sources))
	for i, source := range sources {
		marker := " "
		if source == backend.Device {
			marker = "*"
		}
		fmt.Printf(" %s%d. %s\n", marker, i+1, source)
	}

	if !backend.DeviceExists(backend.Device) {
		fmt.Printf("\nConfigured device %q is not available; recording will be refused.\n", backend.Device)
	}
	return nil
}
