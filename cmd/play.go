package cmd

import (
	"fmt"

	"github.com/audiolibrelab/soundrecorder/internal/library"
	"github.com/audiolibrelab/soundrecorder/internal/play"
	"github.com/audiolibrelab/soundrecorder/internal/prefs"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [ref]",
	Short: "Play a saved recording",
	Long: `Play a recording from the library using the first available player
(vlc, mpv, ffplay, or aplay for WAV files). Without a reference the most
recently saved recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		playerName, _ := cmd.Flags().GetString("player")

		lib, err := library.Open(cfg.Storage.LibraryDirectory)
		if err != nil {
			return fmt.Errorf("failed to open library: %w", err)
		}

		var ref string
		if len(args) == 1 {
			ref = args[0]
		} else {
			store, err := prefs.Open(cfg.Storage.PreferencesFile)
			if err != nil {
				return fmt.Errorf("failed to open preferences: %w", err)
			}
			ref = store.LastItem()
			if ref == "" {
				return fmt.Errorf("no recording saved yet")
			}
		}

		item, ok := lib.Get(ref)
		if !ok {
			return fmt.Errorf("%w: %s", library.ErrNotFound, ref)
		}

		return play.New(playerName).Play(item)
	},
}

func init() {
	playCmd.Flags().String("player", "", "player to use: vlc, mpv, ffplay or aplay")
}
