package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/soundrecorder/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	serverAddr   string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "soundrecorder",
	Short: "Background sound recorder with circular retention",
	Long: `soundrecorder runs a recording daemon that captures audio from the
configured device and saves finished recordings into a music library.

In circular mode the daemon rotates recordings at a fixed period and keeps
only the most recent ones, deleting older files automatically.

Use 'soundrecorder serve' to start the daemon and the other commands to
control it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/soundrecorder.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if serverAddr == "" {
			serverAddr = cfg.Server.Listen
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/soundrecorder.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "audio profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "daemon address (default is server.listen from config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug (includes capture tool output)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(infoCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
