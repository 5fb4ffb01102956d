package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/audiolibrelab/soundrecorder/internal/prefs"
	"github.com/audiolibrelab/soundrecorder/internal/server"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [tag]",
	Short: "Start a new recording",
	Long: `Ask the daemon to start recording. Files are named "<tag> <date> <time>";
the tag defaults to "Sound record".

With --circular the daemon rotates the recording every circular_period
seconds and keeps only the newest circular_number files. Without the flag
the circular_recording preference decides.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		circular, _ := cmd.Flags().GetBool("circular")
		if !cmd.Flags().Changed("circular") {
			if store, err := prefs.Open(cfg.Storage.PreferencesFile); err == nil {
				circular = store.CircularRecording()
			}
		}

		req := server.StartRequest{Circular: circular}
		if len(args) == 1 {
			req.Tag = args[0]
		}

		var resp server.GenericResponse
		if err := callAPI(http.MethodPost, "/api/start", req, &resp); err != nil {
			return fmt.Errorf("start failed: %w", err)
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current recording and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCommand("/api/stop", "stop")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCommand("/api/pause", "pause")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCommand("/api/resume", "resume")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's recording status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		var resp server.StatusResponse
		if err := callAPI(http.MethodGet, "/api/status", nil, &resp); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Status)
		}

		st := resp.Status
		fmt.Printf("State:    %s\n", st.State)
		if st.State != "idle" {
			fmt.Printf("Tag:      %s\n", st.Tag)
			fmt.Printf("File:     %s\n", st.OutputPath)
			fmt.Printf("Elapsed:  %s\n", formatElapsed(st.Elapsed))
		}
		if st.Group != "" {
			fmt.Printf("Circular: group %s, retained %d [%s]\n", st.Group, len(st.Retained), strings.Join(st.Retained, ", "))
		}
		if st.PendingCommit {
			fmt.Println("Saving:   in progress")
		}
		fmt.Printf("Clients:  %d\n", st.Clients)
		if st.LastItem != "" {
			fmt.Printf("Last:     %s\n", st.LastItem)
		}
		return nil
	},
}

func sessionCommand(path, name string) error {
	var resp server.GenericResponse
	if err := callAPI(http.MethodPost, path, nil, &resp); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	fmt.Println(resp.Message)
	return nil
}

// formatElapsed renders seconds as HH:MM:SS
func formatElapsed(seconds int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

func init() {
	startCmd.Flags().BoolP("circular", "c", false, "rotate the recording and keep only the newest files")
	statusCmd.Flags().Bool("json", false, "print the raw status as JSON")
}
