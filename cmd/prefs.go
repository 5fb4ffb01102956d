package cmd

import (
	"fmt"
	"net/http"

	"github.com/audiolibrelab/soundrecorder/internal/prefs"
	"github.com/audiolibrelab/soundrecorder/internal/server"

	"github.com/spf13/cobra"
)

var offlinePrefs bool

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "View and change recording preferences",
	Long: `View and change recording preferences such as high_quality,
circular_period (seconds) and circular_number.

By default the running daemon applies the change. With --offline the
preference file is edited directly; use this only while the daemon is
stopped.`,
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every preference",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := loadPrefs()
		if err != nil {
			return err
		}
		for _, key := range prefs.Keys() {
			fmt.Printf("%s = %s\n", key, values[key])
		}
		return nil
	},
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := loadPrefs()
		if err != nil {
			return err
		}
		v, ok := values[args[0]]
		if !ok {
			return fmt.Errorf("unknown preference: %s", args[0])
		}
		fmt.Println(v)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if offlinePrefs {
			store, err := prefs.Open(cfg.Storage.PreferencesFile)
			if err != nil {
				return fmt.Errorf("failed to open preferences: %w", err)
			}
			if err := store.Set(key, value); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", key, value)
			return nil
		}

		var resp server.GenericResponse
		req := server.SetPrefRequest{Key: key, Value: value}
		if err := callAPI(http.MethodPost, "/api/prefs", req, &resp); err != nil {
			return fmt.Errorf("set failed: %w", err)
		}
		fmt.Println(resp.Message)
		return nil
	},
}

func loadPrefs() (map[string]string, error) {
	if !offlinePrefs {
		var resp server.PrefsResponse
		if err := callAPI(http.MethodGet, "/api/prefs", nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to read preferences: %w", err)
		}
		return resp.Prefs, nil
	}

	store, err := prefs.Open(cfg.Storage.PreferencesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	values := make(map[string]string)
	for _, key := range prefs.Keys() {
		v, err := store.Get(key)
		if err != nil {
			return nil, err
		}
		values[key] = v
	}
	return values, nil
}

func init() {
	prefsCmd.PersistentFlags().BoolVar(&offlinePrefs, "offline", false, "read and write the preference file without the daemon")
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}
