package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/audiolibrelab/soundrecorder/internal/library"

	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls"},
	Short:   "List saved recordings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		album, _ := cmd.Flags().GetString("album")

		lib, err := library.Open(cfg.Storage.LibraryDirectory)
		if err != nil {
			return fmt.Errorf("failed to open library: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REF\tTITLE\tALBUM\tSIZE\tADDED")
		count := 0
		for _, item := range lib.List() {
			if album != "" && item.Album != album {
				continue
			}
			title := item.Title
			if item.Pending {
				title += " (saving)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				item.Ref, title, item.Album, item.Size, item.Added.Format("2006-01-02 15:04:05"))
			count++
		}
		w.Flush()

		fmt.Printf("\n%d recording(s) in %s\n", count, lib.Root())
		return nil
	},
}

func init() {
	recordingsCmd.Flags().String("album", "", "only list recordings in this album")
}
