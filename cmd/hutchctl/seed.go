package main

import "github.com/spf13/cobra"

func newSeedCmd() *cobra.Command {
	var (
		trackers    []string
		public      bool
		pieceLength int64
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "seed <path>",
		Short: "Start seeding a local file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var trackerGroups [][]string
			if len(trackers) > 0 {
				trackerGroups = [][]string{trackers}
			}

			out, err := postJSON("/seed", map[string]any{
				"input_path":   args[0],
				"trackers":     trackerGroups,
				"public":       public,
				"piece_length": pieceLength,
				"name":         name,
				"description":  description,
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&trackers, "tracker", nil, "tracker URL (repeatable)")
	cmd.Flags().BoolVar(&public, "public", true, "upload the torrent to the tracker's catalog")
	cmd.Flags().Int64Var(&pieceLength, "piece-length", 0, "piece length in bytes (clamped to at most 16KiB)")
	cmd.Flags().StringVar(&name, "name", "", "override the torrent's suggested name")
	cmd.Flags().StringVar(&description, "description", "", "catalog description")

	return cmd
}
