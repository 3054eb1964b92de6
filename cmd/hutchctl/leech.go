package main

import "github.com/spf13/cobra"

func newLeechCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leech <torrent-file>",
		Short: "Queue a torrent file for download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := postJSON("/leech", map[string]any{"torrent_filepath": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}
