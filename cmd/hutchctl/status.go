package main

import "github.com/spf13/cobra"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show seeding and leeching status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getJSON("/status")
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newTorrentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "torrents",
		Short: "List the tracker's torrent catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getJSON("/torrents")
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newGetTorrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <info-hash>",
		Short: "Fetch a torrent file by its info_hash and print its local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getJSON("/torrents/" + args[0])
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}
