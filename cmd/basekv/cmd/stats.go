package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			stats := s.kv.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file: %s\n", s.kv.Path())
			fmt.Fprintf(out, "keys: %d\n", stats.Keys)
			fmt.Fprintf(out, "size: %d bytes\n", stats.DataSize)
			if s.replay != nil {
				fmt.Fprintf(out, "records replayed: %d\n", s.replay.RecordsReplayed)
				fmt.Fprintf(out, "replay time: %s\n", s.replay.ReplayTime)
			}
			return nil
		},
	}
}
