package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/basekv/pkg/snapshot"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get the value for a key",
		Long: `Get the latest value for a key.

With --snapshot the key is resolved through the persisted index snapshot,
falling back to the live index when no snapshot has been written yet.

Example:
  basekv --file data.log get mykey`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil {
				return err
			}
			key := []byte(args[0])

			value, found, err := s.get(key)
			if err != nil {
				return fmt.Errorf("failed to get %q: %w", args[0], err)
			}
			if !found {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s not found\n", args[0])
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		},
	}
}

func (s *session) get(key []byte) ([]byte, bool, error) {
	if !s.config.Snapshot.Enabled {
		return s.kv.Get(key)
	}

	value, found, err := snapshot.Lookup(s.kv, []byte(s.config.Snapshot.Key), key)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		s.logger.Debug("no index snapshot yet, using live index")
		return s.kv.Get(key)
	}
	return value, found, err
}
