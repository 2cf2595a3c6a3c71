package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ssargent/basekv/pkg/snapshot"
)

func newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <key> <value>",
		Short: "Insert a key-value pair",
		Long: `Append a record for key. An existing value is superseded.

Example:
  basekv --file data.log insert mykey myvalue`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil {
				return err
			}
			if err := s.kv.Insert([]byte(args[0]), []byte(args[1])); err != nil {
				return fmt.Errorf("failed to insert %q: %w", args[0], err)
			}
			return s.afterWrite()
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <key> <value>",
		Short: "Update the value for a key",
		Long: `Append a new record for key. The key does not need to exist.

Example:
  basekv --file data.log update mykey newvalue`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil {
				return err
			}
			if err := s.kv.Update([]byte(args[0]), []byte(args[1])); err != nil {
				return fmt.Errorf("failed to update %q: %w", args[0], err)
			}
			return s.afterWrite()
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Long: `Append an empty-value record for key. A later get finds the key
with an empty value.

Example:
  basekv --file data.log delete mykey`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil {
				return err
			}
			if err := s.kv.Delete([]byte(args[0])); err != nil {
				return fmt.Errorf("failed to delete %q: %w", args[0], err)
			}
			return s.afterWrite()
		},
	}
}

// afterWrite rewrites the index snapshot when snapshots are enabled
func (s *session) afterWrite() error {
	if !s.config.Snapshot.Enabled {
		return nil
	}

	offset, err := snapshot.Save(s.kv, []byte(s.config.Snapshot.Key))
	if err != nil {
		return fmt.Errorf("failed to save index snapshot: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"key":    s.config.Snapshot.Key,
		"offset": offset,
	}).Debug("index snapshot saved")
	return nil
}
