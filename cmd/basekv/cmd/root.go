/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ssargent/basekv/pkg/config"
	"github.com/ssargent/basekv/pkg/di"
	"github.com/ssargent/basekv/pkg/logging"
	"github.com/ssargent/basekv/pkg/store"
)

type contextKey string

const sessionKey contextKey = "session"

// commands carrying this annotation read the log themselves instead of
// going through an opened store
const annotationNoStore = "basekv/no-store"

var container *di.Container

// SetContainer sets the dependency injection container
func SetContainer(c *di.Container) {
	container = c
}

// session is what PersistentPreRunE hands to the subcommands
type session struct {
	config *config.Config
	logger *logrus.Logger
	kv     *store.KVStore
	replay *store.ReplayResult
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "basekv",
		Short: "BaseKV - append-only key-value store",
		Long: `BaseKV keeps key-value pairs in a single append-only log file and
rebuilds an in-memory index of key offsets each time the file is opened.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}

			// Argument errors print usage; everything past this point does not.
			cmd.SilenceUsage = true

			s := &session{config: cfg, logger: logger}
			if cmd.Annotations[annotationNoStore] == "" {
				if container == nil {
					container = di.NewContainer()
				}
				kv, replay, err := container.GetStoreFactory().OpenStore(cfg, logger)
				if err != nil {
					return err
				}
				s.kv = kv
				s.replay = replay
			}

			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, s))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil || s.kv == nil {
				return nil
			}
			return s.kv.Close()
		},
	}

	rootCmd.PersistentFlags().StringP("file", "f", "", "Log file to operate on (overrides data_file)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default "+config.GetDefaultConfigPath()+" when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("snapshot", false, "Keep and read through the persisted index snapshot")

	rootCmd.AddCommand(
		newGetCmd(),
		newInsertCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newStatsCmd(),
		newVerifyCmd(),
	)

	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig loads the config file, if any, and applies flag overrides
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	cfg := config.DefaultConfig()

	switch {
	case configPath != "":
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case config.ConfigExists(config.GetDefaultConfigPath()):
		loaded, err := config.LoadConfig(config.GetDefaultConfigPath())
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.Changed("file") {
		cfg.DataFile, _ = flags.GetString("file")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("snapshot") {
		cfg.Snapshot.Enabled, _ = flags.GetBool("snapshot")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func sessionFrom(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New("store not found in context")
	}
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok {
		return nil, errors.New("store not found in context")
	}
	return s, nil
}
