package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voxeledit/internal/config"
	"voxeledit/internal/journal"
	"voxeledit/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "voxeledit",
		Short:        "Rate-limited, undoable voxel edit server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newConfigCmd(), newJournalCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the edit server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := writeConfigFromEnv(cfgPath); err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, level := server.NewLogger(cfg.Log, cmd.ErrOrStderr())

			srv, err := server.New(cfg, server.Options{
				ConfigPath: cfgPath,
				Logger:     logger,
				LogLevel:   level,
			})
			if err != nil {
				return fmt.Errorf("initialise edit server: %w", err)
			}
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Error("close edit server", "error", err)
				}
			}()

			ctx, cancel := signalContext(logger)
			defer cancel()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to the server configuration file (YAML or JSON)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (server %s, %d materials)\n", args[0], cfg.Server.ID, len(cfg.Materials))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the edit journal",
	}

	var (
		indexPath string
		owner     string
		limit     int
	)
	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the latest indexed journal records as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if indexPath == "" {
				return errors.New("--index is required")
			}
			idx, err := journal.OpenSQLite(indexPath, nil)
			if err != nil {
				return err
			}
			defer idx.Close()
			records, err := idx.Recent(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	recentCmd.Flags().StringVar(&indexPath, "index", "", "path to the journal SQLite index")
	recentCmd.Flags().StringVar(&owner, "owner", "", "only show records of this owner")
	recentCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")

	dumpCmd := &cobra.Command{
		Use:   "dump <file.jsonl.zst>...",
		Short: "Decompress journal files to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				err := journal.ReadFile(path, func(line json.RawMessage) error {
					return writeLine(out, line)
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(recentCmd, dumpCmd)
	return cmd
}

func writeLine(w io.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			logger.Info("shutdown requested")
			cancel()
		case <-ctx.Done():
			return
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(10*time.Second, func() {
			logger.Error("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
