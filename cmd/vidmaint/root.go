package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/usecase"
)

// newRootCmd returns the root command. open is called once per command
// invocation.
func newRootCmd(open opener) *cobra.Command {
	var inline bool

	rootCmd := &cobra.Command{
		Use:           "vidmaint",
		Short:         "Video maintenance operator tool",
		Long:          "vidmaint normalizes source video keys, fixes MP4 playback compatibility and repairs HLS bundles.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&inline, "inline", false, "execute in this process instead of enqueueing to the worker")

	withBackend := func(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error {
		ctx := cmd.Context()
		b, err := open(ctx, inline)
		if err != nil {
			return err
		}
		defer b.close()
		return fn(ctx, b)
	}

	rootCmd.AddCommand(newTickCmd(withBackend))
	rootCmd.AddCommand(newProcessCmd(withBackend))
	rootCmd.AddCommand(newRunCmd(withBackend))

	return rootCmd
}

type backendFunc func(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error

func newTickCmd(withBackend backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "List one page from the scan cursor and dispatch source videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *backend) error {
				report, err := b.scheduler.Tick(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newProcessCmd(withBackend backendFunc) *cobra.Command {
	var (
		dryRun       bool
		deleteOldKey bool
	)

	cmd := &cobra.Command{
		Use:   "process <key-or-url>",
		Short: "Run the maintenance pipeline for one video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *backend) error {
				deleteOld := b.deleteOldByDefault
				if cmd.Flags().Changed("delete-old-key") {
					deleteOld = deleteOldKey
				}

				if b.videos == nil {
					key, err := b.maintenance.EnqueueProcess(ctx, usecase.ProcessInput{
						Video:        args[0],
						DryRun:       dryRun,
						DeleteOldKey: deleteOld,
					})
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]string{"key": key, "status": "queued"})
				}

				key, err := b.keys.KeyFromURLOrKey(args[0])
				if err != nil {
					return fmt.Errorf("invalid video reference: %w", err)
				}
				res := b.videos.Process(ctx, usecase.ProcessRequest{
					Key:          key,
					DryRun:       dryRun,
					DeleteOldKey: deleteOld,
				})
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Status == model.StatusError {
					return fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without writing anything")
	cmd.Flags().BoolVar(&deleteOldKey, "delete-old-key", true, "delete the original object after a rename (defaults to DELETE_OLD_KEY_BY_DEFAULT)")
	return cmd
}

func newRunCmd(withBackend backendFunc) *cobra.Command {
	var (
		dryRun       bool
		deleteOldKey bool
		wait         bool
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <key-or-url>...",
		Short: "Run the maintenance pipeline for a list of videos with progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *backend) error {
				deleteOld := b.deleteOldByDefault
				if cmd.Flags().Changed("delete-old-key") {
					deleteOld = deleteOldKey
				}

				progress, err := b.maintenance.SubmitRun(ctx, usecase.RunInput{
					Videos:       args,
					DryRun:       dryRun,
					DeleteOldKey: deleteOld,
				})
				if err != nil {
					return err
				}

				// Inline runs are finished once SubmitRun returns.
				if wait || b.videos != nil {
					progress, err = waitForRun(ctx, b, progress.RunID, pollInterval, cmd.ErrOrStderr())
					if err != nil {
						return err
					}
				}
				if err := printJSON(cmd.OutOrStdout(), progress); err != nil {
					return err
				}
				if progress.Error != "" {
					return fmt.Errorf("run %s stopped after %d/%d: %s", progress.RunID, progress.Done, progress.Total, progress.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without writing anything")
	cmd.Flags().BoolVar(&deleteOldKey, "delete-old-key", true, "delete the original objects after a rename (defaults to DELETE_OLD_KEY_BY_DEFAULT)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll progress until the run finishes")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "progress poll interval with --wait")
	return cmd
}

// waitForRun polls the run until it is finished, completed or interrupted,
// and writes a line to progressOut whenever the done count moves.
func waitForRun(ctx context.Context, b *backend, runID string, interval time.Duration, progressOut io.Writer) (*repository.RunProgress, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastDone := -1
	for {
		p, err := b.maintenance.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if p.Done != lastDone {
			fmt.Fprintf(progressOut, "run %s: %d/%d %s\n", runID, p.Done, p.Total, p.Current)
			lastDone = p.Done
		}
		if runFinished(p) {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runFinished also accepts records written before Finished existed.
func runFinished(p *repository.RunProgress) bool {
	return p.Finished || (p.Done >= p.Total && p.Current == "")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
