package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/output"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a)
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push every eligible establishment to the map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.tracker.StartRun(ctx)
				if err != nil {
					return err
				}
				return reportRun(cmd, result)
			})
		},
	}
}

func newRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Retry the establishments that failed in the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.tracker.RetryFailedRun(ctx)
				if err != nil {
					return err
				}
				return reportRun(cmd, result)
			})
		},
	}
}

// reportRun prints the result. Requests rejected by an active run or an unreachable
// service fail the command.
func reportRun(cmd *cobra.Command, result *sync.RunResult) error {
	output.RunResult(cmd.OutOrStdout(), result)

	if errors.Is(result.Err, sync.ErrRunInProgress) || errors.Is(result.Err, sync.ErrAPIUnreachable) {
		return result.Err
	}
	if result.Outcome == sync.OutcomeFailed {
		return errors.New(result.Message)
	}
	return nil
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync status and recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				status, err := a.tracker.Status(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return output.JSON(cmd.OutOrStdout(), status)
				}
				output.Status(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status record as JSON")

	return cmd
}

func newEligibleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eligible",
		Short: "List the approved establishments waiting to be pushed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				records, err := a.tracker.Eligible(ctx)
				if err != nil {
					return err
				}
				output.Records(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
}
