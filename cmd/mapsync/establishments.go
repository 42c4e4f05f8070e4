package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/output"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var bucket string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List establishments in a review bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				records, err := a.registry.List(ctx, establishment.Bucket(bucket))
				if err != nil {
					return err
				}
				output.Records(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", string(establishment.BucketPending), "Bucket to list (pending, approved, rejected)")

	return cmd
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var r establishment.Record

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Register a new establishment for review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				id, err := a.registry.Submit(ctx, r)
				if err != nil {
					return err
				}

				desc := "Establishment submitted: " + strings.TrimSpace(r.Name)
				if _, err := a.audit.Record(ctx, audit.CategorySubmission, "", desc, map[string]string{"establishment_id": id}); err != nil {
					a.logger.Warn("failed to record submission", "id", id, "error", err)
				}

				output.Success(cmd.OutOrStdout(), "Submitted %s", id)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&r.Name, "name", "", "Merchant name (required)")
	flags.Float64Var(&r.Lat, "lat", 0, "Latitude in decimal degrees (required)")
	flags.Float64Var(&r.Lon, "lon", 0, "Longitude in decimal degrees (required)")
	flags.StringVar(&r.Address, "address", "", "Street address")
	flags.StringVar(&r.Municipality, "city", "", "City")
	flags.StringVar(&r.Description, "description", "", "Short description")
	flags.StringVar(&r.Phone, "phone", "", "Contact phone")
	flags.StringVar(&r.Website, "website", "", "Website URL")
	flags.BoolVar(&r.AcceptsLightning, "lightning", false, "Accepts Lightning payments")
	flags.BoolVar(&r.AcceptsOnchain, "onchain", false, "Accepts on-chain payments")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}

func newApproveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve ID...",
		Short: "Approve pending establishments for publication",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return eachID(cmd, args, func(id string) (*establishment.Record, error) {
					return a.registry.Approve(ctx, id)
				}, "Approved")
			})
		},
	}
}

func newRejectCmd(opts *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject ID...",
		Short: "Reject pending establishments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return eachID(cmd, args, func(id string) (*establishment.Record, error) {
					return a.registry.Reject(ctx, id, reason)
				}, "Rejected")
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason shown to the admin")

	return cmd
}

func newRequestUpdateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request-update ID...",
		Short: "Mark synced establishments to be pushed again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return eachID(cmd, args, func(id string) (*establishment.Record, error) {
					return a.registry.RequestUpdate(ctx, id)
				}, "Flagged for update")
			})
		},
	}
}

// eachID applies fn to every ID, reporting failures and continuing with the rest.
func eachID(cmd *cobra.Command, ids []string, fn func(id string) (*establishment.Record, error), verb string) error {
	failed := 0
	for _, id := range ids {
		record, err := fn(id)
		if err != nil {
			output.Error(cmd.ErrOrStderr(), "%v", err)
			failed++
			continue
		}
		output.Success(cmd.OutOrStdout(), "%s %s (%s)", verb, record.Name, record.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d establishments failed", failed, len(ids))
	}
	return nil
}
