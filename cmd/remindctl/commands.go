package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnst/easy-reminder/internal/model"
	"github.com/jnst/easy-reminder/internal/service"
)

const defaultFailureLimit = 50

// backend holds what the subcommands operate on.
type backend struct {
	failures service.FailureService
	migrate  func(ctx context.Context) error
}

// opener connects to storage and returns a backend plus its cleanup.
type opener func(ctx context.Context) (*backend, func(), error)

func newRootCommand(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "remindctl",
		Short:         "Operate the reminder dispatch pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCommand(open),
		newFailuresCommand(open),
		newRedriveCommand(open),
	)

	return root
}

func newMigrateCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := b.migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")

			return nil
		},
	}
}

func newFailuresCommand(open opener) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List dispatches that ended in DELIVERY_FAILED",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := b.failures.ListFailures(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list failures: %w", err)
			}

			return printFailures(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultFailureLimit, "maximum number of records to list")

	return cmd
}

func newRedriveCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "redrive <scheduled_id>",
		Short: "Drop a failed dispatch and schedule its reminder again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			reminder, err := b.failures.Redrive(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to redrive %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reminder %s rescheduled as %s at %s\n",
				reminder.ID, reminder.ScheduledID, reminder.TargetTime.UTC().Format(time.RFC3339))

			return nil
		},
	}
}

func printFailures(w io.Writer, records []*model.DispatchRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULED_ID\tREMINDER_ID\tATTEMPTS\tUPDATED_AT\tLAST_ERROR")

	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.ScheduledID, r.ReminderID, r.Attempts, r.UpdatedAt.UTC().Format(time.RFC3339), r.LastError)
	}

	return tw.Flush()
}
