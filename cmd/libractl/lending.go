// cmd/libractl/lending.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/circulation"
	"libranexus-lending/internal/command"
	"libranexus-lending/internal/legacy"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
)

func importCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a legacy Title;Author;ISBN;Status;Type export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var adder legacy.Adder = a.lending()
			if dryRun {
				adder = echoAdder{}
			}
			res, err := legacy.NewImporter(adder, policy.DefaultRates, a.logger(cmd.ErrOrStderr())).Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range res.Errors {
				fmt.Fprintf(out, "skipped %v\n", e)
			}
			fmt.Fprintf(out, "imported %d assets, %d failed\n", len(res.Imported), len(res.Errors))
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d records failed", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse only, do not contact the server")
	return cmd
}

// echoAdder accepts every asset without storing it.
type echoAdder struct{}

func (echoAdder) AddAsset(_ context.Context, asset *catalog.Asset) (*catalog.Asset, error) {
	return asset, nil
}

func listCmd(a *app) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets, optionally by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter lifecycle.State
			if state != "" {
				st, err := lifecycle.ParseState(state)
				if err != nil {
					return err
				}
				filter = st
			}
			assets, err := a.lending().ListAssets(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), assets, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tSTATE\tDUE")
				for _, as := range assets {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", as.ID, as.Title, as.Author, as.State, formatDue(as.DueDate))
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Available, Borrowed or \"Restoration Needed\"")
	return cmd
}

func borrowCmd(a *app) *cobra.Command {
	var user, mode string
	cmd := &cobra.Command{
		Use:   "borrow ASSET",
		Short: "Lend an asset to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := policy.ParseMode(mode)
			if err != nil {
				return err
			}
			due, err := a.lending().Borrow(cmd.Context(), args[0], user, m)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]any{"asset_id": args[0], "due_date": due}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s lent to %s, due %s\n", args[0], user, due.Format(time.RFC1123))
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "borrowing user id or email")
	cmd.Flags().StringVar(&mode, "mode", "public", "lending mode: public, academic or restricted")
	cmd.MarkFlagRequired("user")
	return cmd
}

func returnCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "return ASSET",
		Short: "Take an asset back and report the late fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fee, err := a.lending().Return(cmd.Context(), args[0], user)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]any{"asset_id": args[0], "late_fee": fee}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s returned, late fee $%.2f\n", args[0], fee)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "returning user id or email")
	cmd.MarkFlagRequired("user")
	return cmd
}

func flagCmd(a *app) *cobra.Command {
	var (
		rating  float64
		details []string
	)
	cmd := &cobra.Command{
		Use:   "flag ASSET",
		Short: "Flag an asset for restoration with a condition report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := circulation.ConditionReportInput{Rating: rating, Details: map[string]any{}}
			for _, kv := range details {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("detail %q is not key=value", kv)
				}
				report.Details[k] = v
			}
			if err := a.lending().FlagForRestoration(cmd.Context(), args[0], report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s flagged for restoration\n", args[0])
			return nil
		},
	}
	cmd.Flags().Float64Var(&rating, "rating", 0, "condition rating, 1 (ruined) to 10 (pristine)")
	cmd.Flags().StringArrayVar(&details, "detail", nil, "report detail as key=value, repeatable")
	cmd.MarkFlagRequired("rating")
	return cmd
}

func restoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ASSET",
		Short: "Return a restored asset to the shelf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, err := a.lending().Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), asset, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", asset.ID, asset.State)
			})
		},
	}
}

func undoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the most recent borrow or return",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.lending().Undo(cmd.Context())
			if errors.Is(err, command.ErrNoHistory) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to undo")
				return nil
			}
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), e, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "undid %s %s\n", e.Kind, e.ID)
			})
		},
	}
}

func queueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the restoration queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, err := a.lending().RestorationQueue(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), queue, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tRATING\tFLAGGED")
				for _, q := range queue {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", q.AssetID, q.Title, q.Rating, q.FlaggedAt.Format(time.DateTime))
				}
				tw.Flush()
			})
		},
	}
}

func overdueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List borrowed assets past their due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := a.lending().Overdue(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), loans, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tDAYS\tFEE")
				for _, l := range loans {
					fmt.Fprintf(tw, "%s\t%s\t%d\t$%.2f\n", l.Asset.ID, l.Asset.Title, l.DaysOverdue, l.LateFee)
				}
				tw.Flush()
			})
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show undoable commands, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.lending().History(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), entries, func() {
				for _, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-7s %s\n", e.AppliedAt.Format(time.DateTime), e.Kind, e.ID)
				}
			})
		},
	}
}

func formatDue(due *time.Time) string {
	if due == nil {
		return "-"
	}
	return due.Format(time.DateTime)
}
