// cmd/libractl/chaos.go
package main

import (
	"errors"

	"github.com/spf13/cobra"

	"libranexus-lending/internal/gameday"
)

func chaosCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chaos",
		Short: "Run the lending game day against an in-process store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := gameday.RunAll(cmd.Context(), cmd.OutOrStdout(), a.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if gameday.Failed(results) {
				return errors.New("game day found violations")
			}
			return nil
		},
	}
}
