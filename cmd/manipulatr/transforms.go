package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTransformsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "transforms",
		Short: "List registered transform names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			for _, name := range a.Engine.Transforms() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
