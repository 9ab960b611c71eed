package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the module cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached modules of the configured network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, closeResolver, err := openResolver()
			if err != nil {
				return err
			}
			defer closeResolver()

			ids, err := resolver.Cache.List(resolver.Network)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	return cmd
}
