package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azkidenz/intervia-poc/network"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy every service digest from the ledger into the graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := network.Sync(cmd.Context(), st.ledger, st.graph)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synchronized %d services\n", n)
		return nil
	},
}
