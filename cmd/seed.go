package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azkidenz/intervia-poc/network"
)

var flagNetworkFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register the transit network on the ledger and in the graph",
	Long: `Seed writes providers, stops, services and agreements from a network
file into both stores, then copies every ledger digest into the graph.
Entities already on the ledger are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Network.File
		if flagNetworkFile != "" {
			path = flagNetworkFile
		}
		def, err := network.Load(path)
		if err != nil {
			return err
		}

		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := network.Seed(cmd.Context(), def, st.ledger, st.graph); err != nil {
			return err
		}
		head := st.ledger.Head()
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d services from %s (ledger height %d)\n", len(def.Services), path, head.Height)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&flagNetworkFile, "network", "", "network file (default: network.file from config)")
}
