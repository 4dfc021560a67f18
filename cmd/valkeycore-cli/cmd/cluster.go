package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Inspect or refresh cluster topology",
}

var clusterTopologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the current slot map, one line per node",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		c, err := newClient(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer c.Close()

		snap := c.Topology()
		if snap == nil {
			fmt.Fprintln(os.Stderr, "cluster_mode is disabled; no topology")
			os.Exit(1)
		}

		ids := make([]string, 0, len(snap.Nodes))
		for id := range snap.Nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			n := snap.Nodes[id]
			fmt.Printf("%s  %-8s  %s\n", n.ID, n.Role, n.Addr)
		}
	},
}

var clusterRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force an immediate topology discovery round",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		c, err := newClient(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer c.Close()

		if err := c.RefreshTopology(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("topology refreshed")
	},
}

func init() {
	clusterCmd.AddCommand(clusterTopologyCmd, clusterRefreshCmd)
	rootCmd.AddCommand(clusterCmd)
}
