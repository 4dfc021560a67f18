package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glidecore/valkeycore/internal/router"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "PING the deployment and print the reply",
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

		v, err := c.Command(ctx, "PING", nil, nil, router.Primary)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(v.Str))
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
