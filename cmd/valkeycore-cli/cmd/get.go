package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glidecore/valkeycore/internal/resp"
	"github.com/glidecore/valkeycore/internal/router"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "GET a single key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		c, err := newClient(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer c.Close()

		v, err := c.Command(ctx, "GET", [][]byte{[]byte(args[0])}, nil, router.Primary)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if v.Kind == resp.KindNil {
			fmt.Println("(nil)")
			return
		}
		fmt.Println(string(v.Str))
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
