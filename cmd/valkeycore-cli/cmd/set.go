package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glidecore/valkeycore/internal/router"
)

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "SET a single key",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		c, err := newClient(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer c.Close()

		_, err = c.Command(ctx, "SET", [][]byte{[]byte(args[0]), []byte(args[1])}, nil, router.Primary)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("OK")
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
}
