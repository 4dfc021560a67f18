package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glidecore/valkeycore/internal/pubsub"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <channel> [channel...]",
	Short: "Subscribe to one or more channels and print messages until interrupted",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if len(cfg.Addresses) == 0 {
			fmt.Fprintln(os.Stderr, "no seed address configured")
			os.Exit(1)
		}

		addr := fmt.Sprintf("%s:%d", cfg.Addresses[0].Host, cfg.Addresses[0].Port)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := pubsub.New(ctx, pubsub.Options{
			Endpoint: addr,
			Backoff:  cfg.Retry.ToBackoff(),
		}, pubsub.Subscription{
			Channels: args,
			Callback: func(m pubsub.Message) {
				fmt.Printf("%s: %s\n", m.Channel, strings.TrimSpace(string(m.Payload)))
			},
		})
		defer s.Close()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)
		<-quit
	},
}

func init() {
	rootCmd.AddCommand(subscribeCmd)
}
