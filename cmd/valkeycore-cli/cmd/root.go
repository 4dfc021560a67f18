package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glidecore/valkeycore/client"
	"github.com/glidecore/valkeycore/config"
	"github.com/glidecore/valkeycore/events"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "valkeycore-cli",
	Short: "Interact with a Valkey/Redis deployment using the valkeycore client runtime",
}

// Execute runs the command tree, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.valkeycore-cli.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".valkeycore-cli")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig builds a config.Config from viper settings.
func loadConfig() (*config.Config, error) {
	raw := viper.AllSettings()
	if len(raw) == 0 {
		return nil, fmt.Errorf("no config loaded; see --config or $HOME/.valkeycore-cli.yaml")
	}
	return config.FromMap(raw)
}

// newClient builds a Client from the loaded config, logging events to
// stderr via logrus.
func newClient(ctx context.Context) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	sink := events.NewLogrusSink(logrus.StandardLogger())
	return client.New(ctx, cfg, sink)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
