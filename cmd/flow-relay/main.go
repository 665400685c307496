// Package main is the entry point for flow-relay.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"

	"github.com/omarluq/flow-relay/internal/version"
)

const (
	defaultConfigFile = "config.yaml"
	appDir            = "flow-relay"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flow-relay",
	Short: "Account-pooling proxy for Flow image and video generation",
	Long: `flow-relay pools many Flow accounts behind one HTTP API. It picks the
least recently used account with free capacity, retries rejected captchas on
the same account, benches rate-limited accounts and keeps credentials fresh
in the background.`,
	Version:      version.String(),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/"+appDir+"/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
