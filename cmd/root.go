// Package cmd implements the command-line interface for the traffic-safety
// crawler.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/crawl"
	cmdscheduler "github.com/jonesrussell/north-cloud/traffic-crawler/cmd/scheduler"
	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/serve"
	cmdsink "github.com/jonesrussell/north-cloud/traffic-crawler/cmd/sink"
	cmdwatermarks "github.com/jonesrussell/north-cloud/traffic-crawler/cmd/watermarks"
)

// envPrefix namespaces viper's automatic environment lookup.
const envPrefix = "TRAFFIC_CRAWLER"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug logging for all commands.
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "traffic-crawler",
		Short: "Incremental crawler for traffic-safety open data",
		Long: `traffic-crawler pulls new crash, red light camera and speed camera records
from the Socrata open data API, publishes them to message streams, and keeps
a per-stream watermark so every run only fetches what it has not seen.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, common.KeyConfig, "",
		"config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, common.KeyDebug, false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", common.ServiceName, common.Version)
		},
	})

	rootCmd.AddCommand(crawl.Command())
	rootCmd.AddCommand(cmdscheduler.Command())
	rootCmd.AddCommand(cmdsink.Command())
	rootCmd.AddCommand(serve.Command())
	rootCmd.AddCommand(cmdwatermarks.Command())
}

// initViper binds the persistent flags so subcommands read them through viper.
func initViper() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindPFlag(common.KeyConfig, rootCmd.PersistentFlags().Lookup(common.KeyConfig))
	_ = viper.BindPFlag(common.KeyDebug, rootCmd.PersistentFlags().Lookup(common.KeyDebug))
}
