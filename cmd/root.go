// Package cmd
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"taskmaster/pkg/config"
	"taskmaster/pkg/utils/constants"
)

var (
	configFile  string
	showVersion bool
)

var version = "0.1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           constants.DefaultDaemonName,
	Short:         constants.DefaultDaemonName + " is a user-space process supervisor",
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("%s %s\n", constants.DefaultDaemonName, version)
			os.Exit(0)
		}

		_ = cmd.Usage()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	defaultConfig := fmt.Sprintf("%s/%s.yml", constants.TaskmasterHome, constants.DefaultDaemonName)

	// Configure cobra
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Set global flags
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfig, "The path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&config.LogLevelFlag, "loglevel", "l", "", "Override the configured log level")
}
