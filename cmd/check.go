package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskmaster/pkg/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	Run:   execCheckCmd,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func execCheckCmd(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d program(s)\n", cfg.Path(), cfg.Programs.Len())

	for pair := cfg.Programs.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		fmt.Printf("  %s: ok (%d instance(s), auto_start=%t, auto_restart=%s)\n",
			pair.Key, p.Instances, p.AutoStart, p.AutoRestart)
	}
}
