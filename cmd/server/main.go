package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "xsslab",
		Short: "XSS Educational Lab hook server",
		Long: "xsslab runs a simulated XSS hook command-and-control server for security training. " +
			"Only load its hook script on pages you own inside an isolated lab.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to a TOML config file (default ./config.toml if present)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newCatalogCmd(flags),
	)
	return rootCmd
}
