package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/victoredede21/xss-educational-lab/internal/catalog"
	"github.com/victoredede21/xss-educational-lab/internal/config"
)

func newCatalogCmd(flags *rootFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the command modules that would be seeded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := config.Load(viper.New(), flags.configFile, flags.envFile)
				if err != nil {
					return err
				}
				file = cfg.Catalog.Path
			}

			modules, err := catalog.Load(file)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCATEGORY\tNAME\tDESCRIPTION")
			for i, m := range modules {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, m.Category, m.Name, m.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "\n%d modules in %d categories\n", len(modules), len(catalog.CategoryNames(modules)))
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog TOML file (default: catalog.path, else built-in)")
	return cmd
}
