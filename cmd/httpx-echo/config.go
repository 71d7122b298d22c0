package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dqx0.com/go/httpwire/config"
)

func newConfigCmd(a *app) *cobra.Command {
	var gen string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration or generate a default file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if gen != "" {
				return config.Write(gen, config.Default())
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&gen, "gen", "g", "", "generate default configuration file")
	return cmd
}
