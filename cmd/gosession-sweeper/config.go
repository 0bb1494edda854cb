package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var showSecrets bool
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the merged file, environment and default configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !showSecrets && cfg.Redis.Password != "" {
				cfg.Redis.Password = "********"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	printCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print the Redis password instead of a mask")

	cmd.AddCommand(printCmd)
	return cmd
}
