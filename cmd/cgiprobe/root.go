package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dskow/cgi-probe/internal/config"
)

const (
	defaultConfigPath = "configs/cgiprobe.yaml"

	// configEnv names a config file for CGI children, which get no flags
	// from the web server.
	configEnv = "CGIPROBE_CONFIG"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cgiprobe",
		Short:         "Diagnostic pages for CGI-style request handling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCGICmd(), newValidateCmd())
	return root
}

func addConfigFlag(fs *pflag.FlagSet, target *string, def string) {
	fs.StringVarP(target, "config", "c", def, "path to configuration file")
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file and print its warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range cfg.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "%s: ok\n", configPath)
			return nil
		},
	}
	addConfigFlag(cmd.Flags(), &configPath, defaultConfigPath)
	return cmd
}
