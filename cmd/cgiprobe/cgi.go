package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dskow/cgi-probe/internal/gateway"
	"github.com/dskow/cgi-probe/internal/logging"
)

func newCGICmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cgi",
		Short: "Answer one request as a CGI child (stdin/stdout)",
		Long: "Answer one request as a CGI child. The request is read from the CGI\n" +
			"environment and stdin and the response is written to stdout. Without\n" +
			"--config the file named by " + configEnv + " is used, else the defaults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv(configEnv)
			}
			return runCGI(configPath)
		},
	}
	addConfigFlag(cmd.Flags(), &configPath, "")
	return cmd
}

func runCGI(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// stdout carries the response.
	logCfg := cfg.Logging
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	logger, closer, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newCGIApp(cfg, logger)
	if err != nil {
		return err
	}
	return gateway.Serve(a.handler)
}
