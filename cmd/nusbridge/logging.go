package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nusbridge/pkg/config"
)

// configureLogger applies --log-level and --verbose to cfg and builds its logger.
// --log-level takes precedence over --verbose; without either the configured
// level applies. Returns a usage error if the log level is invalid.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	// Check --log-level first (takes precedence)
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		if err := cfg.SetLogLevel(s); err != nil {
			return nil, usageError(err)
		}
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		// Fall back to --verbose flag if no --log-level specified
		cfg.LogLevel = logrus.DebugLevel.String()
	}

	return cfg.NewLogger(), nil
}
