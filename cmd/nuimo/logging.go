package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nuimo/pkg/config"
)

// configureLogger builds the command logger writing to the command's stderr.
// The level is taken from --log-level, else --verbose (debug), else the
// configured level when there is one. Without any of them the logger stays
// silent at panic level.
func configureLogger(cmd *cobra.Command, configured *logrus.Level) (*logrus.Logger, error) {
	logLevel := logrus.PanicLevel

	levelFlag, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool("verbose")
	switch {
	case levelFlag != "":
		parsed, err := logrus.ParseLevel(levelFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, error, fatal or panic)", levelFlag)
		}
		logLevel = parsed
	case verbose:
		logLevel = logrus.DebugLevel
	case configured != nil:
		logLevel = *configured
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(cmd.ErrOrStderr())

	return logger, nil
}

// loadSettings reads the --config file and builds the command logger. The
// file's log_level counts only when a file was given.
func loadSettings(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	var configured *logrus.Level
	if path != "" {
		level := cfg.Level()
		configured = &level
	}

	logger, err := configureLogger(cmd, configured)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
