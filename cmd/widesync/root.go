package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/wideorder/widesync/internal/config"
	"github.com/wideorder/widesync/internal/telemetry"
)

// Version is stamped at build time via -ldflags.
var Version = "0.3.0"

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "widesync",
	Short:         "Sync MySQL work-order tables into Elasticsearch wide documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		initLogging(cfg.Log)
		if err := telemetry.Init(cmd.Context(), "widesync", Version); err != nil {
			log.WithError(err).Warn("telemetry disabled: init failed")
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "Path to the INI configuration file")
	rootCmd.AddCommand(runCmd, backfillCmd, initIndexCmd, statusCmd, versionCmd)
}

// Execute runs the CLI. Unrecoverable errors exit non-zero so a
// supervisor restarts the pipeline from the last persisted offset.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("widesync failed")
		os.Exit(1)
	}
}

// initLogging applies the [log] section. An empty path logs to stderr;
// otherwise output goes to a size-rotated file.
func initLogging(lc config.Log) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	applyLogLevel(lc.Level)
	if lc.Path != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   lc.Path,
			MaxSize:    100, // megabytes
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
}

func applyLogLevel(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, keeping current")
		return
	}
	if log.GetLevel() != parsed {
		log.SetLevel(parsed)
		log.WithField("level", parsed).Info("log level applied")
	}
}
