package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mit.edu/dsg/simpledb/config"
)

var (
	rootCmd = &cobra.Command{
		Use:               "simpledb",
		Short:             "A teaching relational database",
		Long:              "SimpleDB is a teaching relational database with a transactional storage core.",
		PersistentPreRunE: rootPreRun,
		PersistentPostRun: rootPostRun,
	}

	logFile    = ""
	logLevel   = ""
	configFile = "simpledb.hcl"
	noConfig   = false
	logWriter  io.WriteCloser

	cfg = config.Default()
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := rootCmd.PersistentFlags()
	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging; stderr if empty")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	rootCmd.AddCommand(startCmd)
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	if configFile != "" && !noConfig {
		if _, err := os.Stat(configFile); err == nil {
			loaded, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("simpledb: %s", err)
			}
			// Flags set on the command line beat the config file.
			fs := cmd.Flags()
			if !fs.Changed("num-pages") {
				cfg.NumPages = loaded.NumPages
			}
			if !fs.Changed("data") {
				cfg.DataDir = loaded.DataDir
			}
			if !fs.Changed("wal") {
				cfg.LogPath = loaded.LogPath
			}
			cfg.SharedLockTimeoutMs = loaded.SharedLockTimeoutMs
			cfg.ExclusiveLockTimeoutMs = loaded.ExclusiveLockTimeoutMs
			cfg.LogLevel = loaded.LogLevel
		}
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("simpledb: %s", err)
	}
	log.SetLevel(ll)

	if logFile != "" {
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return fmt.Errorf("simpledb: %s", err)
		}
		log.SetOutput(logWriter)
	}

	log.WithField("pid", os.Getpid()).Info("simpledb starting")
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("simpledb done")
	if logWriter != nil {
		logWriter.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
