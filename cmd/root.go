// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/settings"
)

var (
	configPath string
	axisNumber int
	workDir    string

	// TCP connection flags
	tcpHost string
	tcpPort int

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	logLevel    string
	traceFrames bool

	cfg    settings.Settings
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "axisctl",
	Short: "Axis controller board register tool",
	Long: `axisctl - Read, write and configure the registers of axis controller boards.

The board's register table is fetched once per axis, merged with the shared
configuration values and cached in the axis working directory (./axle_N).
Registers are then addressed by name, bitfields as register.bit.

Connection modes:
  TCP:       settings file [[axis]] entry, or --host/--tcp-port (default)
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the AXISCTL_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = oplog.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", settings.DefaultFile, "Settings file")
	rootCmd.PersistentFlags().IntVarP(&axisNumber, "axis", "a", 1, "Axis number")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "Working directory (overrides the settings file)")

	// TCP connection flags
	rootCmd.PersistentFlags().StringVar(&tcpHost, "host", "", "Board host (overrides the axis entry)")
	rootCmd.PersistentFlags().IntVar(&tcpPort, "tcp-port", 0, "Board TCP port (overrides the axis entry)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&traceFrames, "trace", false, "Dump every frame sent and received to stderr")
}

// loadSettings reads the settings file and configures logging. A missing
// default file falls back to built-in defaults; an explicit --config must
// exist.
func loadSettings(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = settings.Load(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return err
		}
		cfg = settings.Default()
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}

	opts := oplog.Options{App: "axisctl", Level: logLevel}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		opts.File = oplog.SessionFile(cfg.LogDir, time.Now())
	}
	logger = oplog.Configure(opts)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
