// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/axisctl/pkg/vlink/vlinktest"
)

var (
	simListen   string
	simNotReady bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated axis controller board over TCP",
	Long: `Run an in-process board with a small two-axis register map on a TCP
port, for trying axisctl without hardware:

  axisctl simulate --listen 127.0.0.1:1000 &
  axisctl --host 127.0.0.1 build`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simListen, "listen", "l", "127.0.0.1:1000", "Listen address")
	simulateCmd.Flags().BoolVar(&simNotReady, "not-ready", false, "Report the board as not ready")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	sim := vlinktest.NewDemo()
	sim.SetReady(!simNotReady)

	fmt.Printf("Simulated board on %s (%d registers)\n", simListen, len(vlinktest.DemoRegisters))
	fmt.Printf("Press Ctrl+C to exit\n")
	logger.Info().Str("listen", simListen).Msg("simulator started")

	return sim.ListenAndServe(ctx, simListen)
}
