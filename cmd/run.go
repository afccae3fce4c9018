// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/axisctl/pkg/axis"
)

var (
	waitWant     uint32
	waitInterval time.Duration
	waitTimeout  time.Duration
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write every configured value to the board",
	Long: `Push the values resolved in the axis catalog to the board. Bitfield
registers get a single read-modify-write covering their configured fields;
registers without a configured value keep the board default.

Every value is checked against its register before anything is written.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

var applyCmd = &cobra.Command{
	Use:   "apply SCRIPT.yaml",
	Short: "Run a YAML script of write, clear and wait steps",
	Long: `Run the steps of a script in order, stopping at the first failure.

  name: sysid-init
  steps:
    - clear: sysid_control
    - write: sysid_control.startBit
      value: 1
    - wait: sysid_status.done
      value: 1
      timeout: 30s

An interrupt during the script runs the safe-stop sequence.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

var waitCmd = &cobra.Command{
	Use:   "wait REGISTER.BIT",
	Short: "Poll a bitfield until it reaches a value",
	Args:  cobra.ExactArgs(1),
	RunE:  runWait,
}

func init() {
	waitCmd.Flags().Uint32Var(&waitWant, "want", 1, "Value to wait for")
	waitCmd.Flags().DurationVar(&waitInterval, "interval", axis.DefaultPollInterval, "Polling interval")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (0 waits until interrupted)")

	rootCmd.AddCommand(setupCmd, applyCmd, waitCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.session.Setup(ctx)
	if err != nil {
		s.stopIfInterrupted(ctx)
		return fmt.Errorf("setup failed after %d registers: %w", n, err)
	}
	fmt.Printf("Axis %d: %d registers written\n", s.axis.Number, n)
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	script, err := axis.LoadScript(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.session.Run(ctx, script); err != nil {
		s.stopIfInterrupted(ctx)
		return err
	}
	fmt.Printf("Axis %d: %s done (%d steps)\n", s.axis.Number, script.Name, len(script.Steps))
	return nil
}

func runWait(cmd *cobra.Command, args []string) error {
	reg, bit := axis.ParseTarget(args[0])
	if bit == "" {
		return fmt.Errorf("wait target %q must be register.bit", args[0])
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	waitCtx := ctx
	if waitTimeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, waitTimeout)
		defer cancelWait()
	}

	start := time.Now()
	if err := s.session.WaitBit(waitCtx, reg, bit, waitWant, waitInterval); err != nil {
		s.stopIfInterrupted(ctx)
		return err
	}
	fmt.Printf("%s == %d after %s\n", args[0], waitWant, time.Since(start).Round(time.Millisecond))
	return nil
}
