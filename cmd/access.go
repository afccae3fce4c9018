// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/axisctl/pkg/axis"
	"github.com/Thermoquad/axisctl/pkg/builder"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

var readAngle bool

var readCmd = &cobra.Command{
	Use:   "read TARGET...",
	Short: "Read registers or bitfields (register.bit)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write TARGET VALUE",
	Short: "Write a register or bitfield (register.bit)",
	Long: `Write a value to a register, converted to the register's wire type, or
to one bitfield of a register. Other bits of the register keep the value
read from the board.

VALUE may be a number, True or False.`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var clearCmd = &cobra.Command{
	Use:   "clear REGISTER",
	Short: "Zero every bitfield of a register",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Run the safe-stop sequence",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	readCmd.Flags().BoolVar(&readAngle, "angle", false, "Show int32 position registers as degrees")

	rootCmd.AddCommand(readCmd, writeCmd, clearCmd, stopCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, target := range args {
		reg, bit := axis.ParseTarget(target)
		if bit != "" {
			v, err := s.session.ReadBit(ctx, reg, bit)
			if err != nil {
				return err
			}
			fmt.Printf("%s = %d\n", target, v)
			continue
		}

		r, err := s.session.Lookup(reg)
		if err != nil {
			return err
		}
		if readAngle && r.Type() == vlink.TypeInt32 {
			counts, err := axis.ReadAs[int32](ctx, s.session, reg)
			if err != nil {
				return err
			}
			fmt.Printf("%s = %d counts (%.4f°)\n", target, counts, axis.Angle(counts))
			continue
		}

		v, err := s.session.ReadFloat(ctx, reg)
		if err != nil {
			return err
		}
		raw, _ := vlink.FromFloat(r.Type(), v)
		fmt.Printf("%s = %s %s\n", target, formatRaw(r.Type(), raw), r.UnitString())
	}
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	v, ok := builder.Coerce(args[1]).Get()
	if !ok {
		return fmt.Errorf("invalid value %q", args[1])
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.session.Write(ctx, args[0], v); err != nil {
		return err
	}
	fmt.Printf("%s <- %v\n", args[0], v)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.session.ClearAllBitFields(ctx, args[0])
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.session.SafeStop(ctx, nil); err != nil {
		return err
	}
	fmt.Printf("Axis %d stopped\n", s.axis.Number)
	return nil
}
