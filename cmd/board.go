// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

var (
	buildForce bool
	buildAll   bool

	catalogJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the board answers and report its register count",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch the register table and build the axis catalog",
	Long: `Query every register descriptor of the board, merge it with the match
rules and the shared configuration values, and save the result to the axis
working directory.

The saved catalog is reused while the board reports the same number of
registers; --force rebuilds it regardless. --all builds every configured
axis concurrently.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the registers of the axis catalog",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "Rebuild even if a catalog exists")
	buildCmd.Flags().BoolVar(&buildAll, "all", false, "Build every configured axis")
	catalogCmd.Flags().BoolVar(&catalogJSON, "json", false, "Print the catalog document instead of a table")

	rootCmd.AddCommand(statusCmd, buildCmd, catalogCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	link, err := openBoard(ctx, axisNumber)
	if err != nil {
		return err
	}
	defer link.Close()

	count, err := link.board.ItemCount(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Axis %d (%s)\n", link.axis.Number, link.connInfo)
	fmt.Printf("  Ready:     yes\n")
	fmt.Printf("  Registers: %d\n", count)
	fmt.Print(indent(link.board.Channel().Stats().String(), "  "))
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if !buildAll {
		return buildAxis(ctx, axisNumber, &sync.Mutex{})
	}

	var out sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range cfg.Axes {
		g.Go(func() error {
			return buildAxis(gctx, a.Number, &out)
		})
	}
	return g.Wait()
}

func buildAxis(ctx context.Context, n int, out *sync.Mutex) error {
	s, err := openSession(ctx, n, buildForce)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.result
	out.Lock()
	defer out.Unlock()

	if res.Reused {
		fmt.Printf("Axis %d: catalog up to date (%d registers)\n", n, res.Catalog.Len())
		return nil
	}
	fmt.Printf("Axis %d: built %d registers, %d unresolved, %d warnings\n",
		n, res.Catalog.Len(), len(res.Misses), len(res.Warnings))
	for _, m := range res.Misses {
		fmt.Printf("  miss: %s\n", m)
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %v\n", w)
	}
	return nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	cat := s.session.Catalog()
	if catalogJSON {
		return catalog.EncodeJSON(os.Stdout, cat)
	}

	fmt.Printf("%-4s %-32s %-9s %-7s %-8s %s\n", "#", "NAME", "ADDRESS", "TYPE", "UNIT", "VALUE")
	for _, r := range cat.Registers() {
		fmt.Printf("%-4d %-32s %-9s %-7s %-8s %s\n",
			r.Index, r.Name, r.Address, r.Type(), r.UnitString(), r.Value)
		for _, b := range r.BitFields {
			fmt.Printf("     %-32s bits %d..%d %s\n",
				"."+b.Name, b.StartBit, b.StartBit+b.Size-1, b.Value)
		}
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// formatRaw renders a raw register value in the register's wire type.
func formatRaw(t vlink.WireType, raw uint32) string {
	if t == vlink.TypeFloat32 {
		return fmt.Sprintf("%g (0x%08X)", vlink.ToFloat(t, raw), raw)
	}
	return fmt.Sprintf("%d (0x%0*X)", int64(vlink.ToFloat(t, raw)), 2*t.Width(), raw)
}
