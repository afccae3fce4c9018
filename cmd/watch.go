// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/axisctl/pkg/axis"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch TARGET...",
	Short: "Interactive TUI monitoring registers",
	Long: `Poll registers and bitfields (register.bit) and show their live values.

Keys:
  w       write a value (TARGET=VALUE, Enter to send, Esc to cancel)
  s       run the safe-stop sequence
  q       quit

Link statistics and an event log are shown below the register table.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 250*time.Millisecond, "Polling interval")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, axisNumber, false)
	if err != nil {
		return err
	}
	defer s.Close()

	targets := make([]watchTarget, 0, len(args))
	for _, arg := range args {
		t, err := newWatchTarget(s.session, arg)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	w := &watcher{ctx: ctx, sess: s.session, stats: s.board.Channel().Stats(), targets: targets}
	m := initialWatchModel(w, s.connInfo, s.axis.Number)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	s.stopIfInterrupted(ctx)
	return nil
}

// watchTarget is one polled register or bitfield.
type watchTarget struct {
	name string
	reg  string
	bit  string
	typ  vlink.WireType
	unit string
}

func newWatchTarget(s *axis.Session, target string) (watchTarget, error) {
	reg, bit := axis.ParseTarget(target)
	r, err := s.Lookup(reg)
	if err != nil {
		return watchTarget{}, err
	}
	if bit != "" {
		if _, ok := r.BitField(bit); !ok {
			return watchTarget{}, fmt.Errorf("bitfield %s: %w", target, axis.ErrNotFound)
		}
	}
	return watchTarget{name: target, reg: reg, bit: bit, typ: r.Type(), unit: r.UnitString()}, nil
}

// watcher performs the board I/O for the TUI. Its methods run inside
// tea.Cmd goroutines; the session serialises the exchanges.
type watcher struct {
	ctx     context.Context
	sess    *axis.Session
	stats   *vlink.Statistics
	targets []watchTarget
}

type watchReading struct {
	value float64
	err   error
}

func (w *watcher) poll() tea.Msg {
	readings := make([]watchReading, len(w.targets))
	var fatal error
	for i, t := range w.targets {
		if fatal != nil {
			readings[i] = watchReading{err: fatal}
			continue
		}
		v, err := w.sess.Read(w.ctx, t.name)
		readings[i] = watchReading{value: v, err: err}
		if vlink.IsFatal(err) {
			fatal = err
		}
	}
	return watchPollMsg{readings: readings, stats: w.stats.Snapshot(), at: time.Now()}
}

func (w *watcher) write(target string, v float64) tea.Cmd {
	return func() tea.Msg {
		return watchWriteMsg{target: target, value: v, err: w.sess.Write(w.ctx, target, v)}
	}
}

func (w *watcher) stop() tea.Msg {
	return watchStopMsg{err: w.sess.SafeStop(w.ctx, nil)}
}
