// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/axisctl/pkg/axis"
	"github.com/Thermoquad/axisctl/pkg/builder"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/settings"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// safeStopTimeout bounds the stop sequence issued after an interrupt.
const safeStopTimeout = 5 * time.Second

// boardLink is an open connection to one board.
type boardLink struct {
	axis     settings.Axis
	conn     Connection
	connInfo string
	board    *vlink.Board
	log      zerolog.Logger
}

func (l *boardLink) Close() error {
	l.log.Debug().Str("stats", l.board.Channel().Stats().String()).Msg("closing connection")
	return l.conn.Close()
}

// axisSession is an open board with its resolved catalog.
type axisSession struct {
	*boardLink
	result  *builder.Result
	session *axis.Session
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// connect opens the connection for a, retrying with exponential backoff up
// to the configured number of attempts.
func connect(ctx context.Context, a settings.Axis, log zerolog.Logger) (Connection, string, error) {
	password := ""
	if wsURL != "" && wsUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return nil, "", err
		}
	}

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		conn, info, err := OpenConnection(dialCtx, a, password)
		cancel()
		if err == nil {
			return conn, info, nil
		}
		if attempt >= cfg.ConnectAttempts || ctx.Err() != nil {
			return nil, "", fmt.Errorf("axis %d: %w", a.Number, err)
		}

		wait := b.Duration()
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("connect failed")
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

// openBoard connects to axis n and checks that the board is ready.
func openBoard(ctx context.Context, n int) (*boardLink, error) {
	a, err := resolveAxis(n)
	if err != nil {
		return nil, err
	}
	log := logger.With().Int("axis", a.Number).Logger()

	conn, info, err := connect(ctx, a, log)
	if err != nil {
		return nil, err
	}

	opts := []vlink.Option{
		vlink.WithRetries(cfg.Retries),
		vlink.WithReadTimeout(cfg.ReadTimeout),
		vlink.WithLogger(log),
	}
	if traceFrames {
		opts = append(opts, vlink.WithTrace(os.Stderr))
	}
	link := &boardLink{
		axis:     a,
		conn:     conn,
		connInfo: info,
		board:    vlink.NewBoard(vlink.NewChannel(conn, opts...)),
		log:      log,
	}

	ready, err := link.board.Status(ctx)
	if err != nil {
		link.Close()
		return nil, err
	}
	if !ready {
		link.Close()
		return nil, fmt.Errorf("axis %d: board at %s is not ready", a.Number, info)
	}
	log.Info().Str("connection", info).Msg("board ready")
	return link, nil
}

// openSession connects to axis n and loads or builds its catalog.
func openSession(ctx context.Context, n int, force bool) (*axisSession, error) {
	link, err := openBoard(ctx, n)
	if err != nil {
		return nil, err
	}

	rec := oplog.NewZerologRecorder(link.log)
	ws := builder.NewWorkspace(cfg, link.axis.Number)
	res, err := builder.LoadOrBuild(ctx, link.board, ws, rec, force)
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("axis %d: %w", link.axis.Number, err)
	}

	return &axisSession{
		boardLink: link,
		result:    res,
		session:   axis.NewSession(link.board, res.Catalog, axis.WithRecorder(rec), axis.WithLogger(link.log)),
	}, nil
}

// stopIfInterrupted runs the safe-stop sequence on a fresh context when
// ctx was cancelled by a signal.
func (s *axisSession) stopIfInterrupted(ctx context.Context) {
	if !errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	s.log.Warn().Msg("interrupted, stopping axis")

	stopCtx, cancel := context.WithTimeout(context.Background(), safeStopTimeout)
	defer cancel()
	if err := s.session.SafeStop(stopCtx, nil); err != nil {
		s.log.Error().Err(err).Msg("safe stop incomplete")
	}
}
