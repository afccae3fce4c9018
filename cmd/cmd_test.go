// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/axisctl/pkg/axis"
	"github.com/Thermoquad/axisctl/pkg/builder"
	"github.com/Thermoquad/axisctl/pkg/confstore"
	"github.com/Thermoquad/axisctl/pkg/match"
	"github.com/Thermoquad/axisctl/pkg/vlink"
	"github.com/Thermoquad/axisctl/pkg/vlink/vlinktest"
)

// ============================================================
// WebSocket Transport Tests
// ============================================================

func wsURLFor(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_ServesBoard(t *testing.T) {
	sim := vlinktest.NewDemo()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := newWebSocketConnection(c)
		defer ws.Close()
		_ = sim.Serve(ws)
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := OpenWebSocketConnection(ctx, wsURLFor(srv), "", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	board := vlink.NewBoard(vlink.NewChannel(conn))
	ready, err := board.Status(ctx)
	if err != nil || !ready {
		t.Fatalf("status = %v, %v", ready, err)
	}
	n, err := board.ItemCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(vlinktest.DemoRegisters) {
		t.Errorf("expected %d registers, got %d", len(vlinktest.DemoRegisters), n)
	}

	// descriptors span several websocket reads
	d, err := board.Descriptor(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "state_2" {
		t.Errorf("descriptor 1 is %q", d.Name)
	}
}

func TestWebSocketConnection_ClosedByPeer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.Close()
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := OpenWebSocketConnection(ctx, wsURLFor(srv), "", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	_, err = vlink.NewBoard(vlink.NewChannel(conn)).Status(ctx)
	if !vlink.IsFatal(err) {
		t.Fatalf("expected a fatal link error, got %v", err)
	}

	buf := make([]byte, 4)
	if _, err := conn.Read(buf); !errors.Is(err, vlink.ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed after close, got %v", err)
	}
}

func TestWebSocketConnection_DeadlineKeepsLink(t *testing.T) {
	sim := vlinktest.NewDemo()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := newWebSocketConnection(c)
		defer ws.Close()
		_ = sim.Serve(ws)
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := OpenWebSocketConnection(ctx, wsURLFor(srv), "", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	ws := conn.(*WebSocketConnection)
	if err := ws.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := ws.Read(buf); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected a read timeout, got %v", err)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		t.Fatal(err)
	}

	ready, err := vlink.NewBoard(vlink.NewChannel(conn, vlink.WithReadTimeout(time.Second))).Status(ctx)
	if err != nil || !ready {
		t.Fatalf("link should survive a read timeout, got %v, %v", ready, err)
	}
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	_, err := OpenWebSocketConnection(context.Background(), "http://example.invalid/ws", "", "", false)
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme") {
		t.Errorf("expected scheme error, got %v", err)
	}
}

// ============================================================
// Watch Model Tests
// ============================================================

func newTestWatcher(t *testing.T, targets ...string) (*watcher, *vlinktest.Simulator) {
	t.Helper()
	sim := vlinktest.NewDemo()
	conn, stop := sim.Pipe()
	t.Cleanup(stop)
	board := vlink.NewBoard(vlink.NewChannel(conn))

	rules, err := match.New([]match.Rule{{
		Register: "state_2", Field: "Axis2", Key: "state",
		BitFields: []match.BitRule{{Name: "run", Field: "Axis2", Key: "run", StartBit: 0, Size: 1}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := (&builder.Builder{Board: board, Rules: rules, Store: confstore.Map{}}).Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sess := axis.NewSession(board, res.Catalog)

	w := &watcher{ctx: context.Background(), sess: sess, stats: board.Channel().Stats()}
	for _, name := range targets {
		wt, err := newWatchTarget(sess, name)
		if err != nil {
			t.Fatal(err)
		}
		w.targets = append(w.targets, wt)
	}
	return w, sim
}

func TestWatchModel_Poll(t *testing.T) {
	w, _ := newTestWatcher(t, "pos_2", "state_2.run", "kp_cur_2")
	m := initialWatchModel(w, "test", 2)

	next, _ := m.Update(w.poll())
	rows := next.(watchModel).table.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][2] != "1073741824" || rows[0][4] != "0.000°" {
		t.Errorf("pos_2 row %v", rows[0])
	}
	if rows[1][1] != "bit" || rows[1][2] != "0" {
		t.Errorf("state_2.run row %v", rows[1])
	}
	if rows[2][2] != "0.4000000059604645" {
		t.Errorf("kp_cur_2 row %v", rows[2])
	}
}

func TestWatchModel_Write(t *testing.T) {
	w, sim := newTestWatcher(t, "vel_targ_2")
	m := initialWatchModel(w, "test", 2)

	tests := []struct {
		line    string
		wantCmd bool
	}{
		{"vel_targ_2=0.5", true},
		{"vel_targ_2", false},
		{"=1", false},
		{"vel_targ_2=fast", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			next, cmd := m.submitWrite(tt.line)
			if (cmd != nil) != tt.wantCmd {
				t.Fatalf("command returned = %v, want %v", cmd != nil, tt.wantCmd)
			}
			if !tt.wantCmd {
				log := next.(watchModel).errorLog
				if len(log) == 0 || !log[len(log)-1].isError {
					t.Error("rejected input should be logged as an error")
				}
				return
			}
			msg := cmd().(watchWriteMsg)
			if msg.err != nil {
				t.Fatalf("write failed: %v", msg.err)
			}
		})
	}

	r, _ := w.sess.Lookup("vel_targ_2")
	if raw := sim.Raw(r.Address); raw != math.Float32bits(0.5) {
		t.Errorf("vel_targ_2 raw 0x%08X", raw)
	}
}

func TestNewWatchTarget_Unknown(t *testing.T) {
	w, _ := newTestWatcher(t)
	if _, err := newWatchTarget(w.sess, "state_2.nope"); !errors.Is(err, axis.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := newWatchTarget(w.sess, "nope"); !errors.Is(err, axis.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================
// Formatting Tests
// ============================================================

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 05s"},
		{2*time.Hour + 1*time.Minute, "2h 01m 00s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.expected {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.expected)
		}
	}
}

func TestFormatRaw(t *testing.T) {
	if got := formatRaw(vlink.TypeUint16, 0x00FF); got != "255 (0x00FF)" {
		t.Errorf("uint16: %q", got)
	}
	if got := formatRaw(vlink.TypeInt16, 0xFFFE); got != "-2 (0xFFFE)" {
		t.Errorf("int16: %q", got)
	}
	if got := formatRaw(vlink.TypeFloat32, math.Float32bits(1.5)); got != "1.5 (0x3FC00000)" {
		t.Errorf("float32: %q", got)
	}
}
