// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/axisctl/pkg/settings"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Connection is the byte stream a board is reached through
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		// the port reports a read timeout as an empty read
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// SetReadDeadline maps a deadline onto the port's read timeout
func (s *SerialConnection) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	return s.port.SetReadTimeout(max(time.Until(t), time.Millisecond))
}

// WebSocketConnection carries the board byte stream in binary messages.
// Messages are received by a background reader so that a read deadline only
// ends one Read, never the connection.
type WebSocketConnection struct {
	conn      *websocket.Conn
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	err       error // read error that ended the reader, valid once messages is closed
	buf       []byte
	bufOffset int
	deadline  time.Time
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:     conn,
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.err = err
			}
			return
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	var timeout <-chan time.Time
	if !w.deadline.IsZero() {
		d := time.Until(w.deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-w.messages:
		if !ok {
			if w.err != nil {
				return 0, fmt.Errorf("%w: %v", vlink.ErrStreamClosed, w.err)
			}
			return 0, vlink.ErrStreamClosed
		}
		w.buf = data
		w.bufOffset = copy(p, data)
		return w.bufOffset, nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.conn.Close()
}

// SetReadDeadline bounds the next reads. The zero time waits indefinitely.
func (w *WebSocketConnection) SetReadDeadline(t time.Time) error {
	w.deadline = t
	return nil
}

// OpenTCPConnection dials the board's TCP endpoint
func OpenTCPConnection(ctx context.Context, address string) (Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("AXISCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// resolveAxis returns the selected axis with --host/--tcp-port applied
func resolveAxis(n int) (settings.Axis, error) {
	a, ok := cfg.Axis(n)
	if !ok {
		if tcpHost == "" && wsURL == "" && portName == "" {
			return settings.Axis{}, fmt.Errorf("axis %d is not configured", n)
		}
		a = settings.Axis{Number: n, Host: settings.Default().Axes[0].Host, Port: settings.Default().Axes[0].Port}
	}
	if tcpHost != "" {
		a.Host = tcpHost
	}
	if tcpPort != 0 {
		a.Port = tcpPort
	}
	return a, nil
}

// OpenConnection opens a WebSocket, serial or TCP connection, in that order
// of precedence, for axis a
func OpenConnection(ctx context.Context, a settings.Axis, password string) (Connection, string, error) {
	if wsURL != "" {
		conn, err := OpenWebSocketConnection(ctx, wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	conn, err := OpenTCPConnection(ctx, a.Address())
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("TCP: %s", a.Address()), nil
}
