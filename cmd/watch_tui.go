// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/axisctl/pkg/axis"
	"github.com/Thermoquad/axisctl/pkg/builder"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// watchModel is the Bubble Tea model for the register monitor
type watchModel struct {
	w        *watcher
	connInfo string
	axis     int
	started  time.Time

	table    table.Model
	input    textinput.Model
	editing  bool
	readings []watchReading
	lastErr  []string
	lastPoll time.Time
	stats    vlink.Counters
	polling  bool
	linkLost bool

	errorLog      []errorLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type watchTickMsg time.Time

type watchPollMsg struct {
	readings []watchReading
	stats    vlink.Counters
	at       time.Time
}

type watchWriteMsg struct {
	target string
	value  float64
	err    error
}

type watchStopMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialWatchModel(w *watcher, connInfo string, axisNum int) watchModel {
	ti := textinput.New()
	ti.Placeholder = "state_2.run=1"
	ti.CharLimit = 64
	ti.Width = 40
	ti.Prompt = "write> "

	columns := []table.Column{
		{Title: "Target", Width: 28},
		{Title: "Type", Width: 7},
		{Title: "Value", Width: 16},
		{Title: "Unit", Width: 6},
		{Title: "Angle", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(min(len(w.targets), 12)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12"))
	t.SetStyles(styles)

	m := watchModel{
		w:             w,
		connInfo:      connInfo,
		axis:          axisNum,
		started:       time.Now(),
		table:         t,
		input:         ti,
		lastErr:       make([]string, len(w.targets)),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.table.SetRows(m.rows())
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.w.poll, watchTickCmd())
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case watchTickMsg:
		if m.polling || m.linkLost {
			return m, watchTickCmd()
		}
		m.polling = true
		return m, tea.Batch(m.w.poll, watchTickCmd())

	case watchPollMsg:
		m.polling = false
		m.readings = msg.readings
		m.stats = msg.stats
		m.lastPoll = msg.at
		m.logReadErrors()
		m.table.SetRows(m.rows())

	case watchWriteMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("write %s=%v: %v", msg.target, msg.value, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("wrote %s=%v", msg.target, msg.value), false)
		}

	case watchStopMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("safe stop incomplete: %v", msg.err), true)
		} else {
			m.addLogEntry("safe stop done", false)
		}
	}

	return m, nil
}

func (m watchModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		switch msg.String() {
		case "esc":
			m.editing = false
			m.input.Blur()
			m.input.SetValue("")
			return m, nil

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.editing = false
			m.input.Blur()
			m.input.SetValue("")
			return m.submitWrite(line)

		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "w":
		if m.linkLost {
			m.addLogEntry("Cannot write: connection lost", true)
			return m, nil
		}
		m.editing = true
		return m, m.input.Focus()

	case "s":
		m.addLogEntry("safe stop requested", false)
		return m, m.w.stop
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) submitWrite(line string) (tea.Model, tea.Cmd) {
	target, value, ok := strings.Cut(line, "=")
	target = strings.TrimSpace(target)
	if !ok || target == "" {
		m.addLogEntry(fmt.Sprintf("expected TARGET=VALUE, got %q", line), true)
		return m, nil
	}
	v, ok := builder.Coerce(strings.TrimSpace(value)).Get()
	if !ok {
		m.addLogEntry(fmt.Sprintf("invalid value %q", value), true)
		return m, nil
	}
	return m, m.w.write(target, v)
}

// logReadErrors logs each target's error once, when it first appears.
func (m *watchModel) logReadErrors() {
	for i, r := range m.readings {
		msg := ""
		if r.err != nil {
			msg = r.err.Error()
		}
		if msg != m.lastErr[i] && msg != "" {
			m.addLogEntry(fmt.Sprintf("%s: %s", m.w.targets[i].name, msg), true)
		}
		m.lastErr[i] = msg

		if vlink.IsFatal(r.err) && !m.linkLost {
			m.linkLost = true
			m.addLogEntry("Connection lost - polling stopped", true)
		}
	}
}

func (m *watchModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m watchModel) rows() []table.Row {
	rows := make([]table.Row, len(m.w.targets))
	for i, t := range m.w.targets {
		value, angle := "-", ""
		if i < len(m.readings) {
			r := m.readings[i]
			switch {
			case r.err != nil:
				value = "ERR"
			case t.bit != "":
				value = fmt.Sprintf("%d", uint32(r.value))
			case t.typ == vlink.TypeFloat32:
				value = fmt.Sprintf("%g", r.value)
			default:
				value = fmt.Sprintf("%d", int64(r.value))
				if t.typ == vlink.TypeInt32 {
					angle = fmt.Sprintf("%.3f°", axis.Angle(int32(r.value)))
				}
			}
		}
		typ := t.typ.String()
		if t.bit != "" {
			typ = "bit"
		}
		rows[i] = table.Row{t.name, typ, value, t.unit, angle}
	}
	return rows
}

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	seconds := int(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	seconds %= 60
	minutes %= 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %02dm %02ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %02ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("AXISCTL WATCH"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.linkLost {
		connStatus = errorStyle.Render("CONNECTION LOST")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| Axis %d | %s | %s | q=quit w=write s=stop",
		m.axis, connStatus, formatElapsed(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Registers
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")
	if m.editing {
		s.WriteString(m.input.View())
		s.WriteString("\n")
	}
	s.WriteString("\n")

	// Statistics
	st := m.stats
	failures := st.ChecksumErrors + st.OpcodeMismatches + st.TransientErrors
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Exchanges:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Exchanges)),
		statsLabelStyle.Render("Succeeded:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Succeeded)),
		statsLabelStyle.Render("Attempts:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Attempts)),
	))
	if failures > 0 || st.Exhausted > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("Mismatch:"), errorStyle.Render(fmt.Sprintf("%d", st.OpcodeMismatches)),
			statsLabelStyle.Render("Transient:"), warningStyle.Render(fmt.Sprintf("%d", st.TransientErrors)),
			statsLabelStyle.Render("Exhausted:"), errorStyle.Render(fmt.Sprintf("%d", st.Exhausted)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f ex/s", st.ExchangeRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := max(m.height-len(m.w.targets)-16, 5)
	startIdx := max(len(m.errorLog)-logHeight, 0)

	logContent := strings.Builder{}
	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.errorLog[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))

	return s.String()
}
