// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

const maxLogEntries = 100

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

type logEntry struct {
	at      time.Time
	message string
	fault   bool
}

// eventLog keeps the most recent maxLogEntries entries
type eventLog []logEntry

func (l *eventLog) add(message string, fault bool) {
	*l = append(*l, logEntry{at: time.Now(), message: message, fault: fault})
	if len(*l) > maxLogEntries {
		*l = (*l)[len(*l)-maxLogEntries:]
	}
}

// tail returns at most n of the newest entries
func (l eventLog) tail(n int) eventLog {
	if len(l) > n {
		return l[len(l)-n:]
	}
	return l
}

type model struct {
	connInfo      string
	telemetry     *escsensor.Telemetry
	statsInterval int
	showAll       bool
	stats         *escsensor.Statistics
	log           eventLog
	synchronized  bool
	motors        table.Model
	width         int
	height        int
	quitting      bool
	lost          bool
}

// Messages
type tickMsg time.Time
type eventMsg checkedEvent
type connectionLostMsg struct {
	err error
}

func newMotorTable(motorCount int) table.Model {
	columns := []table.Column{
		{Title: "Motor", Width: 6},
		{Title: "Temp", Width: 7},
		{Title: "Voltage", Width: 9},
		{Title: "Current", Width: 9},
		{Title: "mAh", Width: 7},
		{Title: "RPM", Width: 8},
		{Title: "Age", Width: 7},
		{Title: "Status", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(motorCount+2),
		table.WithFocused(false),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Cell
	t.SetStyles(styles)
	return t
}

// motorRows renders one row per motor plus the combined reading
func motorRows(t *escsensor.Telemetry) []table.Row {
	poles := t.Config().PoleCount
	row := func(label string, r escsensor.Reading, valid bool) table.Row {
		status := "OK"
		if !valid {
			status = "STALE"
		}
		age := fmt.Sprintf("%d", r.Age)
		if r.Stale() {
			age = "-"
		}
		return table.Row{
			label,
			fmt.Sprintf("%d°C", r.Temperature),
			fmt.Sprintf("%.2fV", r.VoltageVolts()),
			fmt.Sprintf("%.2fA", r.CurrentAmps()),
			fmt.Sprintf("%d", r.Consumption),
			fmt.Sprintf("%d", escsensor.MechanicalRPM(int(r.RPM), poles)),
			age,
			status,
		}
	}

	rows := []table.Row{}
	for m := 0; m < t.Config().MotorCount; m++ {
		r, err := t.Reading(m)
		if err != nil {
			continue
		}
		rows = append(rows, row(fmt.Sprintf("%d", m), r, t.Valid(m)))
	}
	if c, err := t.Combined(); err == nil {
		rows = append(rows, row("all", c, t.CombinedValid()))
	}
	return rows
}

func initialModel(connInfo string, telemetry *escsensor.Telemetry, statsInterval int, showAll bool) model {
	m := model{
		connInfo:      connInfo,
		telemetry:     telemetry,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         escsensor.NewStatistics(),
		motors:        newMotorTable(telemetry.Config().MotorCount),
		width:         80,
		height:        24,
	}
	m.motors.SetRows(motorRows(telemetry))
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.log.add("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.UpdateCounters(m.telemetry.Stats())
		m.stats.CalculateRates()
		m.motors.SetRows(motorRows(m.telemetry))
		return m, tickCmd()

	case connectionLostMsg:
		m.lost = true
		if msg.err != nil {
			m.log.add(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.log.add("Connection closed", true)
		}

	case eventMsg:
		m.handleEvent(checkedEvent(msg))
	}

	return m, nil
}

func (m *model) handleEvent(c checkedEvent) {
	ev := c.event
	if !m.synchronized {
		if ev.Kind != escsensor.EventFrame {
			return
		}
		m.synchronized = true
		m.log.add("Synchronized", false)
	}

	m.stats.Update(ev, c.validationErrors)

	switch ev.Kind {
	case escsensor.EventCRCError:
		m.log.add(fmt.Sprintf("Motor %d: CRC ERROR %s", ev.Motor, escsensor.FormatHex(ev.Raw)), true)
	case escsensor.EventTimeout:
		m.log.add(fmt.Sprintf("Motor %d: TIMEOUT (%d/%d bytes)", ev.Motor, len(ev.Raw), escsensor.KissFrameSize), true)
	case escsensor.EventResync:
		m.log.add("Hobbywing stream resynchronized", false)
	case escsensor.EventFrame:
		if len(c.validationErrors) > 0 {
			for _, err := range c.validationErrors {
				m.log.add(fmt.Sprintf("%s: %s", err.Type, err.Message), true)
			}
		} else if m.showAll {
			m.log.add(fmt.Sprintf("Motor %d: %s (valid)", ev.Motor, strings.TrimSpace(escsensor.FormatReading(ev.Reading, m.telemetry.Config().PoleCount))), false)
		}
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(m.renderHeader())
	s.WriteString(boxStyle.Render(m.motors.View()))
	s.WriteString("\n\n")
	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.renderLog()))
	return s.String()
}

func (m model) renderHeader() string {
	cfg := m.telemetry.Config()
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("ESCSTAT - " + strings.ToUpper(cfg.Protocol.String()) + " TELEMETRY"))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(fmt.Sprintf("%s | %d motors, %d poles | Mode: %s | 'r' reset stats, 'q' quit",
		m.connInfo, cfg.MotorCount, cfg.PoleCount, mode)))
	s.WriteString("\n\n")

	switch {
	case m.lost:
		s.WriteString(errorStyle.Render("✗ Connection lost"))
	case !m.synchronized:
		s.WriteString(warnStyle.Render("⏳ Waiting for first valid frame..."))
	default:
		s.WriteString(valueStyle.Render("✓ Synchronized"))
	}
	s.WriteString("\n\n")
	return s.String()
}

// field renders one "Label: value" pair
func field(label, value string, style lipgloss.Style) string {
	return labelStyle.Render(label+":") + " " + style.Render(value)
}

func (m model) renderStats() string {
	st := m.stats
	var validPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
	}
	faults := st.CRCErrors + st.Timeouts + st.Resyncs + st.AnomalousValues

	lines := []string{strings.Join([]string{
		field("Total", fmt.Sprintf("%d", st.TotalFrames), valueStyle),
		field("Valid", fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent), valueStyle),
		field("Errors", fmt.Sprintf("%d", faults), errorStyle),
	}, "   ")}

	if m.telemetry.Protocol() == escsensor.ProtocolKiss {
		lines = append(lines, strings.Join([]string{
			field("CRC Errors", fmt.Sprintf("%d", st.CRCErrors), errorStyle),
			field("Timeouts", fmt.Sprintf("%d", st.Timeouts), errorStyle),
			field("Late Bytes", fmt.Sprintf("%d", st.LateBytes), warnStyle),
		}, "   "))
	} else {
		lines = append(lines, strings.Join([]string{
			field("Resyncs", fmt.Sprintf("%d", st.Resyncs), warnStyle),
			field("Skipped", fmt.Sprintf("%d bytes", st.SkippedBytes), warnStyle),
		}, "   "))
	}

	if st.AnomalousValues > 0 {
		lines = append(lines, field("Anomalous", fmt.Sprintf("%d", st.AnomalousValues), warnStyle)+
			dimStyle.Render(fmt.Sprintf(" (over temp %d, voltage %d, over current %d, rpm w/o voltage %d)",
				st.OverTemp, st.VoltageRange, st.OverCurrent, st.RPMNoVoltage)))
	}

	rateStyle := valueStyle
	if st.ErrorRate > 0 {
		rateStyle = errorStyle
	}
	lines = append(lines, field("Frame Rate", fmt.Sprintf("%.1f fr/s", st.FrameRate), valueStyle)+"   "+
		field("Error Rate", fmt.Sprintf("%.1f err/s", st.ErrorRate), rateStyle))

	return strings.Join(lines, "\n")
}

func (m model) renderLog() string {
	rows := m.height - 20 - m.telemetry.Config().MotorCount
	if rows < 5 {
		rows = 5
	}
	if len(m.log) == 0 {
		return dimStyle.Render("  (no events yet)")
	}

	var s strings.Builder
	for _, e := range m.log.tail(rows) {
		s.WriteString(dimStyle.Render(e.at.Format("15:04:05.000")))
		s.WriteString(" ")
		if e.fault {
			s.WriteString(errorStyle.Render("✗ " + e.message))
		} else {
			s.WriteString(warnStyle.Render("ℹ " + e.message))
		}
		s.WriteString("\n")
	}
	return s.String()
}
