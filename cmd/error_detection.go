// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze telemetry errors and anomalies",
	Long: `Track telemetry errors and anomalous values with statistics.

This command validates each decoded reading and detects:
  - CRC errors and unanswered KISS requests
  - Hobbywing stream resynchronizations
  - Anomalous values (over-temperature, voltage out of range,
    over-current, RPM reported without voltage)
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Readings are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// checkedEvent is an event with its validation result
type checkedEvent struct {
	event            escsensor.Event
	validationErrors []escsensor.ValidationError
}

func checkEvent(ev escsensor.Event) checkedEvent {
	c := checkedEvent{event: ev}
	if ev.Kind == escsensor.EventFrame {
		c.validationErrors = escsensor.ValidateReading(ev.Motor, ev.Reading)
	}
	return c
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if useTUI {
		return runTUIMode(cmd, showAll)
	}
	return runTextMode(cmd)
}

// printEventError prints a CRC error, timeout or resync in highlighted format
func printEventError(ev escsensor.Event) {
	timestamp := ev.Time.Format("15:04:05.000")
	switch ev.Kind {
	case escsensor.EventCRCError:
		fmt.Printf("[%s] \033[1;31mCRC ERROR:\033[0m motor %d %s\n", timestamp, ev.Motor, escsensor.FormatHex(ev.Raw))
		fmt.Printf("  %v\n", ev.Err)
		fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
	case escsensor.EventTimeout:
		fmt.Printf("[%s] \033[1;33mTIMEOUT:\033[0m motor %d, %d/%d bytes received\n\n", timestamp, ev.Motor, len(ev.Raw), escsensor.KissFrameSize)
	case escsensor.EventResync:
		fmt.Printf("[%s] \033[1;33mRESYNC:\033[0m sentinel collision, skipped %d bytes\n\n", timestamp, escsensor.HobbywingResyncSkip)
	}
}

// printValidationErrors prints validation errors for a decoded reading
func printValidationErrors(ev escsensor.Event, errors []escsensor.ValidationError) {
	timestamp := ev.Time.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m motor %d %s\n", timestamp, ev.Motor, escsensor.FormatHex(ev.Raw))
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errors {
		switch err.Type {
		case escsensor.ANOMALY_OVER_TEMP, escsensor.ANOMALY_OVER_CURRENT:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case escsensor.ANOMALY_VOLTAGE_RANGE, escsensor.ANOMALY_RPM_NO_VOLTAGE:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Print(escsensor.FormatReading(ev.Reading, poleCount))
	fmt.Printf("  >>> READING REJECTED <<<\n\n")
}

// runTUIMode runs the terminal UI until the user quits
func runTUIMode(cmd *cobra.Command, all bool) error {
	var p *tea.Program
	s, err := openSession(escsensor.WithObserver(func(ev escsensor.Event) {
		// Called outside the decoder lock
		p.Send(eventMsg(checkEvent(ev)))
	}))
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialModel(s.connInfo, s.telemetry, statsInterval, all)
	p = tea.NewProgram(m)

	done := s.start(cmd.Context())
	go func() {
		<-done
		p.Send(connectionLostMsg{err: s.Err()})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(cmd *cobra.Command) error {
	events := make(chan checkedEvent, 256)
	s, err := openSession(escsensor.WithObserver(func(ev escsensor.Event) {
		select {
		case events <- checkEvent(ev):
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Escstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Protocol: %s, %d motors\n", s.telemetry.Protocol(), s.telemetry.Config().MotorCount)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := escsensor.NewStatistics()
	synchronized := false

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	done := s.start(ctx)

	for {
		select {
		case c := <-events:
			ev := c.event

			// Errors before the first good frame are line noise from attaching mid-stream
			if !synchronized {
				if ev.Kind != escsensor.EventFrame {
					continue
				}
				synchronized = true
				fmt.Printf("[SYNC] Synchronized\n\n")
			}

			stats.Update(ev, c.validationErrors)

			switch {
			case ev.Kind != escsensor.EventFrame:
				printEventError(ev)
			case len(c.validationErrors) > 0:
				printValidationErrors(ev, c.validationErrors)
			case showAll:
				fmt.Print(escsensor.FormatEvent(ev, poleCount))
			}

		case <-statsTicker.C:
			stats.UpdateCounters(s.telemetry.Stats())
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-done:
			stats.UpdateCounters(s.telemetry.Stats())
			fmt.Println()
			fmt.Print(stats.String())
			return s.Err()
		}
	}
}
