// Package ui provides terminal UI components for the nrfprobe CLI.
//
// This package uses Bubble Tea and Lipgloss to render polished terminal output
// for probe commands. Most components follow a "run once and exit" pattern -
// they render output compellingly but don't require user interaction. The one
// interactive piece is the probe picker, shown when several probes are
// attached and none was named.
//
// # Architecture
//
// The UI package provides five main component types:
//
//   - Header: Command banner showing operation name and parameters
//   - Progress: Progress bar with step list showing real-time status
//   - Result: Success/failure boxes with styled information
//   - HexDump: Memory dump box for read commands
//   - Picker: Inline probe selection list
//
// These components are orchestrated by the Runner, which manages the
// header, progress and result flow for probe command execution.
//
// # Usage Pattern
//
// Probe commands use this package by:
//
//  1. Creating a Runner with command metadata
//  2. Calling Run() with their operation function
//  3. The operation reports progress via a step callback, or the
//     Runner's OnPhase method is handed to the session layer directly
//  4. Runner handles all UI rendering automatically
//
// Example:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Flash Program",
//	    Command: "nrfprobe program",
//	    Params:  map[string]string{"Probe": "683999999", "File": "app.hex"},
//	})
//
//	err := runner.Run(ctx, func(onStep ui.StepCallback) error {
//	    sess, err := session.Open(serial, session.WithProgress(runner.OnPhase))
//	    // ... program, verify, reset ...
//	    return err
//	})
//
// The session, flash and DFU layers report phases as plain strings whose
// count is not known in advance, so OnPhase appends steps as they arrive
// instead of requiring TotalSteps up front.
//
// # Logging Integration
//
// This package expects logging to be controlled via the NRFPROBE_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly. Set NRFPROBE_LOG_LEVEL to
// "debug", "info", "warn", or "error" to enable logging output.
//
// # Interactivity
//
// IsInteractive reports whether stdin and stdout are both terminals. The
// picker and the dangerous-operation confirmations only run when it returns
// true; headless callers (scripts, CI) get an error instead of a hung prompt.
package ui
