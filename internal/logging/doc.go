// Package logging provides structured logging for the probe tools.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the session engine. It provides both general logging
// functions and specialized functions for probe and target logging needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (memory transactions, RTT polling, DFU frames)
//   - Info: Normal operations (probe claims, identification, flash operations)
//   - Warn: Non-fatal issues (retries, clamped parameters)
//   - Error: Fatal issues (connection failures, unrecoverable target state)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device identified",
//	    zap.Uint32("serial", 683551234),
//	    zap.String("family", "NRF52"),
//	    zap.String("version", "NRF52840_xxAA_REV2"),
//	)
//
// # Specialized Logging
//
// The package provides domain-specific logging functions:
//
// Probe Logging:
//
//	logging.LogProbe(serial, "claimed")
//	logging.LogProbe(serial, "released")
//
// Target Logging:
//
//	logging.LogMemoryAccess("read", 0x00000000, 4096)
//	logging.LogFlashOp("erase_page", 0x00001000, 4096)
//
// # Configuration
//
// Logging is silent by default so library users and scripted CLI runs get
// clean output. Set NRFPROBE_LOG_LEVEL to enable it:
//
//	NRFPROBE_LOG_LEVEL=debug nrfprobe --snr 683551234 program app.hex
//
// Commands initialize the logger once at startup:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
