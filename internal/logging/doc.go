// Package logging provides structured logging for the scanner.
//
// Logger wraps Zap with a custom Trace level (-2, below Debug), ctx-first
// methods that inject trace and scan correlation fields, a redacting encoder
// that keeps credentials and matched secrets out of log sinks, and an
// optional OpenTelemetry log bridge.
//
// Logs are written to stderr; stdout is reserved for findings.
//
//	cfg := logging.NewDefaultConfig()
//	cfg.Level = logging.VerbosityLevel(verbose)
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithScanID(ctx, uuid.NewString())
//	logger.Info(ctx, "scan finished", zap.Int("findings", n))
//
// Components receive the *Logger explicitly; nothing in this module sets a
// process-wide level.
package logging
