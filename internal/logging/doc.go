// Package logging builds the zap loggers used across repoctx.
//
// It adds, on top of zap:
//   - a Trace level (-2, below Debug)
//   - stderr or stdout output, optionally bridged to OpenTelemetry logs
//   - per-retrieval correlation fields (query.id, trace_id)
//   - redaction of sensitive keys and value patterns
//   - sampling below error level
//
// Usage:
//
//	logger, err := logging.New(logging.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer logging.Sync(logger)
//
//	ctx = logging.WithQueryID(ctx, id)
//	logger.With(logging.ContextFields(ctx)...).Info("retrieval finished")
package logging
