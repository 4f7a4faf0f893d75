// Package telemetry sets up OpenTelemetry tracing and metrics export.
//
// Retrieval stages, vector store calls and embedding batches create spans
// and instruments on the global providers; New installs OTLP-backed
// providers there when telemetry is enabled. Both gRPC and HTTP/protobuf
// OTLP transports are supported.
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
package telemetry
