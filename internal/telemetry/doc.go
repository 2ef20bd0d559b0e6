// Package telemetry provides OpenTelemetry tracing and metric export.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	walker := gitscan.New(engine, gitscan.WithTracerProvider(tel.TracerProvider()))
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http
//	  sample_rate: 1.0
//	  export_interval: "15s"
//
// # Error Handling
//
// Exporter setup failures degrade the instance to no-op providers. Health
// lists the problems so the CLI can log them.
//
// # Testing
//
// NewTestTelemetry records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	walker := gitscan.New(engine, gitscan.WithTracerProvider(tt.TracerProvider()))
//	...
//	tt.AssertSpanExists(t, "gitscan.scan")
package telemetry
