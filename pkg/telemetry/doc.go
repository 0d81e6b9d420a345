// Package telemetry provides logging, tracing and metrics for boxctl.
//
// Logging uses zerolog and always writes to stderr unless configured otherwise,
// since stdout carries the JSON result of a run. Tracing uses OpenTelemetry with
// an OTLP gRPC, stdout or no-op exporter. Metrics use a private Prometheus
// registry that is written once per run in the textfile collector format.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//	cfg.Metrics.TextfilePath = "/var/lib/node_exporter/boxctl.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	op := telemetry.StartOperation(ctx, "render")
//	err = doRender(op.Ctx)
//	op.End(err)
//
// Subcommands are wrapped with RecordCommand, which opens a span per vagrant
// invocation and feeds the command counters and histograms.
package telemetry
