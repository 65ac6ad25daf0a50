// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and Prometheus metrics around the pipeline engine.
//
// Everything observable flows through engine events. The EventPublisher
// implements engine.EventPublisher and fans events out to subscribers in
// publish order; Metrics and EventLogger are subscribers.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := engine.NewExecutor(runner, tel.ExecutorOptions()...)
//	result := exec.ExecuteRun(ctx, run, platform)
//
// Tracing exporters are otlp (gRPC), stdout and none. The metrics endpoint
// is served by Metrics.StartServer when enabled.
package telemetry
