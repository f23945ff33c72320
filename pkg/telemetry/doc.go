// Package telemetry provides the observability stack shared by the registry,
// the lifecycle driver and the import manager.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and lifecycle event publishing.
//
// # Usage
//
//	cfg, err := telemetry.ConfigFromEnv(os.LookupEnv)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tel, err := telemetry.NewTelemetry(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	reg := registry.New(
//	    registry.WithLogger(tel.Logger),
//	    registry.WithMetrics(tel.Metrics),
//	    registry.WithEvents(tel.Events),
//	)
//
// # Metrics
//
// Every recorder is safe on a nil *Metrics, so components record unconditionally:
//
//	m.RecordResolution("cache", "hit")
//	m.RecordInitialization("cache", "success", time.Since(start))
//	m.SetServiceHealth("cache", true)
//
// Metrics are exposed through Metrics.Handler, which the introspection router mounts at /metrics.
//
// # Events
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s %s\n", event.Type, event.Service)
//	}, telemetry.FilterByType(telemetry.EventTypeServiceFailed))
//
// A nil or disabled publisher drops events silently.
package telemetry
