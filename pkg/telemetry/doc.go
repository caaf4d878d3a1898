// Package telemetry provides Prometheus and OpenTelemetry observers for
// scope trees and binders.
//
// Both observers attach through options:
//
//	metrics := telemetry.Prometheus(telemetry.WithRegistry(reg))
//	tracer := telemetry.OpenTelemetry(telemetry.WithTracerName("hub"))
//
//	root := scope.NewRoot(scope.WithObserver(metrics), scope.WithObserver(tracer))
//	binder := bind.New(reporter, bind.WithObserver(metrics))
package telemetry
