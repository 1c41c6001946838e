package telemetry

import (
	"github.com/pitabwire/frame/telemetry"
)

// Service tracers for different components.
//
//nolint:gochecknoglobals // OpenTelemetry tracers must be global for instrumentation
var (
	LifecycleTracer = telemetry.NewTracer("bridge.lifecycle")
	BulkTracer      = telemetry.NewTracer("bridge.bulk")
	NotifyTracer    = telemetry.NewTracer("bridge.notify")
)
