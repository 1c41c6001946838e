// Package telemetry provides OpenTelemetry metrics and tracing for the bridge.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Connection metrics track the per-account session lifecycle.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ConnectionsActiveGauge = telemetry.DimensionlessMeasure(
		"",
		"bridge.connections.active",
		"Current number of registered account connections",
	)

	ConnectionsOpenedCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.connections.opened",
		"Total successful connection opens",
	)

	ConnectionsFailedCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.connections.failed",
		"Total failed connection attempts",
	)

	ConnectionsClosedCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.connections.closed",
		"Total observed disconnects",
	)
)

// Pairing metrics track pairing-code issuance.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	PairingCodesIssuedCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.pairing.codes.issued",
		"Total pairing codes issued to accounts",
	)

	PairingFailedCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.pairing.failed",
		"Total pairing attempts that exhausted retries",
	)
)

// Reconnection metrics track the backoff state machine.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ReconnectsScheduledCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.reconnects.scheduled",
		"Total reconnection attempts scheduled after transient disconnects",
	)

	ReconnectsGivenUpCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.reconnects.given_up",
		"Total accounts whose reconnection retry budget was exhausted",
	)

	AuthRejectionsCounter = telemetry.DimensionlessMeasure(
		"",
		"bridge.auth.rejections",
		"Total terminal credential invalidations observed",
	)

	ConnectLatencyHistogram = telemetry.LatencyMeasure(
		"bridge.connect",
	)
)

// CredentialRotationsCounter tracks persisted credential snapshots.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var CredentialRotationsCounter = telemetry.DimensionlessMeasure(
	"",
	"bridge.credentials.rotated",
	"Total credential rotation snapshots persisted",
)
