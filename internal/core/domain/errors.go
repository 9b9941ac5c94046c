package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTelemetryUnavailable  = errors.New("telemetry unavailable")
	ErrTelemetryUnauthorized = fmt.Errorf("%w: unauthorized", ErrTelemetryUnavailable)
	ErrTelemetryRateLimited  = fmt.Errorf("%w: rate limited", ErrTelemetryUnavailable)
	ErrTelemetryUnreachable  = fmt.Errorf("%w: unreachable", ErrTelemetryUnavailable)
	ErrTelemetryStale        = errors.New("telemetry stale")

	ErrChargerUnreachable     = errors.New("charger unreachable")
	ErrChargerRejected        = errors.New("charger rejected command")
	ErrChargerUnauthenticated = errors.New("charger unauthenticated")
	ErrChargerNotFound        = errors.New("charger not found")

	ErrConfigurationInvalid = errors.New("configuration invalid")
)

// ErrorKind returns a short label of the error for logs and published state.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTelemetryUnauthorized):
		return "telemetry-unauthorized"
	case errors.Is(err, ErrTelemetryRateLimited):
		return "telemetry-rate-limited"
	case errors.Is(err, ErrTelemetryUnreachable):
		return "telemetry-unreachable"
	case errors.Is(err, ErrTelemetryUnavailable):
		return "telemetry-unavailable"
	case errors.Is(err, ErrTelemetryStale):
		return "telemetry-stale"
	case errors.Is(err, ErrChargerUnauthenticated):
		return "charger-unauthenticated"
	case errors.Is(err, ErrChargerRejected):
		return "charger-rejected"
	case errors.Is(err, ErrChargerNotFound):
		return "charger-not-found"
	case errors.Is(err, ErrChargerUnreachable):
		return "charger-unreachable"
	case errors.Is(err, ErrConfigurationInvalid):
		return "configuration-invalid"
	default:
		return "unknown"
	}
}
