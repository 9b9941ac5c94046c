package port

import (
	"context"

	"github.com/berfenger/surpluscharge/internal/core/domain"
)

// TelemetrySource supplies site power flow on demand. Implementations return
// errors wrapping domain.ErrTelemetryUnavailable or domain.ErrTelemetryStale.
type TelemetrySource interface {
	Open() error
	FetchPowerFlow(ctx context.Context) (*domain.PowerSnapshot, error)
	Close() error
}
