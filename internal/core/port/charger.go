package port

import (
	"context"

	"github.com/berfenger/surpluscharge/internal/core/domain"
)

// ChargerSink commands a single EV charger. SetAmps with 0 pauses charging.
type ChargerSink interface {
	Open(ctx context.Context) error
	Info(ctx context.Context) (*domain.ChargerInfo, error)
	GetState(ctx context.Context) (*domain.ChargerState, error)
	SetAmps(ctx context.Context, targetAmps int) error
	Close() error
}
