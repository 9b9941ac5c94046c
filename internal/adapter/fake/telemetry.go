package fake

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
)

// TelemetrySource is an in-memory port.TelemetrySource. A snapshot without a
// timestamp is stamped with the fetch time.
type TelemetrySource struct {
	mu       sync.Mutex
	snapshot *domain.PowerSnapshot
	err      error
	delay    time.Duration
	fetches  int
}

func NewTelemetrySource(productionWatts, consumptionWatts float64) *TelemetrySource {
	snapshot := domain.NewPowerSnapshot(productionWatts, consumptionWatts, time.Time{})
	return &TelemetrySource{snapshot: &snapshot}
}

func (f *TelemetrySource) SetSnapshot(snapshot domain.PowerSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = &snapshot
	f.err = nil
}

func (f *TelemetrySource) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetDelay makes every fetch block for d or until its context is done.
func (f *TelemetrySource) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *TelemetrySource) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *TelemetrySource) Open() error {
	return nil
}

func (f *TelemetrySource) Close() error {
	return nil
}

func (f *TelemetrySource) FetchPowerFlow(ctx context.Context) (*domain.PowerSnapshot, error) {
	f.mu.Lock()
	f.fetches++
	delay, err := f.delay, f.err
	var snapshot *domain.PowerSnapshot
	if f.snapshot != nil {
		s := *f.snapshot
		snapshot = &s
	}
	f.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, domain.ErrTelemetryUnavailable
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	return snapshot, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ensure interface compliance
var _ port.TelemetrySource = (*TelemetrySource)(nil)
