package fake

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
)

// Charger is an in-memory port.ChargerSink that follows its commands
// immediately while plugged in.
type Charger struct {
	mu       sync.Mutex
	info     domain.ChargerInfo
	state    domain.ChargerState
	getErr   error
	setErr   error
	delay    time.Duration
	commands []int
}

func NewCharger(pluggedIn bool, reportedMax int) *Charger {
	return &Charger{
		info: domain.ChargerInfo{
			Id:           "4242",
			Name:         "Garage",
			Manufacturer: "SurplusCharge",
			Model:        "Test Charger",
			Version:      "1.0",
		},
		state: domain.ChargerState{
			PluggedIn:          pluggedIn,
			ChargerReportedMax: reportedMax,
			Status:             "Standby",
		},
	}
}

func (f *Charger) SetPluggedIn(pluggedIn bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.PluggedIn = pluggedIn
	if !pluggedIn {
		f.state.CurrentAmps = 0
	}
}

func (f *Charger) SetGetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *Charger) SetSetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

func (f *Charger) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Commands returns every target passed to SetAmps, failed ones included.
func (f *Charger) Commands() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.commands...)
}

func (f *Charger) State() domain.ChargerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Charger) Open(ctx context.Context) error {
	return nil
}

func (f *Charger) Close() error {
	return nil
}

func (f *Charger) Info(ctx context.Context) (*domain.ChargerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.info
	return &info, nil
}

func (f *Charger) GetState(ctx context.Context) (*domain.ChargerState, error) {
	f.mu.Lock()
	delay, err, state := f.delay, f.getErr, f.state
	f.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (f *Charger) SetAmps(ctx context.Context, targetAmps int) error {
	f.mu.Lock()
	f.commands = append(f.commands, targetAmps)
	delay, err := f.delay, f.setErr
	f.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return err
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.SetpointAmps = targetAmps
	f.state.CurrentAmps = 0
	f.state.Status = "Standby"
	if f.state.PluggedIn && targetAmps > 0 {
		f.state.CurrentAmps = targetAmps
		f.state.Status = "Charging"
	}
	return nil
}

// ensure interface compliance
var _ port.ChargerSink = (*Charger)(nil)
