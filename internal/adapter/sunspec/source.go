package sunspec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/pkg/sunspec_modbus"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Source reads site power flow from a SunSpec inverter and its grid meter
// over Modbus TCP. A failed read drops the connection, the next fetch
// reconnects.
type Source struct {
	inverter  sunspec_modbus.InverterModbusReader
	acMeter   sunspec_modbus.ACMeterModbusReader
	mu        sync.Mutex
	connected bool
	clock     clock.Clock
	logger    *zap.Logger
}

func NewSource(cfg config.SunSpecConfig, timeout time.Duration, logger *zap.Logger) (*Source, error) {
	inverter, err := sunspec_modbus.CreateInverterIntSFModbusReader(cfg.Host, cfg.Port, uint8(cfg.InverterId), timeout, cfg.Manufacturer, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigurationInvalid, err)
	}
	acMeter, err := sunspec_modbus.CreateACMeterIntSFModbusReader(cfg.Host, cfg.Port, uint8(cfg.MeterId), timeout, cfg.Manufacturer, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigurationInvalid, err)
	}
	return NewSourceWithReaders(inverter, acMeter, clock.New(), logger), nil
}

func NewSourceWithReaders(inverter sunspec_modbus.InverterModbusReader, acMeter sunspec_modbus.ACMeterModbusReader,
	clk clock.Clock, logger *zap.Logger) *Source {
	return &Source{
		inverter: inverter,
		acMeter:  acMeter,
		clock:    clk,
		logger:   logger.With(zap.String("source", config.TELEMETRY_SOURCE_SUNSPEC)),
	}
}

// Open connects to both devices. A failure is not fatal, the connection is
// retried on every fetch.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		s.logger.Warn("sunspec devices not reachable yet", zap.Error(err))
	}
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnect()
	return nil
}

func (s *Source) FetchPowerFlow(ctx context.Context) (*domain.PowerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTelemetryUnreachable, err)
	}
	if err := s.connect(); err != nil {
		return nil, err
	}

	inverterFlow, err := s.inverter.GetPowerFlow()
	if err != nil {
		s.disconnect()
		return nil, fmt.Errorf("%w: inverter: %s", domain.ErrTelemetryUnreachable, err)
	}
	meterFlow, err := s.acMeter.GetPowerFlow()
	if err != nil {
		s.disconnect()
		return nil, fmt.Errorf("%w: meter: %s", domain.ErrTelemetryUnreachable, err)
	}

	snapshot := toSnapshot(inverterFlow, meterFlow.GridWatt, s.clock.Now())
	s.logger.Debug("sunspec power flow",
		zap.Float64("production", snapshot.ProductionWatts),
		zap.Float64("consumption", snapshot.ConsumptionWatts),
		zap.Float64("grid", snapshot.GridWatts),
		zap.Float64("voltage", meterFlow.Voltage),
		zap.Float64("frequency", meterFlow.Frequency),
		zap.Float64("imported_kwh", meterFlow.ImportedKWh),
		zap.Float64("exported_kwh", meterFlow.ExportedKWh))
	return snapshot, nil
}

func (s *Source) connect() error {
	if s.connected {
		return nil
	}
	if err := s.inverter.Open(); err != nil {
		return fmt.Errorf("%w: inverter: %s", domain.ErrTelemetryUnreachable, err)
	}
	if err := s.acMeter.Open(); err != nil {
		s.inverter.Close()
		return fmt.Errorf("%w: meter: %s", domain.ErrTelemetryUnreachable, err)
	}
	if err := s.identify(); err != nil {
		s.inverter.Close()
		s.acMeter.Close()
		return err
	}
	s.connected = true
	return nil
}

// identify checks the manufacturer of both devices and logs what was found.
func (s *Source) identify() error {
	if err := s.inverter.Validate(); err != nil {
		return fmt.Errorf("%w: inverter: %s", domain.ErrTelemetryUnreachable, err)
	}
	if err := s.acMeter.Validate(); err != nil {
		return fmt.Errorf("%w: meter: %s", domain.ErrTelemetryUnreachable, err)
	}
	inverter, err := s.inverter.GetInfo()
	if err != nil {
		return fmt.Errorf("%w: inverter: %s", domain.ErrTelemetryUnreachable, err)
	}
	meter, err := s.acMeter.GetInfo()
	if err != nil {
		return fmt.Errorf("%w: meter: %s", domain.ErrTelemetryUnreachable, err)
	}
	s.logger.Info("sunspec devices connected",
		zap.String("inverter", inverter.Manufacturer+" "+inverter.Model),
		zap.String("inverter_version", inverter.Version),
		zap.Uint32("inverter_max_watts", inverter.MaxRatedPowerWatt),
		zap.Bool("storage", inverter.HasStorage),
		zap.String("meter", meter.Manufacturer+" "+meter.Model))
	return nil
}

func (s *Source) disconnect() {
	if !s.connected {
		return
	}
	s.inverter.Close()
	s.acMeter.Close()
	s.connected = false
}

// toSnapshot derives the household load from the inverter AC output and the
// meter flow, import positive.
func toSnapshot(inverter *sunspec_modbus.InverterPowerFlow, gridWatts float64, now time.Time) *domain.PowerSnapshot {
	snapshot := domain.NewPowerSnapshot(inverter.PVPowerWatt, inverter.ACPowerWatt+gridWatts, now)
	snapshot.GridWatts = gridWatts
	snapshot.StorageWatts = inverter.BatteryDCPowerFlowWatt
	return &snapshot
}

// ensure interface compliance
var _ port.TelemetrySource = (*Source)(nil)
