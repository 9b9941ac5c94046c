package service

import (
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"

	"go.uber.org/zap"
)

type DefaultSetpointControlLogic struct {
	FreqSeconds uint32
	MaxAmps     int
	MinAmps     int
	StepAmps    int
	// StaleFactor times FreqSeconds is the maximum snapshot age.
	StaleFactor      float64
	FailureThreshold int
	FallbackAmps     int
	// DeadbandWatts is the surplus magnitude treated as zero.
	DeadbandWatts float64
	// OffsetAmps biases the surplus. Positive allows some grid import,
	// negative keeps some export.
	OffsetAmps     int
	NominalVoltage float64
	Logger         *zap.Logger
}

func NewSetpointControlLogic(cfg config.ControlConfig, logger *zap.Logger) *DefaultSetpointControlLogic {
	return &DefaultSetpointControlLogic{
		FreqSeconds:      cfg.FreqSeconds,
		MaxAmps:          cfg.MaxAmps,
		MinAmps:          cfg.MinAmps,
		StepAmps:         cfg.StepAmps,
		StaleFactor:      cfg.StaleFactor,
		FailureThreshold: cfg.FailureThreshold,
		FallbackAmps:     cfg.FallbackAmps,
		DeadbandWatts:    cfg.DeadbandWatts,
		OffsetAmps:       cfg.OffsetAmps,
		NominalVoltage:   cfg.Voltage,
		Logger:           logger,
	}
}

func (c *DefaultSetpointControlLogic) Decide(mem *domain.ControllerMemory, in domain.ControlInput) domain.ControlDecision {
	var decision domain.ControlDecision
	switch {
	case in.Charger != nil && !in.Charger.PluggedIn:
		decision = c.unplugged(mem)
	case in.Charger == nil:
		decision = c.fallback(mem, nil, domain.REASON_CHARGER_UNAVAILABLE_HOLD)
	case c.IsStale(in.Snapshot, in.Now):
		decision = c.fallback(mem, in.Charger, domain.REASON_STALE_TELEMETRY_HOLD)
	default:
		decision = c.track(mem, *in.Snapshot, *in.Charger)
	}

	c.Logger.Debug("setpoint@decide",
		zap.Int("last_amps", mem.LastTargetAmps),
		zap.Int("target_amps", decision.TargetAmps),
		zap.String("state", string(decision.State)),
		zap.String("reason", string(decision.Reason)),
		zap.Int("failures", mem.ConsecutiveFailureCount))

	mem.LastTargetAmps = decision.TargetAmps
	mem.LastDecisionTimestamp = in.Now
	return decision
}

// StaleAfter is the snapshot age from which telemetry is no longer trusted.
func (c *DefaultSetpointControlLogic) StaleAfter() time.Duration {
	return time.Duration(c.StaleFactor * float64(c.FreqSeconds) * float64(time.Second))
}

func (c *DefaultSetpointControlLogic) IsStale(snapshot *domain.PowerSnapshot, now time.Time) bool {
	if snapshot == nil {
		return true
	}
	return snapshot.Age(now) > c.StaleAfter()
}

func (c *DefaultSetpointControlLogic) unplugged(mem *domain.ControllerMemory) domain.ControlDecision {
	mem.ConsecutiveFailureCount = 0
	state := domain.STATE_RAMPING_DOWN
	if mem.LastTargetAmps == 0 {
		state = domain.STATE_HOLDING
	}
	return domain.ControlDecision{
		TargetAmps: 0,
		Reason:     domain.REASON_NOT_PLUGGED_IN,
		State:      state,
	}
}

func (c *DefaultSetpointControlLogic) fallback(mem *domain.ControllerMemory, charger *domain.ChargerState, reason domain.DecisionReason) domain.ControlDecision {
	mem.ConsecutiveFailureCount++

	target := mem.LastTargetAmps
	if c.FailureThreshold > 0 && mem.ConsecutiveFailureCount >= c.FailureThreshold {
		target = min(target, c.FallbackAmps)
		reason = domain.REASON_TELEMETRY_FAILURE_FALLBACK
	}
	if charger != nil {
		target = min(target, c.ceiling(charger))
	}
	return domain.ControlDecision{
		TargetAmps: max(target, 0),
		Reason:     reason,
		State:      domain.STATE_FALLBACK_SAFE,
	}
}

func (c *DefaultSetpointControlLogic) track(mem *domain.ControllerMemory, snapshot domain.PowerSnapshot, charger domain.ChargerState) domain.ControlDecision {
	mem.ConsecutiveFailureCount = 0

	estimate := EstimateSurplus(snapshot, &charger, c.NominalVoltage)
	if c.OffsetAmps != 0 {
		estimate.OffsetWatts = float64(c.OffsetAmps) * c.NominalVoltage
		estimate.SurplusWatts += estimate.OffsetWatts
	}
	direction := c.sign(estimate.SurplusWatts)
	last := mem.LastTargetAmps
	ceiling := c.ceiling(&charger)

	// one damping step per tick, never a jump to surplus / voltage
	desired := last + direction*c.StepAmps
	if direction > 0 {
		desired = max(desired, c.MinAmps)
	} else {
		// the floor must not lift a target that is already below it
		desired = min(max(desired, c.MinAmps), last)
	}
	desired = max(min(desired, c.MaxAmps, ceiling), 0)
	floor := max(min(c.MinAmps, ceiling), 0)

	decision := domain.ControlDecision{
		TargetAmps: desired,
		Surplus:    &estimate,
	}
	switch {
	case desired > last:
		decision.State = domain.STATE_RAMPING_UP
		decision.Reason = domain.REASON_SURPLUS_INCREASE
	case desired < last:
		decision.State = domain.STATE_RAMPING_DOWN
		switch {
		case direction >= 0:
			decision.Reason = domain.REASON_CEILING_CLAMP
		case desired == floor:
			decision.Reason = domain.REASON_NO_SURPLUS_FALLBACK
		default:
			decision.Reason = domain.REASON_SURPLUS_DROP
		}
	default:
		decision.State = domain.STATE_HOLDING
		decision.Reason = domain.REASON_HOLDING
		if direction < 0 {
			decision.Reason = domain.REASON_NO_SURPLUS_FALLBACK
		}
	}
	return decision
}

// ceiling is the stricter of the configured and hardware maximum.
func (c *DefaultSetpointControlLogic) ceiling(charger *domain.ChargerState) int {
	ceiling := c.MaxAmps
	if charger != nil && charger.ChargerReportedMax > 0 {
		ceiling = min(ceiling, charger.ChargerReportedMax)
	}
	return max(ceiling, 0)
}

func (c *DefaultSetpointControlLogic) sign(surplusWatts float64) int {
	switch {
	case surplusWatts > c.DeadbandWatts:
		return 1
	case surplusWatts < -c.DeadbandWatts:
		return -1
	default:
		return 0
	}
}

// ensure interface compliance
var _ port.SetpointControlLogic = (*DefaultSetpointControlLogic)(nil)
