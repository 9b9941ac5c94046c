package domain

import (
	"math"
	"time"
)

type ControlState string

const (
	STATE_RAMPING_UP    ControlState = "RAMPING_UP"
	STATE_RAMPING_DOWN  ControlState = "RAMPING_DOWN"
	STATE_HOLDING       ControlState = "HOLDING"
	STATE_FALLBACK_SAFE ControlState = "FALLBACK_SAFE"
)

type DecisionReason string

const (
	REASON_SURPLUS_INCREASE           DecisionReason = "surplus-increase"
	REASON_SURPLUS_DROP               DecisionReason = "surplus-drop"
	REASON_HOLDING                    DecisionReason = "holding"
	REASON_NO_SURPLUS_FALLBACK        DecisionReason = "no-surplus-fallback"
	REASON_CEILING_CLAMP              DecisionReason = "ceiling-clamp"
	REASON_STALE_TELEMETRY_HOLD       DecisionReason = "stale-telemetry-hold"
	REASON_TELEMETRY_FAILURE_FALLBACK DecisionReason = "telemetry-failure-fallback"
	REASON_CHARGER_UNAVAILABLE_HOLD   DecisionReason = "charger-unavailable-hold"
	REASON_NOT_PLUGGED_IN             DecisionReason = "not-plugged-in"
)

// PowerSnapshot is a single site power-flow reading. A failed fetch is
// represented by a nil *PowerSnapshot, never by a zero value.
type PowerSnapshot struct {
	ProductionWatts  float64
	ConsumptionWatts float64
	// GridWatts is positive when importing from the grid.
	GridWatts float64
	// StorageWatts is positive when the battery discharges.
	StorageWatts float64
	Timestamp    time.Time
}

// NewPowerSnapshot clamps negative readings to zero.
func NewPowerSnapshot(productionWatts, consumptionWatts float64, timestamp time.Time) PowerSnapshot {
	return PowerSnapshot{
		ProductionWatts:  math.Max(0, productionWatts),
		ConsumptionWatts: math.Max(0, consumptionWatts),
		Timestamp:        timestamp,
	}
}

func (s PowerSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

type SurplusEstimate struct {
	// SurplusWatts is positive when power is available for charging.
	SurplusWatts     float64
	ChargerDrawWatts float64
	// OffsetWatts is the configured bias already included in SurplusWatts.
	OffsetWatts float64
}

type ChargerState struct {
	PluggedIn bool
	// CurrentAmps is the amperage actually in effect, 0 when not charging.
	CurrentAmps int
	// ChargerReportedMax is the hardware ceiling. Non-positive means unknown.
	ChargerReportedMax int
	// SetpointAmps is the amperage the charger is currently commanded to,
	// 0 when it is switched off.
	SetpointAmps int
	// DrawWatts is the measured charger draw, 0 when not measured.
	DrawWatts float64
	Status    string
}

type ChargerInfo struct {
	Id           string
	Name         string
	Manufacturer string
	Model        string
	Version      string
}

type ControlDecision struct {
	TargetAmps int
	Reason     DecisionReason
	State      ControlState
	Surplus    *SurplusEstimate
}

// ControllerMemory is the only state carried between ticks.
type ControllerMemory struct {
	LastTargetAmps          int
	LastDecisionTimestamp   time.Time
	ConsecutiveFailureCount int
}

type ControlInput struct {
	Snapshot *PowerSnapshot
	Charger  *ChargerState
	Now      time.Time
}
