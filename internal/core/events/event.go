package events

import (
	"github.com/berfenger/surpluscharge/internal/core/domain"
)

func SnapshotToUpdateEvents(s *domain.PowerSnapshot) []domain.SensorUpdateEvent {
	if s == nil {
		return nil
	}
	var events []domain.SensorUpdateEvent

	events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_PRODUCTION_POWER, s.ProductionWatts, 0))
	events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_CONSUMPTION_POWER, s.ConsumptionWatts, 0))
	events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_GRID_POWER, s.GridWatts, 0))

	return events
}

func ChargerStateToUpdateEvents(c *domain.ChargerState) []domain.SensorUpdateEvent {
	if c == nil {
		return nil
	}
	var events []domain.SensorUpdateEvent

	events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_CHARGER_CURRENT, float64(c.CurrentAmps), 0))
	if c.DrawWatts > 0 {
		events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_CHARGER_POWER, c.DrawWatts, 0))
	}
	events = append(events, domain.NewTextSensorUpdate(SENSOR_ID_CHARGER_STATUS, c.Status))
	events = append(events, domain.NewBinarySensorUpdate(SENSOR_ID_CHARGER_PLUGGED_IN, c.PluggedIn))

	return events
}

func DecisionToUpdateEvents(d *domain.ControlDecision, mem domain.ControllerMemory) []domain.SensorUpdateEvent {
	if d == nil {
		return nil
	}
	var events []domain.SensorUpdateEvent

	events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_TARGET_CURRENT, float64(d.TargetAmps), 0))
	events = append(events, domain.NewTextSensorUpdate(SENSOR_ID_CONTROL_STATE, string(d.State)))
	events = append(events, domain.NewTextSensorUpdate(SENSOR_ID_DECISION_REASON, string(d.Reason)))
	events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_TELEMETRY_FAILURES, float64(mem.ConsecutiveFailureCount), 0))
	// surplus is unknown on fallback decisions
	if d.Surplus != nil {
		events = append(events, domain.NewFloatSensorUpdate(SENSOR_ID_SURPLUS_POWER, d.Surplus.SurplusWatts, 0))
	}

	return events
}

// ErrorUpdateEvent publishes the error kind, or "none" once a tick succeeds.
func ErrorUpdateEvent(err error) domain.SensorUpdateEvent {
	value := "none"
	if err != nil {
		value = domain.ErrorKind(err)
	}
	return domain.NewTextSensorUpdate(SENSOR_ID_LAST_ERROR, value)
}
