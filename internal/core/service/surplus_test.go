package service

import (
	"testing"
	"time"

	"github.com/berfenger/surpluscharge/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestSurplusAddsBackChargerDraw(t *testing.T) {

	assert := assert.New(t)

	snapshot := domain.NewPowerSnapshot(3000, 3200, time.Now())
	charger := &domain.ChargerState{PluggedIn: true, CurrentAmps: 8}

	est := EstimateSurplus(snapshot, charger, 230)

	assert.InDelta(1640, est.SurplusWatts, 0.001, "surplus excludes charger draw")
	assert.InDelta(1840, est.ChargerDrawWatts, 0.001, "charger draw at nominal voltage")
}

func TestSurplusPrefersMeasuredDraw(t *testing.T) {

	assert := assert.New(t)

	snapshot := domain.NewPowerSnapshot(3000, 3200, time.Now())
	charger := &domain.ChargerState{PluggedIn: true, CurrentAmps: 8, DrawWatts: 1500}

	est := EstimateSurplus(snapshot, charger, 230)

	assert.InDelta(1300, est.SurplusWatts, 0.001)
	assert.InDelta(1500, est.ChargerDrawWatts, 0.001)
}

func TestSurplusWithoutCharger(t *testing.T) {

	est := EstimateSurplus(domain.NewPowerSnapshot(1000, 1500, time.Now()), nil, 240)

	assert.InDelta(t, -500, est.SurplusWatts, 0.001)
	assert.Zero(t, est.ChargerDrawWatts)
}

func TestSnapshotClampsNegativeReadings(t *testing.T) {

	snapshot := domain.NewPowerSnapshot(-12, -3, time.Now())

	assert.Zero(t, snapshot.ProductionWatts)
	assert.Zero(t, snapshot.ConsumptionWatts)
}
