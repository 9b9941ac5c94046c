package service

import "github.com/berfenger/surpluscharge/internal/core/domain"

// EstimateSurplus returns the power available for charging. Site consumption
// includes the charger's own draw, so that draw is added back before
// subtracting, otherwise the loop would throttle itself towards zero.
func EstimateSurplus(snapshot domain.PowerSnapshot, charger *domain.ChargerState, nominalVoltage float64) domain.SurplusEstimate {
	var chargerDraw float64
	if charger != nil {
		if charger.DrawWatts > 0 {
			chargerDraw = charger.DrawWatts
		} else {
			chargerDraw = float64(charger.CurrentAmps) * nominalVoltage
		}
	}
	return domain.SurplusEstimate{
		SurplusWatts:     snapshot.ProductionWatts - snapshot.ConsumptionWatts + chargerDraw,
		ChargerDrawWatts: chargerDraw,
	}
}
