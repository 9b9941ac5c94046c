package solaredge

import "strings"

type currentPowerFlowResponse struct {
	SiteCurrentPowerFlow *siteCurrentPowerFlow `json:"siteCurrentPowerFlow"`
}

type siteCurrentPowerFlow struct {
	UpdateRefreshRate int              `json:"updateRefreshRate"`
	Unit              string           `json:"unit"`
	Connections       []flowConnection `json:"connections"`
	Grid              *flowElement     `json:"GRID"`
	Load              *flowElement     `json:"LOAD"`
	PV                *flowElement     `json:"PV"`
	Storage           *storageElement  `json:"STORAGE"`
}

type flowConnection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type flowElement struct {
	Status       string  `json:"status"`
	CurrentPower float64 `json:"currentPower"`
}

type storageElement struct {
	flowElement
	ChargeLevel float64 `json:"chargeLevel"`
	Critical    bool    `json:"critical"`
}

func (f *siteCurrentPowerFlow) unitMultiplier() float64 {
	switch strings.ToLower(f.Unit) {
	case "w":
		return 1
	case "mw":
		return 1_000_000
	default:
		return 1000
	}
}

func power(e *flowElement) float64 {
	if e == nil {
		return 0
	}
	return e.CurrentPower
}

// flowSign returns +1 when element feeds the site, -1 when it is fed by it and
// 0 when it does not appear in any connection.
func (f *siteCurrentPowerFlow) flowSign(element string) float64 {
	for _, c := range f.Connections {
		if strings.EqualFold(c.From, element) {
			return 1
		}
		if strings.EqualFold(c.To, element) {
			return -1
		}
	}
	return 0
}
