package emporia

import "strings"

type customerDevices struct {
	CustomerGid uint64   `json:"customerGid"`
	Devices     []device `json:"devices"`
}

type device struct {
	DeviceGid            uint64              `json:"deviceGid"`
	ManufacturerDeviceId string              `json:"manufacturerDeviceId"`
	Model                string              `json:"model"`
	Firmware             string              `json:"firmware"`
	LocationProperties   *locationProperties `json:"locationProperties,omitempty"`
	EvCharger            *evCharger          `json:"evCharger,omitempty"`
	Devices              []device            `json:"devices"`
}

type locationProperties struct {
	DeviceName string `json:"deviceName"`
}

type devicesStatus struct {
	EvChargers []evCharger `json:"evChargers"`
}

type evCharger struct {
	DeviceGid       uint64 `json:"deviceGid"`
	LoadGid         uint64 `json:"loadGid"`
	ChargerOn       bool   `json:"chargerOn"`
	ChargingRate    int    `json:"chargingRate"`
	MaxChargingRate int    `json:"maxChargingRate"`
	Status          string `json:"status,omitempty"`
	Message         string `json:"message,omitempty"`
	Icon            string `json:"icon,omitempty"`
	IconLabel       string `json:"iconLabel,omitempty"`
	IconDetailText  string `json:"iconDetailText,omitempty"`
	FaultText       string `json:"faultText,omitempty"`
	BreakerPIN      string `json:"breakerPIN,omitempty"`
}

type deviceListUsagesResponse struct {
	DeviceListUsages struct {
		Instant string        `json:"instant"`
		Scale   string        `json:"scale"`
		Devices []deviceUsage `json:"devices"`
	} `json:"deviceListUsages"`
}

type deviceUsage struct {
	DeviceGid     uint64         `json:"deviceGid"`
	ChannelUsages []channelUsage `json:"channelUsages"`
}

type channelUsage struct {
	Name          string        `json:"name"`
	Usage         *float64      `json:"usage"`
	DeviceGid     uint64        `json:"deviceGid"`
	ChannelNum    string        `json:"channelNum"`
	NestedDevices []deviceUsage `json:"nestedDevices"`
}

// usageKWh sums channel usage including nested devices. Missing readings
// count as zero.
func usageKWh(devices []deviceUsage) float64 {
	var usage float64
	for _, d := range devices {
		for _, c := range d.ChannelUsages {
			if c.Usage != nil {
				usage += *c.Usage
			}
			usage += usageKWh(c.NestedDevices)
		}
	}
	return usage
}

// pluggedIn interprets the status and icon strings reported by the charger.
func pluggedIn(status, icon string) bool {
	text := strings.ToLower(status + " " + icon)
	for _, negative := range []string{"notconnected", "not connected", "disconnected", "unplugged"} {
		if strings.Contains(text, negative) {
			return false
		}
	}
	for _, positive := range []string{"charging", "connected", "plugged", "full", "paused"} {
		if strings.Contains(text, positive) {
			return true
		}
	}
	return false
}

func charging(status, icon string) bool {
	text := strings.ToLower(status + " " + icon)
	if strings.Contains(text, "not charging") || strings.Contains(text, "notcharging") {
		return false
	}
	return strings.Contains(text, "charging")
}

func findCharger(devices []device, gid uint64) *device {
	for i := range devices {
		d := &devices[i]
		if d.EvCharger != nil && (gid == 0 || d.DeviceGid == gid) {
			return d
		}
		if nested := findCharger(d.Devices, gid); nested != nil {
			return nested
		}
	}
	return nil
}
