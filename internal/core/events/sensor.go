package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/surpluscharge/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_SURPLUS_POWER      = "surplus_power"
	SENSOR_ID_PRODUCTION_POWER   = "production_power"
	SENSOR_ID_CONSUMPTION_POWER  = "consumption_power"
	SENSOR_ID_GRID_POWER         = "grid_power"
	SENSOR_ID_TARGET_CURRENT     = "target_current"
	SENSOR_ID_CONTROL_STATE      = "control_state"
	SENSOR_ID_DECISION_REASON    = "decision_reason"
	SENSOR_ID_TELEMETRY_FAILURES = "telemetry_failures"
	SENSOR_ID_LAST_ERROR         = "last_error"
	SENSOR_ID_CHARGER_CURRENT    = "charger_current"
	SENSOR_ID_CHARGER_POWER      = "charger_power"
	SENSOR_ID_CHARGER_STATUS     = "charger_status"
	SENSOR_ID_CHARGER_PLUGGED_IN = "charger_plugged_in"
	STATE_CLASS_MEASUREMENT      = "measurement"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_PLUG            = "plug"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

func BridgeDevice(baseTopic string) domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("surpluscharge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "SurplusCharge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("SurplusCharge %s", md5HashShort(baseTopic)),
	}
}

func ChargerDevice(info *domain.ChargerInfo) domain.Device {
	name := info.Name
	if name == "" {
		name = fmt.Sprintf("%s %s %s", info.Manufacturer, info.Model, md5HashShort(info.Id))
	}
	return domain.Device{
		Id:           fmt.Sprintf("spc_charger_%s", md5HashShort(info.Id)),
		Version:      info.Version,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Name:         name,
	}
}

func IdDevice(device domain.Device) domain.Device {
	return domain.Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice domain.Device) []domain.GenericSensor {
	return []domain.GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// ControlSensors describes what the control loop publishes on every tick.
func ControlSensors(bridgeDevice domain.Device) []domain.GenericSensor {
	var sensors []domain.GenericSensor

	powerSensor := func(id, name string) domain.GenericSensor {
		return domain.GenericSensor{
			Device:            bridgeDevice,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			UniqueId:          uniqueId(bridgeDevice.Id, id),
		}
	}

	sensors = append(sensors, powerSensor(SENSOR_ID_SURPLUS_POWER, "Surplus power"))
	sensors = append(sensors, powerSensor(SENSOR_ID_PRODUCTION_POWER, "Solar production"))
	sensors = append(sensors, powerSensor(SENSOR_ID_CONSUMPTION_POWER, "Site consumption"))
	sensors = append(sensors, powerSensor(SENSOR_ID_GRID_POWER, "Grid power flow"))

	// Requested charging current
	sensors = append(sensors, domain.GenericSensor{
		Device:            bridgeDevice,
		Id:                SENSOR_ID_TARGET_CURRENT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Target charging current",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_TARGET_CURRENT),
		Icon:              "mdi:ev-station",
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:     bridgeDevice,
		Id:         SENSOR_ID_CONTROL_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Control state",
		UniqueId:   uniqueId(bridgeDevice.Id, SENSOR_ID_CONTROL_STATE),
		Icon:       "mdi:state-machine",
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:     bridgeDevice,
		Id:         SENSOR_ID_DECISION_REASON,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Decision reason",
		UniqueId:   uniqueId(bridgeDevice.Id, SENSOR_ID_DECISION_REASON),
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_TELEMETRY_FAILURES,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Consecutive telemetry failures",
		StateClass:     STATE_CLASS_MEASUREMENT,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_TELEMETRY_FAILURES),
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:           bridgeDevice,
		Id:               SENSOR_ID_LAST_ERROR,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Last error",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(bridgeDevice.Id, SENSOR_ID_LAST_ERROR),
	})

	return sensors
}

func ChargerSensors(chargerDevice domain.Device) []domain.GenericSensor {
	var sensors []domain.GenericSensor

	sensors = append(sensors, domain.GenericSensor{
		Device:            chargerDevice,
		Id:                SENSOR_ID_CHARGER_CURRENT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charging current",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_CURRENT),
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:            chargerDevice,
		Id:                SENSOR_ID_CHARGER_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charging power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_POWER),
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:     chargerDevice,
		Id:         SENSOR_ID_CHARGER_STATUS,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Charger status",
		UniqueId:   uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_STATUS),
	})

	sensors = append(sensors, domain.GenericSensor{
		Device:      chargerDevice,
		Id:          SENSOR_ID_CHARGER_PLUGGED_IN,
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Vehicle plugged in",
		DeviceClass: DEVICE_CLASS_PLUG,
		UniqueId:    uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_PLUGGED_IN),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
