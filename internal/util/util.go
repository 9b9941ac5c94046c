package util

import (
	"github.com/berfenger/surpluscharge/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Control: config.ControlConfig{
			FreqSeconds:      60,
			MaxAmps:          32,
			MinAmps:          0,
			StepAmps:         4,
			StaleFactor:      2,
			FailureThreshold: 3,
			FallbackAmps:     0,
			DeadbandWatts:    0,
			Voltage:          230,
			TickOnStart:      false,
		},
		Telemetry: config.TelemetryConfig{
			Source:        config.TELEMETRY_SOURCE_SOLAREDGE,
			TimeoutMillis: 2000,
		},
		SolarEdge: config.SolarEdgeConfig{
			Site:    "1234567",
			Key:     "-",
			BaseURL: "http://127.0.0.1",
		},
		SunSpec: config.SunSpecConfig{
			Host:       "-.-.-.-",
			Port:       502,
			MeterId:    200,
			InverterId: 1,
		},
		Charger: config.ChargerConfig{
			TimeoutMillis:   2000,
			MinHardwareAmps: 6,
			MeasureDraw:     true,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "surpluscharge",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
