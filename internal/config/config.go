package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/berfenger/surpluscharge/internal/core/domain"

	"github.com/go-playground/validator/v10"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap/zapcore"
)

const (
	TELEMETRY_SOURCE_SOLAREDGE = "solaredge"
	TELEMETRY_SOURCE_SUNSPEC   = "sunspec"
	REDACTED                   = "*redacted*"
)

type Config struct {
	LogLevel  zapcore.Level
	Control   ControlConfig   `mapstructure:"control"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	SolarEdge SolarEdgeConfig `mapstructure:"solaredge"`
	SunSpec   SunSpecConfig   `mapstructure:"sunspec"`
	Charger   ChargerConfig   `mapstructure:"charger"`
	Emporia   EmporiaConfig   `mapstructure:"emporia"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Port      uint            `mapstructure:"port"`
	HttpLog   bool            `mapstructure:"http_log"`
}

type ControlConfig struct {
	FreqSeconds      uint32  `mapstructure:"freq" validate:"gte=10"`
	MaxAmps          int     `mapstructure:"max_amps" validate:"gte=1,lte=80"`
	MinAmps          int     `mapstructure:"min_amps" validate:"gte=0,ltefield=MaxAmps"`
	StepAmps         int     `mapstructure:"step_amps" validate:"gte=1,lte=80"`
	StaleFactor      float64 `mapstructure:"stale_factor" validate:"gte=1"`
	FailureThreshold int     `mapstructure:"failure_threshold" validate:"gte=1"`
	FallbackAmps     int     `mapstructure:"fallback_amps" validate:"gte=0,ltefield=MaxAmps"`
	DeadbandWatts    float64 `mapstructure:"deadband_watts" validate:"gte=0"`
	OffsetAmps       int     `mapstructure:"offset_amps" validate:"gte=-80,lte=80"`
	Voltage          float64 `mapstructure:"voltage" validate:"gte=100,lte=480"`
	Schedule         string  `mapstructure:"schedule"`
	TickOnStart      bool    `mapstructure:"tick_on_start"`
}

type TelemetryConfig struct {
	Source        string `mapstructure:"source" validate:"oneof=solaredge sunspec"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis" validate:"gte=100"`
}

type SolarEdgeConfig struct {
	Site    string `mapstructure:"site"`
	Key     string `mapstructure:"key"`
	BaseURL string `mapstructure:"base_url" validate:"url"`
}

type SunSpecConfig struct {
	Host       string `mapstructure:"host"`
	Port       uint   `mapstructure:"port" validate:"gte=1,lte=65535"`
	InverterId uint   `mapstructure:"inverter_id" validate:"lte=247"`
	MeterId    uint   `mapstructure:"meter_id" validate:"lte=247"`
	// Manufacturer, when set, must match the common block of both devices
	Manufacturer string `mapstructure:"manufacturer"`
}

type ChargerConfig struct {
	TimeoutMillis   uint32 `mapstructure:"timeout_millis" validate:"gte=100"`
	MinHardwareAmps int    `mapstructure:"min_hardware_amps" validate:"gte=0"`
	MeasureDraw     bool   `mapstructure:"measure_draw"`
}

type EmporiaConfig struct {
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TokenFile  string `mapstructure:"token_file"`
	ApiURL     string `mapstructure:"api_url" validate:"url"`
	AuthURL    string `mapstructure:"auth_url" validate:"url"`
	ClientId   string `mapstructure:"client_id" validate:"required"`
	ChargerGid uint64 `mapstructure:"charger_gid"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c MQTTConfig) Enabled() bool {
	return c.Host != ""
}

// Validate checks bounds and cross-field constraints and normalizes MQTT
// topics. Errors wrap domain.ErrConfigurationInvalid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return invalid(err.Error())
	}

	switch c.Telemetry.Source {
	case TELEMETRY_SOURCE_SOLAREDGE:
		if c.SolarEdge.Site == "" || c.SolarEdge.Key == "" {
			return invalid("solaredge.site and solaredge.key are required (SOLAREDGE_SITE, SOLAREDGE_KEY)")
		}
	case TELEMETRY_SOURCE_SUNSPEC:
		if c.SunSpec.Host == "" {
			return invalid("sunspec.host is required when telemetry.source is sunspec")
		}
	}

	if c.Emporia.TokenFile == "" && (c.Emporia.Username == "" || c.Emporia.Password == "") {
		return invalid("emporia.token_file or emporia.username and emporia.password are required (EMPORIA_USER, EMPORIA_PASSWORD)")
	}

	if c.Control.StepAmps > c.Control.MaxAmps {
		return invalid("config param control.step_amps should be <= control.max_amps")
	}

	if c.Control.Schedule != "" {
		if _, err := quartz.NewCronTrigger(c.Control.Schedule); err != nil {
			return invalid(fmt.Sprintf("control.schedule: %s", err))
		}
	}

	if c.MQTT.Enabled() {
		baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
		if err != nil {
			return invalid("invalid base topic. can only contain letters, numbers and underscores")
		}
		c.MQTT.BaseTopic = baseTopic

		hadBaseTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
		if err != nil {
			return invalid("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		c.MQTT.HADiscoveryTopic = hadBaseTopic
	}

	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.SolarEdge.Key = redact(c.SolarEdge.Key)
	c.Emporia.Password = redact(c.Emporia.Password)
	c.MQTT.Username = redact(c.MQTT.Username)
	c.MQTT.Password = redact(c.MQTT.Password)
	return c
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrConfigurationInvalid, msg)
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return REDACTED
}
