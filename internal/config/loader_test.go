package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/berfenger/surpluscharge/internal/core/domain"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setCredentials(t *testing.T) {
	t.Setenv("SOLAREDGE_SITE", "1234567")
	t.Setenv("SOLAREDGE_KEY", "ABCDEFGHIJ")
	t.Setenv("EMPORIA_USER", "user@example.com")
	t.Setenv("EMPORIA_PASSWORD", "hunter2")
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)
	setCredentials(t)

	cfg, err := Load(nil, &bytes.Buffer{})
	require.NoError(err)

	require.Equal(uint32(600), cfg.Control.FreqSeconds)
	require.Equal(40, cfg.Control.MaxAmps)
	require.Equal(0, cfg.Control.MinAmps)
	require.Equal(2, cfg.Control.StepAmps)
	require.Equal(2.0, cfg.Control.StaleFactor)
	require.Equal(3, cfg.Control.FailureThreshold)
	require.Equal(240.0, cfg.Control.Voltage)
	require.Equal(0, cfg.Control.OffsetAmps)
	require.True(cfg.Control.TickOnStart)
	require.Equal(TELEMETRY_SOURCE_SOLAREDGE, cfg.Telemetry.Source)
	require.Equal("1234567", cfg.SolarEdge.Site)
	require.Equal("ABCDEFGHIJ", cfg.SolarEdge.Key)
	require.Equal("user@example.com", cfg.Emporia.Username)
	require.Equal(6, cfg.Charger.MinHardwareAmps)
	require.False(cfg.MQTT.Enabled())
	require.Equal(uint(0), cfg.Port)
	require.Equal(zap.WarnLevel, cfg.LogLevel)
}

func TestLoadArgumentForms(t *testing.T) {
	require := require.New(t)
	setCredentials(t)

	cfg, err := Load([]string{"freq=60", "-max_amps=32", "--step_amps", "4", "stale_factor=1.5", "offset_amps=-2", "verbose"}, &bytes.Buffer{})
	require.NoError(err)

	require.Equal(uint32(60), cfg.Control.FreqSeconds)
	require.Equal(32, cfg.Control.MaxAmps)
	require.Equal(4, cfg.Control.StepAmps)
	require.Equal(1.5, cfg.Control.StaleFactor)
	require.Equal(-2, cfg.Control.OffsetAmps)
	require.Equal(zap.DebugLevel, cfg.LogLevel)
}

func TestLoadArgumentsOverrideEnvironment(t *testing.T) {
	require := require.New(t)
	setCredentials(t)
	t.Setenv("SURPLUSCHARGE_CONTROL_FREQ", "120")
	t.Setenv("SURPLUSCHARGE_CONTROL_DEADBAND_WATTS", "150")
	t.Setenv("SURPLUSCHARGE_MQTT_HOST", "broker.local")
	t.Setenv("PORT", "8080")

	cfg, err := Load([]string{"freq=90"}, &bytes.Buffer{})
	require.NoError(err)

	require.Equal(uint32(90), cfg.Control.FreqSeconds)
	require.Equal(150.0, cfg.Control.DeadbandWatts)
	require.True(cfg.MQTT.Enabled())
	require.Equal(uint(8080), cfg.Port)
}

func TestLoadHelp(t *testing.T) {
	setCredentials(t)

	for _, arg := range []string{"help", "h", "?", "-h", "--help", "-help"} {
		t.Run(arg, func(t *testing.T) {
			out := &bytes.Buffer{}
			cfg, err := Load([]string{arg}, out)
			require.Nil(t, cfg)
			require.ErrorIs(t, err, pflag.ErrHelp)
			assert.Contains(t, out.String(), "Usage: surpluscharge")
			assert.Contains(t, out.String(), "max_amps")
		})
	}
}

func TestLoadVersion(t *testing.T) {
	setCredentials(t)

	_, err := Load([]string{"version"}, &bytes.Buffer{})
	require.ErrorIs(t, err, ErrVersion)
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	setCredentials(t)

	cases := map[string][]string{
		"zero ceiling":        {"max_amps=0"},
		"floor over ceiling":  {"min_amps=50"},
		"zero step":           {"step_amps=0"},
		"step over ceiling":   {"max_amps=10", "step_amps=12"},
		"stale factor":        {"stale_factor=0.5"},
		"fallback too high":   {"fallback_amps=64"},
		"short period":        {"freq=5"},
		"unknown source":      {"source=modbus"},
		"unknown option":      {"unknown=1"},
		"positional argument": {"bogus"},
		"malformed number":    {"freq=abc"},
		"bad schedule":        {"schedule=every minute"},
		"offset too large":    {"offset_amps=100"},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(args, &bytes.Buffer{})
			require.Nil(t, cfg)
			require.ErrorIs(t, err, domain.ErrConfigurationInvalid)
		})
	}
}

func TestLoadRequiresTelemetryCredentials(t *testing.T) {
	require := require.New(t)
	t.Setenv("SOLAREDGE_SITE", "")
	t.Setenv("SOLAREDGE_KEY", "")

	_, err := Load(nil, &bytes.Buffer{})
	require.ErrorIs(err, domain.ErrConfigurationInvalid)
	require.ErrorContains(err, "SOLAREDGE_SITE")

	t.Setenv("SURPLUSCHARGE_SUNSPEC_HOST", "10.0.0.20")
	cfg, err := Load([]string{"source=sunspec"}, &bytes.Buffer{})
	require.NoError(err)
	require.Equal(TELEMETRY_SOURCE_SUNSPEC, cfg.Telemetry.Source)
	require.Equal(uint(502), cfg.SunSpec.Port)
}

func TestLoadConfigFile(t *testing.T) {
	require := require.New(t)
	setCredentials(t)

	cfgFile := filepath.Join(t.TempDir(), "surpluscharge.yaml")
	content := `
control:
  freq: 300
  max_amps: 32
  schedule: "0 */5 * * * *"
mqtt:
  host: broker.local
  base_topic: EVCharge
`
	require.NoError(os.WriteFile(cfgFile, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", cfgFile)

	cfg, err := Load(nil, &bytes.Buffer{})
	require.NoError(err)
	require.Equal(uint32(300), cfg.Control.FreqSeconds)
	require.Equal(32, cfg.Control.MaxAmps)
	require.Equal("0 */5 * * * *", cfg.Control.Schedule)
	require.Equal("broker.local", cfg.MQTT.Host)
	require.Equal("evcharge", cfg.MQTT.BaseTopic)

	cfg, err = Load([]string{"max_amps=16"}, &bytes.Buffer{})
	require.NoError(err)
	require.Equal(16, cfg.Control.MaxAmps)
}

func TestLoadRejectsInvalidTopic(t *testing.T) {
	setCredentials(t)
	t.Setenv("SURPLUSCHARGE_MQTT_HOST", "broker.local")
	t.Setenv("SURPLUSCHARGE_MQTT_BASE_TOPIC", "ev/charge")

	_, err := Load(nil, &bytes.Buffer{})
	require.ErrorIs(t, err, domain.ErrConfigurationInvalid)
}

func TestRedacted(t *testing.T) {
	require := require.New(t)
	setCredentials(t)

	cfg, err := Load(nil, &bytes.Buffer{})
	require.NoError(err)

	redacted := cfg.Redacted()
	require.Equal(REDACTED, redacted.SolarEdge.Key)
	require.Equal(REDACTED, redacted.Emporia.Password)
	require.Equal("", redacted.MQTT.Password)
	require.Equal("ABCDEFGHIJ", cfg.SolarEdge.Key)
}
