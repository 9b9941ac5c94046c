package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ENV_PREFIX = "surpluscharge"

// ErrVersion is returned by Load when the version option is given.
var ErrVersion = errors.New("version requested")

// flag name => config key
var flagKeys = map[string]string{
	"freq":              "control.freq",
	"max_amps":          "control.max_amps",
	"min_amps":          "control.min_amps",
	"step_amps":         "control.step_amps",
	"stale_factor":      "control.stale_factor",
	"failure_threshold": "control.failure_threshold",
	"fallback_amps":     "control.fallback_amps",
	"deadband_watts":    "control.deadband_watts",
	"offset_amps":       "control.offset_amps",
	"voltage":           "control.voltage",
	"schedule":          "control.schedule",
	"source":            "telemetry.source",
	"log_level":         "log_level",
}

// vendor variable names kept for compatibility
var envAliases = map[string]string{
	"solaredge.site":     "SOLAREDGE_SITE",
	"solaredge.key":      "SOLAREDGE_KEY",
	"solaredge.base_url": "SOLAREDGE_BASE_URL",
	"emporia.username":   "EMPORIA_USER",
	"emporia.password":   "EMPORIA_PASSWORD",
	"port":               "PORT",
}

// LoadDotEnv loads environment files without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, f := range filenames {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load builds the configuration from command line arguments, environment
// variables and an optional config file, in that order of precedence.
// It returns pflag.ErrHelp when usage was requested and ErrVersion when the
// version was requested.
func Load(args []string, out io.Writer) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)

	fs := newFlagSet(out)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, invalid(err.Error())
	}
	if fs.NArg() > 0 {
		return nil, invalid(fmt.Sprintf("unexpected argument %q", fs.Arg(0)))
	}
	if version, _ := fs.GetBool("version"); version {
		return nil, ErrVersion
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		envKey := strings.ToUpper(ENV_PREFIX + "_" + strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, err
		}
	}

	// if defined, load config from yaml/toml file
	cfgFile, _ := fs.GetString("config")
	if cfgFile == "" {
		cfgFile = os.Getenv("CONFIG_FILE")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, invalid(fmt.Sprintf("reading config file %s: %s", cfgFile, err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, invalid(err.Error())
	}

	cfg.LogLevel = ParseLogLevel(v.GetString("log_level"))
	if verbose, _ := fs.GetBool("verbose"); verbose {
		cfg.LogLevel = zap.DebugLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zap.DebugLevel
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func newFlagSet(out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("surpluscharge", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	fs.Uint32("freq", 600, "tick interval in seconds")
	fs.Int("max_amps", 40, "hard ceiling on the requested charging current")
	fs.Int("min_amps", 0, "lowest charging current requested while plugged in")
	fs.Int("step_amps", 2, "maximum setpoint change per tick")
	fs.Float64("stale_factor", 2, "telemetry older than stale_factor x freq is stale")
	fs.Int("failure_threshold", 3, "consecutive failed ticks before dropping to fallback_amps")
	fs.Int("fallback_amps", 0, "setpoint ceiling after failure_threshold failed ticks")
	fs.Float64("deadband_watts", 0, "surplus magnitude treated as zero")
	fs.Int("offset_amps", 0, "bias added to the surplus, positive allows grid import")
	fs.Float64("voltage", 240, "nominal line voltage used to convert amps to watts")
	fs.String("schedule", "", "quartz cron expression for ticks, overrides freq for scheduling")
	fs.String("source", TELEMETRY_SOURCE_SOLAREDGE, "telemetry source: solaredge or sunspec")
	fs.String("log_level", "warn", "log level: debug, info, warn, error")
	fs.String("config", "", "config file (yaml or toml), defaults to $CONFIG_FILE")
	fs.Bool("verbose", false, "debug logging")
	fs.Bool("version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: surpluscharge [option=value ...]\n\n")
		fmt.Fprintf(out, "Adjusts an EV charger to follow solar surplus.\n\nOptions:\n")
		fmt.Fprint(out, fs.FlagUsages())
		fmt.Fprintf(out, "  help, h, ?                       print this help and exit\n\n")
		fmt.Fprintf(out, "Options may be given as key=value, -key=value or --key value.\n")
		fmt.Fprintf(out, "Every setting can also be provided with %s_* environment variables.\n", strings.ToUpper(ENV_PREFIX))
	}
	return fs
}

// normalizeArgs accepts key=value and single dash long options.
func normalizeArgs(fs *pflag.FlagSet, args []string) []string {
	normalized := make([]string, 0, len(args))
	for _, arg := range args {
		trimmed := strings.TrimLeft(arg, "-")
		name, _, hasValue := strings.Cut(trimmed, "=")
		switch {
		case trimmed == "":
			normalized = append(normalized, arg)
		case name == "help" || name == "h" || name == "?":
			normalized = append(normalized, "--help")
		case strings.HasPrefix(arg, "-") || hasValue:
			normalized = append(normalized, "--"+trimmed)
		case fs.Lookup(name) != nil:
			normalized = append(normalized, "--"+trimmed)
		default:
			normalized = append(normalized, arg)
		}
	}
	return normalized
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("control.freq", 600)
	v.SetDefault("control.max_amps", 40)
	v.SetDefault("control.min_amps", 0)
	v.SetDefault("control.step_amps", 2)
	v.SetDefault("control.stale_factor", 2)
	v.SetDefault("control.failure_threshold", 3)
	v.SetDefault("control.fallback_amps", 0)
	v.SetDefault("control.deadband_watts", 0)
	v.SetDefault("control.offset_amps", 0)
	v.SetDefault("control.voltage", 240)
	v.SetDefault("control.schedule", "")
	v.SetDefault("control.tick_on_start", true)
	v.SetDefault("telemetry.source", TELEMETRY_SOURCE_SOLAREDGE)
	v.SetDefault("telemetry.timeout_millis", 10000)
	v.SetDefault("solaredge.site", "")
	v.SetDefault("solaredge.key", "")
	v.SetDefault("solaredge.base_url", "https://monitoringapi.solaredge.com")
	v.SetDefault("sunspec.host", "")
	v.SetDefault("sunspec.port", 502)
	v.SetDefault("sunspec.inverter_id", 1)
	v.SetDefault("sunspec.meter_id", 200)
	v.SetDefault("sunspec.manufacturer", "")
	v.SetDefault("charger.timeout_millis", 10000)
	v.SetDefault("charger.min_hardware_amps", 6)
	v.SetDefault("charger.measure_draw", true)
	v.SetDefault("emporia.username", "")
	v.SetDefault("emporia.password", "")
	v.SetDefault("emporia.token_file", "emporia-access.json")
	v.SetDefault("emporia.api_url", "https://api.emporiaenergy.com")
	v.SetDefault("emporia.auth_url", "https://cognito-idp.us-east-2.amazonaws.com/")
	v.SetDefault("emporia.client_id", "4qte47jbstod8apnfic0bunmrq")
	v.SetDefault("emporia.charger_gid", 0)
	v.SetDefault("mqtt.host", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "surpluscharge")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("port", 0)
	v.SetDefault("http_log", false)
}
