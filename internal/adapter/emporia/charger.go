// Package emporia drives an Emporia EV charger through the Emporia cloud API.
package emporia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/internal/external"

	"github.com/benbjohnson/clock"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

const (
	MANUFACTURER        = "Emporia"
	PATH_DEVICES        = "customers/devices"
	PATH_DEVICES_STATUS = "customers/devices/status"
	PATH_CHARGER        = "devices/evcharger"
	PATH_APP_API        = "AppAPI"
)

type Charger struct {
	cfg        config.EmporiaConfig
	chargerCfg config.ChargerConfig
	client     *external.BaseClient
	auth       *Authenticator
	device     *device
	clock      clock.Clock
	logger     *zap.Logger
	// belowMinimum is the last target accepted by switching the charger off
	// because it was under the hardware minimum, 0 otherwise.
	belowMinimum int
}

var _ port.ChargerSink = (*Charger)(nil)

func NewCharger(cfg config.EmporiaConfig, chargerCfg config.ChargerConfig, logger *zap.Logger) *Charger {
	logger = logger.With(zap.String("sink", "emporia"))
	timeout := time.Duration(chargerCfg.TimeoutMillis) * time.Millisecond
	client := external.NewBaseClient(&http.Client{Timeout: timeout}, "emporia", external.DefaultRetryPolicy(),
		"surpluscharge/"+versioninfo.Short(), external.WithLogger(logger))
	return &Charger{
		cfg:        cfg,
		chargerCfg: chargerCfg,
		client:     client,
		auth:       NewAuthenticator(cfg, client, logger),
		clock:      clock.New(),
		logger:     logger,
	}
}

// Open authenticates and locates the charger on the account.
func (c *Charger) Open(ctx context.Context) error {
	var devices customerDevices
	if err := c.do(ctx, http.MethodGet, PATH_DEVICES, nil, nil, &devices); err != nil {
		return err
	}
	dev := findCharger(devices.Devices, c.cfg.ChargerGid)
	if dev == nil {
		if c.cfg.ChargerGid != 0 {
			return fmt.Errorf("%w: no charger with gid %d", domain.ErrChargerNotFound, c.cfg.ChargerGid)
		}
		return fmt.Errorf("%w: no charger on account", domain.ErrChargerNotFound)
	}
	c.device = dev
	c.logger.Info("emporia: charger found", zap.Uint64("gid", dev.DeviceGid), zap.String("model", dev.Model),
		zap.String("firmware", dev.Firmware))
	return nil
}

func (c *Charger) Close() error {
	return nil
}

func (c *Charger) Info(ctx context.Context) (*domain.ChargerInfo, error) {
	if err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}
	info := &domain.ChargerInfo{
		Id:           strconv.FormatUint(c.device.DeviceGid, 10),
		Manufacturer: MANUFACTURER,
		Model:        c.device.Model,
		Version:      c.device.Firmware,
	}
	if c.device.LocationProperties != nil {
		info.Name = c.device.LocationProperties.DeviceName
	}
	return info, nil
}

func (c *Charger) GetState(ctx context.Context) (*domain.ChargerState, error) {
	charger, err := c.chargerStatus(ctx)
	if err != nil {
		return nil, err
	}

	state := &domain.ChargerState{
		PluggedIn:          pluggedIn(charger.Status, charger.Icon),
		ChargerReportedMax: charger.MaxChargingRate,
		Status:             charger.Status,
	}
	if charger.ChargerOn {
		state.SetpointAmps = charger.ChargingRate
		if charging(charger.Status, charger.Icon) {
			state.CurrentAmps = charger.ChargingRate
		}
	} else {
		// off is how a target under the hardware minimum is applied
		state.SetpointAmps = c.belowMinimum
	}

	if c.chargerCfg.MeasureDraw {
		drawWatts, err := c.measureDraw(ctx)
		if err != nil {
			c.logger.Warn("emporia: could not measure charger draw", zap.Error(err))
		} else {
			state.DrawWatts = drawWatts
		}
	}
	return state, nil
}

// SetAmps switches the charger off for targets below the hardware minimum.
func (c *Charger) SetAmps(ctx context.Context, targetAmps int) error {
	charger, err := c.chargerStatus(ctx)
	if err != nil {
		return err
	}

	if targetAmps <= 0 || targetAmps < c.chargerCfg.MinHardwareAmps {
		charger.ChargerOn = false
	} else {
		charger.ChargerOn = true
		charger.ChargingRate = targetAmps
		if charger.MaxChargingRate > 0 {
			charger.ChargingRate = min(targetAmps, charger.MaxChargingRate)
		}
	}

	c.logger.Info("emporia: update charger", zap.Int("target", targetAmps), zap.Bool("on", charger.ChargerOn),
		zap.Int("rate", charger.ChargingRate))
	var updated evCharger
	if err := c.do(ctx, http.MethodPut, PATH_CHARGER, nil, charger, &updated); err != nil {
		return err
	}
	c.belowMinimum = 0
	if targetAmps > 0 && !charger.ChargerOn {
		c.belowMinimum = targetAmps
	}
	return nil
}

func (c *Charger) chargerStatus(ctx context.Context) (*evCharger, error) {
	if err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}
	var status devicesStatus
	if err := c.do(ctx, http.MethodGet, PATH_DEVICES_STATUS, nil, nil, &status); err != nil {
		return nil, err
	}
	for i := range status.EvChargers {
		if status.EvChargers[i].DeviceGid == c.device.DeviceGid {
			return &status.EvChargers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: gid %d missing from status", domain.ErrChargerNotFound, c.device.DeviceGid)
}

// measureDraw returns the charger draw over the last minute in watts.
func (c *Charger) measureDraw(ctx context.Context) (float64, error) {
	query := url.Values{}
	query.Set("apiMethod", "getDeviceListUsages")
	query.Set("deviceGids", strconv.FormatUint(c.device.DeviceGid, 10))
	query.Set("instant", c.clock.Now().UTC().Format(time.RFC3339))
	query.Set("scale", "1MIN")
	query.Set("energyUnit", "KilowattHours")

	var usage deviceListUsagesResponse
	if err := c.do(ctx, http.MethodGet, PATH_APP_API, query, nil, &usage); err != nil {
		return 0, err
	}
	// kWh over one minute => kW => W
	return usageKWh(usage.DeviceListUsages.Devices) * 60 * 1000, nil
}

func (c *Charger) ensureOpen(ctx context.Context) error {
	if c.device != nil {
		return nil
	}
	return c.Open(ctx)
}

// do sends an authenticated request, renewing the token once on 401.
func (c *Charger) do(ctx context.Context, method, path string, query url.Values, in any, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.auth.IdToken(ctx)
		if err != nil {
			return err
		}
		status, err := c.send(ctx, method, path, query, payload, token, out)
		if status == http.StatusUnauthorized && attempt == 0 {
			c.logger.Debug("emporia: token rejected, renewing")
			if err := c.auth.Invalidate(ctx); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

func (c *Charger) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string, out any) (int, error) {
	u, err := url.JoinPath(c.cfg.ApiURL, path)
	if err != nil {
		return 0, fmt.Errorf("%w: api url: %w", domain.ErrConfigurationInvalid, err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("authtoken", token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", domain.ErrChargerUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, fmt.Errorf("%w: %s %s status %d", domain.ErrChargerUnauthenticated, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%w: %s %s status %d: %s", domain.ErrChargerRejected, method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("%w: decoding %s: %w", domain.ErrChargerUnreachable, path, err)
		}
	}
	return resp.StatusCode, nil
}
