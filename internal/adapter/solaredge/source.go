// Package solaredge reads site power flow from the SolarEdge monitoring API.
package solaredge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/internal/external"

	"github.com/benbjohnson/clock"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

type Source struct {
	cfg     config.SolarEdgeConfig
	client  *external.BaseClient
	baseURL *url.URL
	clock   clock.Clock
	logger  *zap.Logger
}

var _ port.TelemetrySource = (*Source)(nil)

func NewSource(cfg config.SolarEdgeConfig, timeout time.Duration, logger *zap.Logger) *Source {
	logger = logger.With(zap.String("source", "solaredge"))
	return &Source{
		cfg: cfg,
		client: external.NewBaseClient(&http.Client{Timeout: timeout}, "solaredge", external.DefaultRetryPolicy(),
			"surpluscharge/"+versioninfo.Short(), external.WithLogger(logger)),
		clock:  clock.New(),
		logger: logger,
	}
}

func (s *Source) Open() error {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: solaredge base url: %w", domain.ErrConfigurationInvalid, err)
	}
	s.baseURL = u
	return nil
}

func (s *Source) Close() error {
	return nil
}

func (s *Source) FetchPowerFlow(ctx context.Context) (*domain.PowerSnapshot, error) {
	if s.baseURL == nil {
		if err := s.Open(); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.powerFlowURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, external.ErrRateLimited) {
			return nil, fmt.Errorf("%w: %w", domain.ErrTelemetryRateLimited, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTelemetryUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", domain.ErrTelemetryUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", domain.ErrTelemetryUnreachable, resp.StatusCode)
	}

	var body currentPowerFlowResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding power flow: %w", domain.ErrTelemetryUnavailable, err)
	}
	if body.SiteCurrentPowerFlow == nil {
		return nil, fmt.Errorf("%w: empty power flow", domain.ErrTelemetryUnavailable)
	}

	snapshot := toSnapshot(body.SiteCurrentPowerFlow, s.clock.Now())
	s.logger.Debug("solaredge: power flow",
		zap.Float64("production", snapshot.ProductionWatts),
		zap.Float64("consumption", snapshot.ConsumptionWatts),
		zap.Float64("grid", snapshot.GridWatts))
	return &snapshot, nil
}

func (s *Source) powerFlowURL() string {
	u := s.baseURL.JoinPath("site", s.cfg.Site, "currentPowerFlow")
	q := u.Query()
	q.Set("api_key", s.cfg.Key)
	u.RawQuery = q.Encode()
	return u.String()
}

// the API reports no timestamp, so the fetch time is used
func toSnapshot(flow *siteCurrentPowerFlow, fetchedAt time.Time) domain.PowerSnapshot {
	mult := flow.unitMultiplier()
	snapshot := domain.NewPowerSnapshot(power(flow.PV)*mult, power(flow.Load)*mult, fetchedAt)
	snapshot.GridWatts = flow.flowSign("GRID") * power(flow.Grid) * mult
	if flow.Storage != nil {
		snapshot.StorageWatts = flow.flowSign("STORAGE") * flow.Storage.CurrentPower * mult
	}
	return snapshot
}
