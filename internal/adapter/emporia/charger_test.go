package emporia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const CHARGER_GID = 421337

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientId       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type initiateAuthResponse struct {
	AuthenticationResult *authenticationResult `json:"AuthenticationResult"`
}

type authenticationResult struct {
	AccessToken  string `json:"AccessToken"`
	ExpiresIn    int    `json:"ExpiresIn"`
	IdToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken,omitempty"`
}

type fakeEmporia struct {
	mu          sync.Mutex
	validToken  string
	logins      int
	refreshes   int
	noCharger   bool
	charger     evCharger
	usageKWh    float64
	updates     []evCharger
	rotateAfter bool
}

func newFakeEmporia() *fakeEmporia {
	return &fakeEmporia{
		charger: evCharger{
			DeviceGid:       CHARGER_GID,
			LoadGid:         1,
			ChargerOn:       true,
			ChargingRate:    16,
			MaxChargingRate: 40,
			Status:          "Charging",
			Icon:            "CarCharging",
		},
		usageKWh: 0.0615,
	}
}

func (f *fakeEmporia) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	handleAuth := func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, "AWSCognitoIdentityProviderService.InitiateAuth", r.Header.Get("X-Amz-Target"))
		var req initiateAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client-id", req.ClientId)

		switch req.AuthFlow {
		case "USER_PASSWORD_AUTH":
			if req.AuthParameters["PASSWORD"] != "secret" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"__type":"NotAuthorizedException","message":"Incorrect username or password."}`))
				return
			}
			f.logins++
			f.validToken = "id-login"
			if f.rotateAfter {
				f.validToken = "id-refresh"
			}
			json.NewEncoder(w).Encode(initiateAuthResponse{AuthenticationResult: &authenticationResult{
				AccessToken: "access", IdToken: "id-login", RefreshToken: "refresh", ExpiresIn: 3600,
			}})
		case "REFRESH_TOKEN_AUTH":
			assert.Equal(t, "refresh", req.AuthParameters["REFRESH_TOKEN"])
			f.refreshes++
			f.validToken = "id-refresh"
			json.NewEncoder(w).Encode(initiateAuthResponse{AuthenticationResult: &authenticationResult{
				AccessToken: "access-2", IdToken: "id-refresh", ExpiresIn: 3600,
			}})
		}
	}
	mux.HandleFunc("POST /auth", handleAuth)
	mux.HandleFunc("POST /auth/", handleAuth)
	authorized := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if r.Header.Get("authtoken") != f.validToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /api/customers/devices", authorized(func(w http.ResponseWriter, r *http.Request) {
		devices := customerDevices{CustomerGid: 1, Devices: []device{{
			DeviceGid: 1000, Model: "VUE002", Firmware: "Vue2-1",
			Devices: []device{{
				DeviceGid: CHARGER_GID, Model: "VVDN01", Firmware: "2.0.5",
				LocationProperties: &locationProperties{DeviceName: "Garage charger"},
			}},
		}}}
		if !f.noCharger {
			devices.Devices[0].Devices[0].EvCharger = &f.charger
		}
		json.NewEncoder(w).Encode(devices)
	}))
	mux.HandleFunc("GET /api/customers/devices/status", authorized(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(devicesStatus{EvChargers: []evCharger{f.charger}})
	}))
	mux.HandleFunc("PUT /api/devices/evcharger", authorized(func(w http.ResponseWriter, r *http.Request) {
		var update evCharger
		require.NoError(t, json.NewDecoder(r.Body).Decode(&update))
		f.updates = append(f.updates, update)
		f.charger = update
		json.NewEncoder(w).Encode(update)
	}))
	mux.HandleFunc("GET /api/AppAPI", authorized(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getDeviceListUsages", r.URL.Query().Get("apiMethod"))
		assert.Equal(t, "1MIN", r.URL.Query().Get("scale"))
		usage := f.usageKWh
		w.Write([]byte(`{"deviceListUsages":{"scale":"1MIN","devices":[{"deviceGid":421337,"channelUsages":[` +
			`{"name":"Main","usage":` + jsonNumber(usage) + `,"channelNum":"1,2,3","nestedDevices":[]},` +
			`{"name":"Balance","usage":null,"channelNum":"Balance"}]}]}}`))
	}))
	return mux
}

func jsonNumber(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func newTestCharger(t *testing.T, fake *fakeEmporia, mutate func(*config.EmporiaConfig)) (*Charger, string) {
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	tokenFile := filepath.Join(t.TempDir(), "emporia-access.json")
	cfg := config.EmporiaConfig{
		Username:  "user@example.com",
		Password:  "secret",
		TokenFile: tokenFile,
		ApiURL:    server.URL + "/api",
		AuthURL:   server.URL + "/auth",
		ClientId:  "client-id",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	charger := NewCharger(cfg, config.ChargerConfig{TimeoutMillis: 2000, MinHardwareAmps: 6, MeasureDraw: true}, zap.NewNop())
	return charger, tokenFile
}

func TestOpenFindsNestedCharger(t *testing.T) {
	require := require.New(t)
	charger, _ := newTestCharger(t, newFakeEmporia(), nil)

	require.NoError(charger.Open(context.Background()))
	info, err := charger.Info(context.Background())
	require.NoError(err)
	require.Equal("421337", info.Id)
	require.Equal("Garage charger", info.Name)
	require.Equal(MANUFACTURER, info.Manufacturer)
	require.Equal("VVDN01", info.Model)
}

func TestOpenWithoutCharger(t *testing.T) {
	fake := newFakeEmporia()
	fake.noCharger = true
	charger, _ := newTestCharger(t, fake, nil)

	require.ErrorIs(t, charger.Open(context.Background()), domain.ErrChargerNotFound)
}

func TestGetStateCharging(t *testing.T) {
	require := require.New(t)
	charger, _ := newTestCharger(t, newFakeEmporia(), nil)

	state, err := charger.GetState(context.Background())
	require.NoError(err)
	require.True(state.PluggedIn)
	require.Equal(16, state.CurrentAmps)
	require.Equal(16, state.SetpointAmps)
	require.Equal(40, state.ChargerReportedMax)
	require.InDelta(3690, state.DrawWatts, 0.01)
}

func TestGetStateUnplugged(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	fake.charger.Status = "Standby"
	fake.charger.Icon = "CarNotConnected"
	fake.usageKWh = 0
	charger, _ := newTestCharger(t, fake, nil)

	state, err := charger.GetState(context.Background())
	require.NoError(err)
	require.False(state.PluggedIn)
	require.Equal(0, state.CurrentAmps)
	require.Equal(16, state.SetpointAmps)
	require.Equal(0.0, state.DrawWatts)
}

func TestSetAmps(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	charger, _ := newTestCharger(t, fake, nil)
	ctx := context.Background()

	require.NoError(charger.SetAmps(ctx, 12))
	require.NoError(charger.SetAmps(ctx, 64))
	require.NoError(charger.SetAmps(ctx, 4))
	require.NoError(charger.SetAmps(ctx, 0))

	require.Len(fake.updates, 4)
	require.True(fake.updates[0].ChargerOn)
	require.Equal(12, fake.updates[0].ChargingRate)
	require.Equal(40, fake.updates[1].ChargingRate)
	require.False(fake.updates[2].ChargerOn)
	require.False(fake.updates[3].ChargerOn)
	require.Equal(uint64(CHARGER_GID), fake.updates[3].DeviceGid)
}

func TestTargetBelowHardwareMinimumReadsBack(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	charger, _ := newTestCharger(t, fake, nil)
	ctx := context.Background()

	require.NoError(charger.SetAmps(ctx, 4))
	state, err := charger.GetState(ctx)
	require.NoError(err)
	require.False(fake.charger.ChargerOn)
	require.Equal(4, state.SetpointAmps)
	require.Equal(0, state.CurrentAmps)

	require.NoError(charger.SetAmps(ctx, 0))
	state, err = charger.GetState(ctx)
	require.NoError(err)
	require.Equal(0, state.SetpointAmps)

	require.NoError(charger.SetAmps(ctx, 8))
	state, err = charger.GetState(ctx)
	require.NoError(err)
	require.Equal(8, state.SetpointAmps)
}

func TestTokenRenewedAfterUnauthorized(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	// the token issued on login is rejected right away
	fake.rotateAfter = true
	charger, tokenFile := newTestCharger(t, fake, nil)

	require.NoError(charger.Open(context.Background()))
	require.Equal(1, fake.logins)
	require.Equal(1, fake.refreshes)

	stat, err := os.Stat(tokenFile)
	require.NoError(err)
	require.Equal(os.FileMode(0o600), stat.Mode().Perm())

	data, err := os.ReadFile(tokenFile)
	require.NoError(err)
	var stored tokenSet
	require.NoError(json.Unmarshal(data, &stored))
	require.Equal("id-refresh", stored.IdToken)
	require.Equal("refresh", stored.RefreshToken)
	require.NotContains(string(data), "secret")
}

func TestStoredTokensSkipLogin(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	fake.validToken = "stored-id"

	charger, tokenFile := newTestCharger(t, fake, func(cfg *config.EmporiaConfig) {
		cfg.Username = ""
		cfg.Password = ""
	})
	tokens := tokenSet{IdToken: "stored-id", AccessToken: "a", RefreshToken: "refresh", ExpiresAt: time.Now().Add(time.Hour)}
	data, _ := json.Marshal(tokens)
	require.NoError(os.WriteFile(tokenFile, data, 0o600))

	require.NoError(charger.Open(context.Background()))
	require.Equal(0, fake.logins)
	require.Equal(0, fake.refreshes)
}

func TestExpiredTokensAreRefreshed(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	fake.validToken = "id-refresh"

	charger, tokenFile := newTestCharger(t, fake, nil)
	tokens := tokenSet{IdToken: "old", AccessToken: "a", RefreshToken: "refresh", ExpiresAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(tokens)
	require.NoError(os.WriteFile(tokenFile, data, 0o600))

	require.NoError(charger.Open(context.Background()))
	require.Equal(0, fake.logins)
	require.Equal(1, fake.refreshes)
}

func TestTokensRefreshedBeforeExpiry(t *testing.T) {
	require := require.New(t)
	fake := newFakeEmporia()
	charger, _ := newTestCharger(t, fake, nil)
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC))
	charger.auth.clock = mock

	require.NoError(charger.Open(context.Background()))
	require.Equal(1, fake.logins)

	token, err := charger.auth.IdToken(context.Background())
	require.NoError(err)
	require.Equal("id-login", token)
	require.Equal(0, fake.refreshes)

	mock.Add(time.Hour - 30*time.Second)
	token, err = charger.auth.IdToken(context.Background())
	require.NoError(err)
	require.Equal("id-refresh", token)
	require.Equal(1, fake.refreshes)
	require.Equal(1, fake.logins)
}

func TestBadCredentials(t *testing.T) {
	charger, _ := newTestCharger(t, newFakeEmporia(), func(cfg *config.EmporiaConfig) {
		cfg.Password = "wrong"
	})

	err := charger.Open(context.Background())
	require.ErrorIs(t, err, domain.ErrChargerUnauthenticated)
	require.ErrorContains(t, err, "NotAuthorizedException")
}

func TestPluggedInHeuristic(t *testing.T) {
	cases := []struct {
		status, icon string
		plugged      bool
		charging     bool
	}{
		{"Charging", "CarCharging", true, true},
		{"Standby", "CarConnected", true, false},
		{"Standby", "CarNotConnected", false, false},
		{"Standby", "CarDisconnected", false, false},
		{"Not charging", "CarConnected", true, false},
		{"Standby", "CarFull", true, false},
		{"", "", false, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.plugged, pluggedIn(c.status, c.icon), "%s/%s", c.status, c.icon)
		assert.Equal(t, c.charging, charging(c.status, c.icon), "%s/%s", c.status, c.icon)
	}
}
