package actor

import (
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/surpluscharge/internal/adapter/actor"
	"github.com/berfenger/surpluscharge/internal/adapter/fake"
	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/events"
	"github.com/berfenger/surpluscharge/internal/core/service"
	"github.com/berfenger/surpluscharge/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type controlFixture struct {
	as        *actor.ActorSystem
	pid       *actor.PID
	telemetry *fake.TelemetrySource
	charger   *fake.Charger
	events    *eventRecorder
	clock     *clock.Mock
}

type eventRecorder struct {
	mu     sync.Mutex
	events map[string]domain.SensorUpdateEvent
}

func (r *eventRecorder) record(evt any) {
	ev, ok := evt.(domain.SensorUpdateEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[ev.SensorId()] = ev
}

func (r *eventRecorder) get(id string) domain.SensorUpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id]
}

func newControlFixture(t *testing.T, cfg config.Config) *controlFixture {
	logger := zap.Must(zap.NewDevelopment())
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	f := &controlFixture{
		as:        as,
		telemetry: fake.NewTelemetrySource(5000, 500),
		charger:   fake.NewCharger(true, 32),
		events:    &eventRecorder{events: map[string]domain.SensorUpdateEvent{}},
		clock:     clock.NewMock(),
	}
	f.clock.Set(time.Now())

	es := &eventstream.EventStream{}
	es.Subscribe(f.events.record)

	telemetryPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTelemetryActor(f.telemetry, time.Duration(cfg.Telemetry.TimeoutMillis)*time.Millisecond, logger)
	}))
	chargerPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewChargerActor(f.charger, time.Duration(cfg.Charger.TimeoutMillis)*time.Millisecond, logger)
	}))
	logic := service.NewSetpointControlLogic(cfg.Control, logger)
	f.pid = as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewControlActor(&cfg, telemetryPID, chargerPID, es, logic, logger).WithClock(f.clock)
	}))
	return f
}

func (f *controlFixture) tick(t *testing.T) domain.ControlTickResponse {
	t.Helper()
	result, err := f.as.Root.RequestFuture(f.pid, domain.ControlTickRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ControlTickResponse)
	require.True(t, ok, "unexpected response %T", result)
	return resp
}

func TestControlRampsWithSurplus(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())

	for _, expected := range []int{4, 8, 12} {
		resp := f.tick(t)
		require.NoError(resp.GetResponseError())
		require.False(resp.Skipped)
		require.NotNil(resp.Decision)
		require.Equal(expected, resp.Decision.TargetAmps)
		require.Equal(domain.REASON_SURPLUS_INCREASE, resp.Decision.Reason)
		require.Equal(expected, resp.Memory.LastTargetAmps)
	}

	require.Equal([]int{4, 8, 12}, f.charger.Commands())
	require.Equal(12, f.charger.State().CurrentAmps)
}

func TestControlRampsDownWithoutSurplus(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())

	f.tick(t)
	f.tick(t)
	f.telemetry.SetSnapshot(domain.NewPowerSnapshot(0, 4000, time.Time{}))

	resp := f.tick(t)
	require.Equal(4, resp.Decision.TargetAmps)
	require.Equal(domain.STATE_RAMPING_DOWN, resp.Decision.State)
	require.Equal(domain.REASON_SURPLUS_DROP, resp.Decision.Reason)

	resp = f.tick(t)
	require.Equal(0, resp.Decision.TargetAmps)
	require.Equal(domain.REASON_NO_SURPLUS_FALLBACK, resp.Decision.Reason)
	require.Equal([]int{4, 8, 4, 0}, f.charger.Commands())
}

func TestControlNotPluggedInNeverCommands(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())
	f.charger.SetPluggedIn(false)

	for i := 0; i < 3; i++ {
		resp := f.tick(t)
		require.NoError(resp.GetResponseError())
		require.Equal(0, resp.Decision.TargetAmps)
		require.Equal(domain.REASON_NOT_PLUGGED_IN, resp.Decision.Reason)
	}
	require.Empty(f.charger.Commands())
}

func TestControlTelemetryFailureFallsBack(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())

	resp := f.tick(t)
	require.Equal(4, resp.Decision.TargetAmps)

	f.telemetry.SetError(domain.ErrTelemetryRateLimited)
	for i := 1; i < 3; i++ {
		resp = f.tick(t)
		require.ErrorIs(resp.GetResponseError(), domain.ErrTelemetryUnavailable)
		require.Equal(domain.STATE_FALLBACK_SAFE, resp.Decision.State)
		require.Equal(domain.REASON_STALE_TELEMETRY_HOLD, resp.Decision.Reason)
		require.Equal(4, resp.Decision.TargetAmps)
		require.Equal(i, resp.Memory.ConsecutiveFailureCount)
	}

	resp = f.tick(t)
	require.Equal(domain.REASON_TELEMETRY_FAILURE_FALLBACK, resp.Decision.Reason)
	require.Equal(0, resp.Decision.TargetAmps)
	require.Equal([]int{4, 0}, f.charger.Commands())

	ev, ok := f.events.get(events.SENSOR_ID_LAST_ERROR).(domain.TextSensorUpdateEvent)
	require.True(ok)
	require.Equal("telemetry-rate-limited", ev.Value)

	f.telemetry.SetSnapshot(domain.NewPowerSnapshot(5000, 500, time.Time{}))
	resp = f.tick(t)
	require.NoError(resp.GetResponseError())
	require.Equal(0, resp.Memory.ConsecutiveFailureCount)
	require.Equal(4, resp.Decision.TargetAmps)
}

func TestControlStaleSnapshotHolds(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())

	f.tick(t)
	f.clock.Add(time.Hour)

	resp := f.tick(t)
	require.ErrorIs(resp.GetResponseError(), domain.ErrTelemetryStale)
	require.Equal(domain.REASON_STALE_TELEMETRY_HOLD, resp.Decision.Reason)
	require.Equal(4, resp.Decision.TargetAmps)
	require.Equal([]int{4}, f.charger.Commands())
}

func TestControlChargerUnavailableHolds(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())

	f.tick(t)
	f.charger.SetGetError(domain.ErrChargerUnauthenticated)

	resp := f.tick(t)
	require.ErrorIs(resp.GetResponseError(), domain.ErrChargerUnauthenticated)
	require.Equal(domain.REASON_CHARGER_UNAVAILABLE_HOLD, resp.Decision.Reason)
	require.Equal(4, resp.Decision.TargetAmps)
	require.Equal([]int{4}, f.charger.Commands())
}

func TestControlRejectedCommandIsRetried(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())

	f.charger.SetSetError(domain.ErrChargerRejected)
	resp := f.tick(t)
	require.ErrorIs(resp.GetResponseError(), domain.ErrChargerRejected)
	require.Equal(4, resp.Decision.TargetAmps)
	require.Equal(0, resp.Memory.LastTargetAmps)
	require.Equal(1, resp.Memory.ConsecutiveFailureCount)
	require.Equal(0, f.charger.State().SetpointAmps)

	f.charger.SetSetError(nil)
	resp = f.tick(t)
	require.NoError(resp.GetResponseError())
	require.Equal(4, resp.Decision.TargetAmps)
	require.Equal(0, resp.Memory.ConsecutiveFailureCount)
	require.Equal([]int{4, 4}, f.charger.Commands())
	require.Equal(4, f.charger.State().SetpointAmps)
}

func TestControlRejectedCommandsKeepDamping(t *testing.T) {
	require := require.New(t)
	cfg := util.LoadTestConfig()
	f := newControlFixture(t, cfg)

	f.charger.SetSetError(domain.ErrChargerRejected)
	for i := 1; i <= 4; i++ {
		resp := f.tick(t)
		require.ErrorIs(resp.GetResponseError(), domain.ErrChargerRejected)
		require.Equal(cfg.Control.StepAmps, resp.Decision.TargetAmps)
		require.Equal(i, resp.Memory.ConsecutiveFailureCount)
	}

	f.charger.SetSetError(nil)
	resp := f.tick(t)
	require.NoError(resp.GetResponseError())
	require.Equal(cfg.Control.StepAmps, f.charger.State().SetpointAmps)

	resp = f.tick(t)
	require.Equal(2*cfg.Control.StepAmps, resp.Decision.TargetAmps)
	require.Equal(2*cfg.Control.StepAmps, f.charger.State().SetpointAmps)
}

func TestControlSkipsOverlappingTicks(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())
	f.telemetry.SetDelay(300 * time.Millisecond)

	first := f.as.Root.RequestFuture(f.pid, domain.ControlTickRequest{}, 10*time.Second)
	second := f.as.Root.RequestFuture(f.pid, domain.ControlTickRequest{}, 10*time.Second)

	result, err := second.Result()
	require.NoError(err)
	require.True(result.(domain.ControlTickResponse).Skipped)

	result, err = first.Result()
	require.NoError(err)
	resp := result.(domain.ControlTickResponse)
	require.False(resp.Skipped)
	require.Equal(4, resp.Decision.TargetAmps)
	require.Equal(1, f.telemetry.Fetches())
}

func TestControlHealthWhileBusy(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())
	f.telemetry.SetDelay(300 * time.Millisecond)

	tick := f.as.Root.RequestFuture(f.pid, domain.ControlTickRequest{}, 10*time.Second)
	result, err := f.as.Root.RequestFuture(f.pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(err)
	health := result.(domain.ActorHealthResponse)
	require.True(health.Healthy)
	require.Equal("fetching", health.State)

	_, err = tick.Result()
	require.NoError(err)
}

func TestControlDrainWaitsForTick(t *testing.T) {
	require := require.New(t)
	f := newControlFixture(t, util.LoadTestConfig())
	f.telemetry.SetDelay(300 * time.Millisecond)

	tick := f.as.Root.RequestFuture(f.pid, domain.ControlTickRequest{}, 10*time.Second)
	drain := f.as.Root.RequestFuture(f.pid, domain.DrainRequest{}, 10*time.Second)

	result, err := drain.Result()
	require.NoError(err)
	require.IsType(domain.DrainResponse{}, result)
	require.Equal([]int{4}, f.charger.Commands())

	result, err = tick.Result()
	require.NoError(err)
	require.False(result.(domain.ControlTickResponse).Skipped)

	resp := f.tick(t)
	require.True(resp.Skipped)
	require.Equal(1, f.telemetry.Fetches())
}

func TestControlPublishesEvents(t *testing.T) {
	f := newControlFixture(t, util.LoadTestConfig())
	f.tick(t)

	target, ok := f.events.get(events.SENSOR_ID_TARGET_CURRENT).(domain.FloatSensorUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, 4.0, target.Value)

	production, ok := f.events.get(events.SENSOR_ID_PRODUCTION_POWER).(domain.FloatSensorUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, 5000.0, production.Value)

	reason, ok := f.events.get(events.SENSOR_ID_DECISION_REASON).(domain.TextSensorUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, string(domain.REASON_SURPLUS_INCREASE), reason.Value)

	lastError, ok := f.events.get(events.SENSOR_ID_LAST_ERROR).(domain.TextSensorUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "none", lastError.Value)

	plugged, ok := f.events.get(events.SENSOR_ID_CHARGER_PLUGGED_IN).(domain.BinarySensorUpdateEvent)
	require.True(t, ok)
	assert.True(t, plugged.Value)
}

func TestControlTickOnStart(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Control.TickOnStart = true
	f := newControlFixture(t, cfg)

	require.Eventually(t, func() bool {
		return len(f.charger.Commands()) == 1
	}, 5*time.Second, 50*time.Millisecond)
}
