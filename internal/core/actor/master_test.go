package actor

import (
	"strings"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/surpluscharge/internal/adapter/actor"
	"github.com/berfenger/surpluscharge/internal/adapter/fake"
	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/events"
	"github.com/berfenger/surpluscharge/internal/core/service"
	"github.com/berfenger/surpluscharge/internal/mqtt"
	"github.com/berfenger/surpluscharge/internal/util"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publishedTopics struct {
	mu     sync.Mutex
	topics map[string]string
}

func (p *publishedTopics) record(msg mqtt.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics[msg.Topic] = msg.Payload
}

func (p *publishedTopics) get(topic string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, ok := p.topics[topic]
	return payload, ok
}

func spawnMaster(t *testing.T, cfg config.Config, published *publishedTopics) (*actor.ActorSystem, *actor.PID, *fake.Charger) {
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	telemetry := fake.NewTelemetrySource(5000, 500)
	charger := fake.NewCharger(true, 32)

	var mqttProvider MQTTActorProvider
	if published != nil {
		mqttProvider = func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, published.record, logger)
		}
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.TelemetryActor {
			return adactor.NewTelemetryActor(telemetry, time.Second, logger)
		}, func() *adactor.ChargerActor {
			return adactor.NewChargerActor(charger, time.Second, logger)
		}, mqttProvider, service.NewSetpointControlLogic(cfg.Control, logger), logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	return as, pid, charger
}

func requireHealthy(t *testing.T, as *actor.ActorSystem, pid *actor.PID) {
	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.Equal(t, domain.ACTOR_ID_MASTER, healthResp.Id)
	assert.True(t, healthResp.Healthy, "healthy is true")
}

func TestMasterActor(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	published := &publishedTopics{topics: map[string]string{}}
	as, pid, charger := spawnMaster(t, cfg, published)

	requireHealthy(t, as, pid)

	res, err := as.Root.RequestFuture(pid, domain.ControlTickRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	tick, ok := res.(domain.ControlTickResponse)
	require.True(t, ok)
	require.NoError(t, tick.GetResponseError())
	assert.Equal(t, 4, tick.Decision.TargetAmps)
	assert.Equal(t, []int{4}, charger.Commands())

	require.Eventually(t, func() bool {
		payload, ok := published.get("surpluscharge/sensor/target_current/state")
		return ok && payload == "4"
	}, 2*time.Second, 20*time.Millisecond)

	chargerDevice := events.ChargerDevice(&domain.ChargerInfo{Id: "4242"})
	require.Eventually(t, func() bool {
		_, ok := published.get("homeassistant/sensor/" + chargerDevice.Id + "/charger_current/config")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	payload, _ := published.get("homeassistant/sensor/" + chargerDevice.Id + "/charger_current/config")
	assert.True(t, strings.Contains(payload, `"via_device":"`+events.BridgeDevice(cfg.MQTT.BaseTopic).Id+`"`))

	res, err = as.Root.RequestFuture(pid, domain.DrainRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	assert.IsType(t, domain.DrainResponse{}, res)

	res, err = as.Root.RequestFuture(pid, domain.ControlTickRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ControlTickResponse).Skipped)

	require.NoError(t, as.Root.StopFuture(pid).Wait())
}

func TestMasterActorWithoutMQTT(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.Host = ""
	as, pid, _ := spawnMaster(t, cfg, nil)

	requireHealthy(t, as, pid)

	res, err := as.Root.RequestFuture(pid, domain.ControlTickRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.ControlTickResponse).Skipped)
}
