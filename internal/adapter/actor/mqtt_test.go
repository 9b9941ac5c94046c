package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/events"
	"github.com/berfenger/surpluscharge/internal/mqtt"
	"github.com/berfenger/surpluscharge/internal/util"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type messageRecorder struct {
	mu       sync.Mutex
	messages []mqtt.Message
}

func (r *messageRecorder) record(msg mqtt.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *messageRecorder) byTopic() map[string]mqtt.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]mqtt.Message, len(r.messages))
	for _, m := range r.messages {
		out[m.Topic] = m
	}
	return out
}

func TestMQTTActor(t *testing.T) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	es := &eventstream.EventStream{}
	recorder := &messageRecorder{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, es, recorder.record, logger) })
	pid := as.Root.Spawn(props)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, resp.Healthy)

	decision := domain.ControlDecision{
		TargetAmps: 12,
		State:      domain.STATE_RAMPING_UP,
		Reason:     domain.REASON_SURPLUS_INCREASE,
		Surplus:    &domain.SurplusEstimate{SurplusWatts: 1640},
	}
	for _, ev := range events.DecisionToUpdateEvents(&decision, domain.ControllerMemory{LastTargetAmps: 12}) {
		es.Publish(ev)
	}
	// not a sensor update, ignored
	es.Publish("noise")

	assert.Eventually(t, func() bool {
		return len(recorder.byTopic()) == 5
	}, 2*time.Second, 20*time.Millisecond)

	topics := recorder.byTopic()
	assert.Equal(t, "12", topics["surpluscharge/sensor/target_current/state"].Payload)
	assert.Equal(t, "RAMPING_UP", topics["surpluscharge/sensor/control_state/state"].Payload)
	assert.Equal(t, "surplus-increase", topics["surpluscharge/sensor/decision_reason/state"].Payload)
	assert.Equal(t, "1640", topics["surpluscharge/sensor/surplus_power/state"].Payload)

	require.NoError(t, as.Root.StopFuture(pid).Wait())
	es.Publish(events.ErrorUpdateEvent(nil))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, recorder.byTopic(), 5)
}

func TestMQTTActorPublishesDiscovery(t *testing.T) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	recorder := &messageRecorder{}

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewTestMQTTActor(&cfg, &eventstream.EventStream{}, recorder.record, logger)
	}))

	bridge := events.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors := events.BridgeSensors(bridge)
	result, err := as.Root.RequestFuture(pid, domain.PublishDiscoveryRequest{Sensors: sensors}, 2*time.Second).Result()
	require.NoError(t, err)
	require.False(t, result.(domain.PublishDiscoveryResponse).HasResponseError())

	topics := recorder.byTopic()
	require.Len(t, topics, 1)
	for topic, msg := range topics {
		assert.Equal(t, "homeassistant/binary_sensor/"+bridge.Id+"/bridge/config", topic)
		assert.True(t, msg.Retain)
		assert.Contains(t, msg.Payload, `"state_topic":"surpluscharge/bridge/state"`)
	}
}
