package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/events"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

var ErrDiscoveryNotReady = errors.New("mqtt actor is not healthy")

// HADiscoveryActor publishes Home Assistant discovery configs once the MQTT
// actor is up. Charger sensors are left out when the charger cannot be reached.
type HADiscoveryActor struct {
	config       *config.Config
	behavior     actor.Behavior
	stash        *actorutil.Stash
	chargerActor *actor.PID
	mqttActor    *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, chargerActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:       config,
		chargerActor: chargerActor,
		mqttActor:    mqttActor,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(ErrDiscoveryNotReady)
		}
		timeout := time.Duration(state.config.Charger.TimeoutMillis)*time.Millisecond + time.Second
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargerActor, domain.GetChargerInfoRequest{}, timeout), func(err error) any {
			return domain.GetChargerInfoResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingInfoReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetChargerInfoResponse:
		var info *domain.ChargerInfo
		if msg.HasResponseError() {
			state.logger.Warn("hadiscovery@info charger info unavailable, publishing without charger sensors", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("hadiscovery@info GetChargerInfoResponse", zap.Any("info", msg.Info))
			info = msg.Info
		}

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: DiscoverySensors(state.config.MQTT.BaseTopic, staleAfter(state.config.Control), info),
		})
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@info default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
}

// DiscoverySensors lists every sensor announced for a bridge. The charger is
// announced as a device reached through the bridge. Every state but the
// bridge's own expires after expireAfter.
func DiscoverySensors(baseTopic string, expireAfter time.Duration, info *domain.ChargerInfo) []domain.GenericSensor {
	var sensors []domain.GenericSensor

	bridgeDevice := events.BridgeDevice(baseTopic)
	sensors = append(sensors, events.BridgeSensors(bridgeDevice)...)
	for _, sensor := range events.ControlSensors(bridgeDevice) {
		sensor.Device = events.IdDevice(bridgeDevice)
		sensor.ExpireAfterSeconds = uint(expireAfter.Seconds())
		sensors = append(sensors, sensor)
	}

	if info != nil {
		chargerDevice := events.ChargerDevice(info)
		chargerDevice.ViaDevice = bridgeDevice.Id
		chargerSensors := events.ChargerSensors(chargerDevice)
		for i := range chargerSensors {
			if i > 0 {
				chargerSensors[i].Device = events.IdDevice(chargerDevice)
			}
			chargerSensors[i].ExpireAfterSeconds = uint(expireAfter.Seconds())
			sensors = append(sensors, chargerSensors[i])
		}
	}
	return sensors
}

func staleAfter(cfg config.ControlConfig) time.Duration {
	return time.Duration(cfg.StaleFactor * float64(cfg.FreqSeconds) * float64(time.Second))
}
