package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/surpluscharge/internal/adapter/actor"
	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type TelemetryActorProvider func() *adactor.TelemetryActor

type ChargerActorProvider func() *adactor.ChargerActor

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// MasterOfPuppetsActor spawns and supervises every other actor. Ticks and
// drain requests are forwarded to the control actor.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck     healthCheckResult
	eventStream            *eventstream.EventStream
	telemetryActor         *actor.PID
	chargerActor           *actor.PID
	controlActor           *actor.PID
	mqttActor              *actor.PID
	telemetryActorProvider TelemetryActorProvider
	chargerActorProvider   ChargerActorProvider
	mqttActorProvider      MQTTActorProvider
	logic                  port.SetpointControlLogic
	stopping               bool
	logger                 *zap.Logger
}

type healthCheckResult struct {
	expected       map[string]bool
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

// NewMasterOfPuppetsActor takes a nil mqttActorProvider when MQTT is disabled.
func NewMasterOfPuppetsActor(config config.Config, telemetryActorProvider TelemetryActorProvider, chargerActorProvider ChargerActorProvider,
	mqttActorProvider MQTTActorProvider, logic port.SetpointControlLogic, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                 config,
		behavior:               actor.NewBehavior(),
		stash:                  &actorutil.Stash{},
		logger:                 actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:            &eventstream.EventStream{},
		telemetryActorProvider: telemetryActorProvider,
		chargerActorProvider:   chargerActorProvider,
		mqttActorProvider:      mqttActorProvider,
		logic:                  logic,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

// EventStream carries the sensor updates of the control loop.
func (state *MasterOfPuppetsActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start Telemetry child
		telemetryActorPID, err := state.startAdapterActor(ctx, domain.ACTOR_ID_TELEMETRY, func() actor.Actor {
			return state.telemetryActorProvider()
		})
		if err != nil {
			panic(err)
		}
		state.telemetryActor = telemetryActorPID

		// start Charger child
		chargerActorPID, err := state.startAdapterActor(ctx, domain.ACTOR_ID_CHARGER, func() actor.Actor {
			return state.chargerActorProvider()
		})
		if err != nil {
			panic(err)
		}
		state.chargerActor = chargerActorPID

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startAdapterActor(ctx, domain.ACTOR_ID_MQTT, func() actor.Actor {
				return state.mqttActorProvider(state.eventStream)
			})
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		// start Control child
		controlActorPID, err := state.startControlActor(ctx)
		if err != nil {
			panic(err)
		}
		state.controlActor = controlActorPID

		// start HA Discovery
		if state.mqttActor != nil && state.config.MQTT.HADiscoveryEnable {
			if _, err := state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.children())
		state.currentHealthCheck.respondTo = actorutil.ForRequest(msg).ReplyTo(ctx)
		for id, pid := range state.children() {
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.ControlTickRequest:
		ctx.Forward(state.controlActor)
	case domain.DrainRequest:
		state.logger.Debug("master@default DrainRequest")
		ctx.Forward(state.controlActor)
	case *actor.Stopping:
		state.stopping = true
	case *actor.Terminated:
		if state.stopping || msg.Who.Id == ctx.Self().Id+"/"+domain.ACTOR_ID_HA_DISCOVERY {
			state.logger.Debug("master@default child terminated", zap.String("who", msg.Who.Id))
			return
		}
		// a child that cannot be restarted leaves the loop without a collaborator
		state.logger.Error("master@default child terminated", zap.String("who", msg.Who.Id))
		panic(fmt.Errorf("%s terminated", msg.Who.Id))
	default:
		state.logger.Debug("master@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.logger.Warn("master@healthcheck timeout")
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_TELEMETRY: state.telemetryActor,
		domain.ACTOR_ID_CHARGER:   state.chargerActor,
		domain.ACTOR_ID_CONTROL:   state.controlActor,
	}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	return children
}

// startAdapterActor spawns an actor owning a network connection. Those get
// restarted with backoff for as long as they keep failing.
func (state *MasterOfPuppetsActor) startAdapterActor(ctx actor.Context, id string, producer actor.Producer) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(producer, actor.WithSupervisor(supervisor))
	pid, err := ctx.SpawnNamed(props, id)
	if err != nil {
		return nil, err
	}

	return pid, nil
}

func (state *MasterOfPuppetsActor) startControlActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controlProps := actor.PropsFromProducer(func() actor.Actor {
		return NewControlActor(&state.config, state.telemetryActor, state.chargerActor, state.eventStream, state.logic, state.logger)
	}, actor.WithSupervisor(supervisor))
	controlActorPID, err := ctx.SpawnNamed(controlProps, domain.ACTOR_ID_CONTROL)
	if err != nil {
		return nil, err
	}

	return controlActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		if errors.Is(asError(reason), ErrDiscoveryNotReady) {
			return actor.RestartDirective
		}
		return actor.StopDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 30*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.chargerActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func asError(reason any) error {
	if err, ok := reason.(error); ok {
		return err
	}
	return fmt.Errorf("%v", reason)
}

func (state *healthCheckResult) reset(children map[string]*actor.PID) {
	state.expected = make(map[string]bool, len(children))
	for id := range children {
		state.expected[id] = true
	}
	state.healthy = make(map[string]bool, len(children))
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	for id := range state.expected {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
