package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/events"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ControlActor runs one fetch, estimate, decide and apply cycle per tick.
// Ticks never overlap: a tick arriving while another is in flight is skipped.
type ControlActor struct {
	actorutil.ActorWithStates
	stash *actorutil.Stash

	config           config.ControlConfig
	ticker           Ticker
	telemetryActor   *actor.PID
	chargerActor     *actor.PID
	telemetryTimeout time.Duration
	chargerTimeout   time.Duration
	eventStream      *eventstream.EventStream
	logic            port.SetpointControlLogic
	memory           domain.ControllerMemory
	tick             *controlTick
	clock            clock.Clock

	logger *zap.Logger
}

type controlTick struct {
	id       uuid.UUID
	started  time.Time
	replyTo  *actor.PID
	snapshot *domain.PowerSnapshot
	charger  *domain.ChargerState
	decision *domain.ControlDecision
	err      error
	applied  bool
	// memory before the decision, restored when apply fails
	lastMemory domain.ControllerMemory
}

func NewControlActor(cfg *config.Config, telemetryActor, chargerActor *actor.PID, eventStream *eventstream.EventStream,
	logic port.SetpointControlLogic, logger *zap.Logger) *ControlActor {
	act := &ControlActor{
		config:           cfg.Control,
		ticker:           NewTicker(cfg.Control),
		telemetryActor:   telemetryActor,
		chargerActor:     chargerActor,
		telemetryTimeout: time.Duration(cfg.Telemetry.TimeoutMillis) * time.Millisecond,
		chargerTimeout:   time.Duration(cfg.Charger.TimeoutMillis) * time.Millisecond,
		eventStream:      eventStream,
		logic:            logic,
		clock:            clock.New(),
		stash:            &actorutil.Stash{},
		logger:           actorutil.ActorLogger(domain.ACTOR_ID_CONTROL, logger),
		ActorWithStates: actorutil.ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CStartingState{actor: act})
	return act
}

func (state *ControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// WithClock replaces the clock used for tick timing and decisions.
func (state *ControlActor) WithClock(c clock.Clock) *ControlActor {
	state.clock = c
	return state
}

// Memory returns a copy of the state carried between ticks.
func (state *ControlActor) Memory() domain.ControllerMemory {
	return state.memory
}

// Starting state

type CStartingState struct {
	actorutil.ActorState
	actor *ControlActor
}

func (state CStartingState) Name() string {
	return "starting"
}

func (state CStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("control@starting started")
		if err := state.actor.ticker.Start(ctx); err != nil {
			panic(err)
		}
		if state.actor.config.TickOnStart {
			ctx.Send(ctx.Self(), domain.ControlTickRequest{})
		}
		state.actor.Become(CIdleState{actor: state.actor})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.ticker.Stop()
	default:
		state.actor.logger.Debug("control@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type CIdleState struct {
	actorutil.ActorState
	actor *ControlActor
}

func (state CIdleState) Name() string {
	return "idle"
}

func (state CIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ControlTickRequest:
		state.actor.beginTick(ctx, msg)
	case domain.DrainRequest:
		state.actor.logger.Info("control@idle drained")
		state.actor.ticker.Stop()
		actorutil.ForRequest(msg).Respond(ctx, domain.DrainResponse{})
		state.actor.Become(CDrainedState{actor: state.actor})
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.actor.health())
	case *actor.Restarting:
		state.actor.ticker.Stop()
	case *actor.Stopping:
		state.actor.ticker.Stop()
	default:
		state.actor.logger.Debug("control@idle default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Awaiting telemetry state

type CAwaitTelemetryState struct {
	actorutil.ActorState
	actor *ControlActor
}

func (state CAwaitTelemetryState) Name() string {
	return "fetching"
}

func (state CAwaitTelemetryState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.FetchPowerFlowResponse:
		tick := state.actor.tick
		if msg.HasResponseError() {
			state.actor.logger.Warn("control@fetching telemetry error", zap.Stringer("tick", tick.id), zap.Error(msg.GetResponseError()))
			tick.err = msg.GetResponseError()
		} else {
			state.actor.logger.Debug("control@fetching FetchPowerFlowResponse", zap.Stringer("tick", tick.id))
			tick.snapshot = msg.Snapshot
			state.actor.publish(events.SnapshotToUpdateEvents(msg.Snapshot))
		}

		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor, domain.GetChargerStateRequest{}, state.actor.chargerTimeout+time.Second), func(err error) any {
			return domain.GetChargerStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: futureError(domain.ErrChargerUnreachable, err),
				},
			}
		})
		state.actor.Become(CAwaitChargerState{actor: state.actor})
	default:
		state.actor.busyReceive(ctx, state.Name())
	}
}

// Awaiting charger state

type CAwaitChargerState struct {
	actorutil.ActorState
	actor *ControlActor
}

func (state CAwaitChargerState) Name() string {
	return "reading-charger"
}

func (state CAwaitChargerState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetChargerStateResponse:
		tick := state.actor.tick
		if msg.HasResponseError() {
			state.actor.logger.Warn("control@reading-charger charger error", zap.Stringer("tick", tick.id), zap.Error(msg.GetResponseError()))
			if tick.err == nil {
				tick.err = msg.GetResponseError()
			}
		} else {
			state.actor.logger.Debug("control@reading-charger GetChargerStateResponse", zap.Stringer("tick", tick.id))
			tick.charger = msg.State
			state.actor.publish(events.ChargerStateToUpdateEvents(msg.State))
		}

		tick.lastMemory = state.actor.memory
		decision := state.actor.logic.Decide(&state.actor.memory, domain.ControlInput{
			Snapshot: tick.snapshot,
			Charger:  tick.charger,
			Now:      state.actor.clock.Now(),
		})
		tick.decision = &decision
		// a fallback without any fetch error comes from an outdated snapshot
		if tick.err == nil && decision.State == domain.STATE_FALLBACK_SAFE {
			tick.err = domain.ErrTelemetryStale
		}

		if tick.charger == nil || tick.charger.SetpointAmps == decision.TargetAmps {
			state.actor.finishTick(ctx)
			return
		}

		state.actor.logger.Info("control@reading-charger apply",
			zap.Stringer("tick", tick.id),
			zap.Int("from_amps", tick.charger.SetpointAmps),
			zap.Int("target_amps", decision.TargetAmps),
			zap.String("reason", string(decision.Reason)))
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor, domain.SetChargerAmpsRequest{TargetAmps: decision.TargetAmps}, state.actor.chargerTimeout+time.Second), func(err error) any {
			return domain.SetChargerAmpsResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: futureError(domain.ErrChargerUnreachable, err),
				},
				TargetAmps: decision.TargetAmps,
			}
		})
		state.actor.Become(CAwaitApplyState{actor: state.actor})
	default:
		state.actor.busyReceive(ctx, state.Name())
	}
}

// Awaiting apply state

type CAwaitApplyState struct {
	actorutil.ActorState
	actor *ControlActor
}

func (state CAwaitApplyState) Name() string {
	return "applying"
}

func (state CAwaitApplyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.SetChargerAmpsResponse:
		tick := state.actor.tick
		if msg.HasResponseError() {
			state.actor.logger.Warn("control@applying charger command failed", zap.Stringer("tick", tick.id),
				zap.Int("target_amps", msg.TargetAmps), zap.Error(msg.GetResponseError()))
			tick.err = msg.GetResponseError()
			// the next tick retries the same target instead of stepping past it
			state.actor.memory.LastTargetAmps = tick.lastMemory.LastTargetAmps
			state.actor.memory.ConsecutiveFailureCount = tick.lastMemory.ConsecutiveFailureCount + 1
		} else {
			tick.applied = true
		}
		state.actor.finishTick(ctx)
	default:
		state.actor.busyReceive(ctx, state.Name())
	}
}

// Drained state

type CDrainedState struct {
	actorutil.ActorState
	actor *ControlActor
}

func (state CDrainedState) Name() string {
	return "drained"
}

func (state CDrainedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ControlTickRequest:
		state.actor.logger.Debug("control@drained tick ignored")
		state.actor.skipTick(ctx, msg)
	case domain.DrainRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.DrainResponse{})
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.actor.health())
	default:
		state.actor.logger.Debug("control@drained default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ControlActor) beginTick(ctx actor.Context, msg domain.ControlTickRequest) {
	state.tick = &controlTick{
		id:      uuid.New(),
		started: state.clock.Now(),
	}
	if msg.ReplyTo() != nil || ctx.Sender() != nil {
		state.tick.replyTo = actorutil.ForRequest(msg).ReplyTo(ctx)
	}
	state.logger.Debug("control@idle tick", zap.Stringer("tick", state.tick.id))

	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.telemetryActor, domain.FetchPowerFlowRequest{}, state.telemetryTimeout+time.Second), func(err error) any {
		return domain.FetchPowerFlowResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: futureError(domain.ErrTelemetryUnreachable, err),
			},
		}
	})
	state.Become(CAwaitTelemetryState{actor: state})
}

func (state *ControlActor) finishTick(ctx actor.Context) {
	tick := state.tick
	state.tick = nil

	state.publish(events.DecisionToUpdateEvents(tick.decision, state.memory))
	state.eventStream.Publish(events.ErrorUpdateEvent(tick.err))

	fields := []zap.Field{
		zap.Stringer("tick", tick.id),
		zap.Int("target_amps", tick.decision.TargetAmps),
		zap.String("state", string(tick.decision.State)),
		zap.String("reason", string(tick.decision.Reason)),
		zap.Bool("applied", tick.applied),
		zap.Int("failures", state.memory.ConsecutiveFailureCount),
		zap.Duration("elapsed", state.clock.Since(tick.started)),
	}
	if tick.err != nil {
		state.logger.Warn("control tick done", append(fields, zap.String("error", domain.ErrorKind(tick.err)))...)
	} else {
		state.logger.Info("control tick done", fields...)
	}

	if tick.replyTo != nil {
		ctx.Send(tick.replyTo, domain.ControlTickResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: tick.err,
			},
			Decision: tick.decision,
			Memory:   state.memory,
		})
	}

	state.Become(CIdleState{actor: state})
	state.stash.UnstashAll(ctx)
}

// busyReceive handles what may arrive while a tick is in flight.
func (state *ControlActor) busyReceive(ctx actor.Context, stateName string) {
	switch msg := ctx.Message().(type) {
	case domain.ControlTickRequest:
		state.logger.Warn(fmt.Sprintf("control@%s tick skipped, previous tick still running", stateName))
		state.skipTick(ctx, msg)
	case domain.DrainRequest:
		state.logger.Info(fmt.Sprintf("control@%s drain requested, waiting for tick", stateName))
		state.ticker.Stop()
		state.stash.Stash(ctx, msg)
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.health())
	case *actor.Restarting:
		state.ticker.Stop()
	case *actor.Stopping:
		state.ticker.Stop()
	default:
		state.logger.Debug(fmt.Sprintf("control@%s default recv", stateName), zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ControlActor) skipTick(ctx actor.Context, msg domain.ControlTickRequest) {
	if msg.ReplyTo() == nil && ctx.Sender() == nil {
		return
	}
	actorutil.ForRequest(msg).Respond(ctx, domain.ControlTickResponse{
		Skipped: true,
		Memory:  state.memory,
	})
}

func (state *ControlActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_CONTROL,
		Healthy: true,
		State:   state.StateName(),
	}
}

func (state *ControlActor) publish(evs []domain.SensorUpdateEvent) {
	for _, ev := range evs {
		state.eventStream.Publish(ev)
	}
}

// futureError wraps an ask failure (timeout or dead letter) into the domain
// error of the collaborator.
func futureError(kind error, err error) error {
	return fmt.Errorf("%w: %s", kind, err)
}
