package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ChargerActor serializes calls to a ChargerSink. A state read never overlaps
// a command.
type ChargerActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	charger  port.ChargerSink
	timeout  time.Duration
	logger   *zap.Logger
}

func NewChargerActor(charger port.ChargerSink, timeout time.Duration, logger *zap.Logger) *ChargerActor {
	act := &ChargerActor{
		charger:  charger,
		timeout:  timeout,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_CHARGER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ChargerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ChargerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("charger@starting started")
		openCtx, cancel := context.WithTimeout(context.Background(), state.timeout)
		defer cancel()
		if err := state.charger.Open(openCtx); err != nil {
			state.logger.Error("charger@starting open failed", zap.Error(err))
			panic(err)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.charger.Close()
	default:
		state.logger.Debug("charger@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ChargerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("charger@default ActorHealthRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetChargerStateRequest:
		state.logger.Debug("charger@default GetChargerStateRequest")
		pipeRequest(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), taskTimeout(state.timeout), state.getState,
			func(err error) domain.GetChargerStateResponse {
				return domain.GetChargerStateResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: chargerError(err)},
				}
			})
		state.behavior.BecomeStacked(state.WaitingReceive)
	case domain.SetChargerAmpsRequest:
		state.logger.Debug("charger@default SetChargerAmpsRequest", zap.Int("target_amps", msg.TargetAmps))
		target := msg.TargetAmps
		pipeRequest(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), taskTimeout(state.timeout),
			func() (*domain.SetChargerAmpsResponse, error) {
				return state.setAmps(target)
			},
			func(err error) domain.SetChargerAmpsResponse {
				return domain.SetChargerAmpsResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: chargerError(err)},
					TargetAmps:         target,
				}
			})
		state.behavior.BecomeStacked(state.WaitingReceive)
	case domain.GetChargerInfoRequest:
		state.logger.Debug("charger@default GetChargerInfoRequest")
		pipeRequest(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), taskTimeout(state.timeout), state.getInfo,
			func(err error) domain.GetChargerInfoResponse {
				return domain.GetChargerInfoResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: chargerError(err)},
				}
			})
		state.behavior.BecomeStacked(state.WaitingReceive)
	case *actor.Restarting:
		state.charger.Close()
	case *actor.Stopping:
		state.charger.Close()
	default:
		state.logger.Debug("charger@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ChargerActor) WaitingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("charger@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER,
			Healthy: true,
			State:   "busy",
		})
	case *actor.Restarting:
		state.charger.Close()
	case *actor.Stopping:
		state.charger.Close()
	default:
		state.logger.Debug("charger@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ChargerActor) getState() (*domain.GetChargerStateResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.timeout)
	defer cancel()

	chargerState, err := state.charger.GetState(ctx)
	if err != nil {
		state.logger.Warn("charger state read failed", zap.Error(err))
		return nil, err
	}
	return &domain.GetChargerStateResponse{State: chargerState}, nil
}

func (state *ChargerActor) setAmps(target int) (*domain.SetChargerAmpsResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.timeout)
	defer cancel()

	if err := state.charger.SetAmps(ctx, target); err != nil {
		state.logger.Warn("charger command failed", zap.Int("target_amps", target), zap.Error(err))
		return nil, err
	}
	state.logger.Info("charger setpoint applied", zap.Int("target_amps", target))
	return &domain.SetChargerAmpsResponse{TargetAmps: target}, nil
}

func (state *ChargerActor) getInfo() (*domain.GetChargerInfoResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.timeout)
	defer cancel()

	info, err := state.charger.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.GetChargerInfoResponse{Info: info}, nil
}

func chargerError(err error) error {
	if errors.Is(err, domain.ErrChargerUnreachable) || errors.Is(err, domain.ErrChargerRejected) ||
		errors.Is(err, domain.ErrChargerUnauthenticated) || errors.Is(err, domain.ErrChargerNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrChargerUnreachable, err)
}
