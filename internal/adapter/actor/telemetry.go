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

// TelemetryActor serializes calls to a TelemetrySource. Requests received
// while a fetch is in flight are stashed.
type TelemetryActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	source   port.TelemetrySource
	timeout  time.Duration
	logger   *zap.Logger
}

func NewTelemetryActor(source port.TelemetrySource, timeout time.Duration, logger *zap.Logger) *TelemetryActor {
	act := &TelemetryActor{
		source:   source,
		timeout:  timeout,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_TELEMETRY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *TelemetryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *TelemetryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("telemetry@starting started")
		if err := state.source.Open(); err != nil {
			panic(err)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.source.Close()
	default:
		state.logger.Debug("telemetry@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *TelemetryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("telemetry@default ActorHealthRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   "idle",
		})
	case domain.FetchPowerFlowRequest:
		state.logger.Debug("telemetry@default FetchPowerFlowRequest")
		pipeRequest(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), taskTimeout(state.timeout), state.fetchPowerFlow,
			func(err error) domain.FetchPowerFlowResponse {
				return domain.FetchPowerFlowResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: telemetryError(err),
					},
				}
			})
		state.behavior.BecomeStacked(state.WaitingReceive)
	case *actor.Restarting:
		state.source.Close()
	case *actor.Stopping:
		state.source.Close()
	default:
		state.logger.Debug("telemetry@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *TelemetryActor) WaitingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("telemetry@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   "fetching",
		})
	case *actor.Restarting:
		state.source.Close()
	case *actor.Stopping:
		state.source.Close()
	default:
		state.logger.Debug("telemetry@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *TelemetryActor) fetchPowerFlow() (*domain.FetchPowerFlowResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.timeout)
	defer cancel()

	snapshot, err := state.source.FetchPowerFlow(ctx)
	if err != nil {
		state.logger.Warn("telemetry fetch failed", zap.Error(err))
		return nil, err
	}
	return &domain.FetchPowerFlowResponse{Snapshot: snapshot}, nil
}

// telemetryError keeps the error taxonomy for timeouts and panics.
func telemetryError(err error) error {
	if errors.Is(err, domain.ErrTelemetryUnavailable) || errors.Is(err, domain.ErrTelemetryStale) {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrTelemetryUnreachable, err)
}
