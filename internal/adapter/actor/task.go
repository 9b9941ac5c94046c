package actor

import (
	"time"

	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
)

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}

// pipeRequest runs fn in the background and pipes a backgroundTaskResult
// addressed to replyTo back to the actor. Failures, panics and timeouts are
// turned into a response by onError.
func pipeRequest[T any](ctx actor.Context, replyTo *actor.PID, timeout time.Duration, fn func() (*T, error), onError func(error) T) {
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, fn), mapTaskResult[T](replyTo)).
		Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: onError(err),
				replyTo: replyTo,
			}
		}).WithTimeout(timeout).PipeTo(ctx.Self())
}

// taskTimeout leaves room for the call's own deadline to fire first.
func taskTimeout(callTimeout time.Duration) time.Duration {
	return callTimeout + 500*time.Millisecond
}
