package actorutil

import (
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PipeToSelfWithRecover delivers the future result to the actor itself, or
// the message built by mapFn when the future fails or times out.
func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

// NewActorSystemWithZapLogger routes protoactor's own slog output through the
// zap logger, at the closest matching level.
func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)
	level := slogLevel(logger.Level())

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		}))
	}))
}

func slogLevel(level zapcore.Level) slog.Level {
	switch {
	case level <= zap.DebugLevel:
		return slog.LevelDebug
	case level == zap.InfoLevel:
		return slog.LevelInfo
	case level == zap.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}
