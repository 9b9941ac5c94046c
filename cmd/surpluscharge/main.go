package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/surpluscharge/internal/adapter/actor"
	"github.com/berfenger/surpluscharge/internal/adapter/emporia"
	"github.com/berfenger/surpluscharge/internal/adapter/solaredge"
	"github.com/berfenger/surpluscharge/internal/adapter/sunspec"
	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/actor"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/core/port"
	"github.com/berfenger/surpluscharge/internal/core/service"
	"github.com/berfenger/surpluscharge/internal/server"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EXIT_CONFIG = 2
	// drain waits at most this long for the in-flight tick
	drainTimeout = time.Minute
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("could not load .env", "error", err)
	}

	// load and print config
	cfg, err := config.Load(os.Args[1:], os.Stdout)
	switch {
	case errors.Is(err, pflag.ErrHelp):
		return
	case errors.Is(err, config.ErrVersion):
		fmt.Println("surpluscharge", versioninfo.Short())
		return
	case err != nil:
		slog.Error("config errors", "error", err)
		os.Exit(EXIT_CONFIG)
	}
	slog.Info("Using", "config", cfg.Redacted(), "version", versioninfo.Short())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	source, err := telemetrySource(cfg, logger)
	if err != nil {
		slog.Error("telemetry source", "error", err)
		os.Exit(EXIT_CONFIG)
	}
	charger := emporia.NewCharger(cfg.Emporia, cfg.Charger, logger)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	logic := service.NewSetpointControlLogic(cfg.Control, logger)
	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg,
			telemetryActorProvider(cfg, source, logger),
			chargerActorProvider(cfg, charger, logger),
			mqttActorProvider(cfg, logger),
			logic, logger)
	})
	pid, err := root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		slog.Error("spawning master actor", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Port > 0 {
		apiServer := server.NewServer(*cfg, root, pid)
		g.Go(func() error {
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			// The context is used to inform the server it has 5 seconds to finish
			// the request it is currently handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return apiServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down gracefully, press Ctrl+C again to force")
		stop()
		if _, err := root.RequestFuture(pid, domain.DrainRequest{}, drainTimeout).Result(); err != nil {
			logger.Warn("drain did not complete", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("exiting", zap.Error(err))
	}

	if err := root.StopFuture(pid).Wait(); err != nil {
		logger.Warn("stopping master actor", zap.Error(err))
	}
	as.Shutdown()
	log.Println("Graceful shutdown complete.")
}

func telemetrySource(cfg *config.Config, logger *zap.Logger) (port.TelemetrySource, error) {
	timeout := time.Duration(cfg.Telemetry.TimeoutMillis) * time.Millisecond
	switch cfg.Telemetry.Source {
	case config.TELEMETRY_SOURCE_SUNSPEC:
		return sunspec.NewSource(cfg.SunSpec, timeout, logger)
	default:
		return solaredge.NewSource(cfg.SolarEdge, timeout, logger), nil
	}
}

func telemetryActorProvider(cfg *config.Config, source port.TelemetrySource, logger *zap.Logger) actor.TelemetryActorProvider {
	timeout := time.Duration(cfg.Telemetry.TimeoutMillis) * time.Millisecond
	return func() *adactor.TelemetryActor {
		return adactor.NewTelemetryActor(source, timeout, logger)
	}
}

func chargerActorProvider(cfg *config.Config, charger port.ChargerSink, logger *zap.Logger) actor.ChargerActorProvider {
	timeout := time.Duration(cfg.Charger.TimeoutMillis) * time.Millisecond
	return func() *adactor.ChargerActor {
		return adactor.NewChargerActor(charger, timeout, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enabled() {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}
