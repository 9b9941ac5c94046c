package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"

	"github.com/asynkron/protoactor-go/actor"
)

// Server exposes the opt-in health endpoint. It is only started when a port is
// configured.
type Server struct {
	port          uint
	httpLog       bool
	healthTimeout time.Duration
	rootContext   *actor.RootContext
	masterActor   *actor.PID
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID) *http.Server {
	s := &Server{
		port:          cfg.Port,
		rootContext:   rootContext,
		masterActor:   masterActor,
		httpLog:       cfg.HttpLog,
		healthTimeout: 10 * time.Second,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
