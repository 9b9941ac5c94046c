package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/util"
	"github.com/berfenger/surpluscharge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

type stubMaster struct {
	healthy bool
	silent  bool
}

func (s *stubMaster) Receive(ctx actor.Context) {
	if msg, ok := ctx.Message().(domain.ActorHealthRequest); ok && !s.silent {
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: s.healthy})
	}
}

func newTestHandler(t *testing.T, master *stubMaster) http.Handler {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return master }))

	s := &Server{
		rootContext:   as.Root,
		masterActor:   pid,
		healthTimeout: 200 * time.Millisecond,
	}
	return s.RegisterRoutes()
}

func TestHealthCheck(t *testing.T) {
	cases := map[string]struct {
		master *stubMaster
		status int
		body   string
	}{
		"healthy":   {&stubMaster{healthy: true}, http.StatusOK, "health_check: OK"},
		"unhealthy": {&stubMaster{healthy: false}, http.StatusServiceUnavailable, "health_check: FAIL"},
		"timeout":   {&stubMaster{silent: true}, http.StatusServiceUnavailable, "health_check: FAIL"},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			handler := newTestHandler(t, c.master)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
			assert.Equal(t, c.status, rec.Code)
			assert.Equal(t, c.body, rec.Body.String())
		})
	}
}

func TestHealthCheckIsReadOnly(t *testing.T) {
	handler := newTestHandler(t, &stubMaster{healthy: true})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthcheck", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tick", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServer(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Port = 8089
	srv := NewServer(cfg, nil, nil)
	assert.Equal(t, ":8089", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
