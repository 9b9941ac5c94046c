package actor

import (
	"context"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/quartz"
)

// Ticker delivers domain.ControlTickRequest to an actor until stopped.
type Ticker interface {
	Start(ctx actor.Context) error
	Stop()
}

// NewTicker returns a cron ticker when a schedule is configured, a fixed
// interval ticker otherwise.
func NewTicker(cfg config.ControlConfig) Ticker {
	if cfg.Schedule != "" {
		return &cronTicker{expression: cfg.Schedule}
	}
	return &intervalTicker{interval: time.Duration(cfg.FreqSeconds) * time.Second}
}

type intervalTicker struct {
	interval time.Duration
	cancel   scheduler.CancelFunc
}

func (t *intervalTicker) Start(ctx actor.Context) error {
	t.cancel = scheduler.NewTimerScheduler(ctx).SendRepeatedly(t.interval, t.interval, ctx.Self(), domain.ControlTickRequest{})
	return nil
}

func (t *intervalTicker) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

type cronTicker struct {
	expression string
	scheduler  quartz.Scheduler
	cancel     context.CancelFunc
}

func (t *cronTicker) Start(ctx actor.Context) error {
	trigger, err := quartz.NewCronTrigger(t.expression)
	if err != nil {
		return err
	}
	sched := quartz.NewStdScheduler()
	runCtx, cancel := context.WithCancel(context.Background())
	sched.Start(runCtx)

	job := &tickJob{root: ctx.ActorSystem().Root, target: ctx.Self()}
	if err := sched.ScheduleJob(quartz.NewJobDetail(job, quartz.NewJobKey("control-tick")), trigger); err != nil {
		cancel()
		sched.Stop()
		return err
	}
	t.scheduler = sched
	t.cancel = cancel
	return nil
}

func (t *cronTicker) Stop() {
	if t.scheduler == nil {
		return
	}
	t.scheduler.Stop()
	t.cancel()
	t.scheduler = nil
}

type tickJob struct {
	root   *actor.RootContext
	target *actor.PID
}

func (j *tickJob) Execute(_ context.Context) error {
	j.root.Send(j.target, domain.ControlTickRequest{})
	return nil
}

func (j *tickJob) Description() string {
	return "control-tick"
}

// ensure interface compliance
var _ quartz.Job = (*tickJob)(nil)
