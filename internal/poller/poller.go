// Package poller refreshes a screen on a schedule. Each task runs once right
// away and then on every tick, never overlapping itself, until its context is
// cancelled or it is stopped.
package poller

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task is one periodic refresh. OnResult, if set, receives the outcome of
// every run that finished while the task was still active.
type Task struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
	OnResult func(err error)
}

type Poller struct {
	log     zerolog.Logger
	metrics *Metrics
}

type Option func(*Poller)

func WithLogger(l zerolog.Logger) Option { return func(p *Poller) { p.log = l } }

func WithMetrics(m *Metrics) Option { return func(p *Poller) { p.metrics = m } }

func New(opts ...Option) *Poller {
	p := &Poller{log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle controls a started task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task and waits until no run is executing. A run that was
// in flight sees its context cancelled and its result is discarded.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the task has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start schedules t. The task stops when ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context, t Task) *Handle {
	if t.Schedule == nil {
		t.Schedule = Every(DefaultInterval)
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	log := p.log.With().Str("task", t.Name).Logger()

	g := &guard{
		sem: make(chan struct{}, 1),
		run: func() { p.runOnce(ctx, log, t) },
		skip: func() {
			p.metrics.skip(t.Name)
			log.Debug().Msg("previous run still in flight, skipping tick")
		},
	}
	c := cron.New(
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	c.Schedule(t.Schedule, g)

	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		g.Run()
	}()
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		first.Wait()
		close(h.done)
	}()
	return h
}

func (p *Poller) runOnce(ctx context.Context, log zerolog.Logger, t Task) {
	if ctx.Err() != nil {
		return
	}
	err := safeRun(ctx, t.Run)
	if ctx.Err() != nil {
		p.metrics.run(t.Name, "cancelled")
		return
	}
	if err != nil {
		p.metrics.run(t.Name, "error")
		log.Debug().Err(err).Msg("poll failed")
	} else {
		p.metrics.run(t.Name, "ok")
	}
	if t.OnResult != nil {
		t.OnResult(err)
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// guard is a cron.Job that drops a tick while the previous run still holds
// the slot.
type guard struct {
	sem  chan struct{}
	run  func()
	skip func()
}

func (g *guard) Run() {
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
		g.run()
	default:
		g.skip()
	}
}

// cronLogger routes robfig/cron's logging into zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
