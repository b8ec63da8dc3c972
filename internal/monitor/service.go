package monitor

import (
	"context"
	"time"

	"pricebot/internal/schedule"
	logx "pricebot/pkg/logx"
)

// Config is the pipeline cadence configuration. Fast markets are polled on a
// plain interval, slow markets on a cron spec, and dispatch runs on its own
// interval so a slow poll pass cannot starve already-detected changes.
type Config struct {
	Enabled          bool
	FastInterval     time.Duration
	SlowSpec         string
	DispatchInterval time.Duration
	FastMarkets      []string
	SlowMarkets      []string
	FetchTimeout     time.Duration
	SendRatePerSec   float64
}

func (c Config) withDefaults() Config {
	if c.FastInterval <= 0 {
		c.FastInterval = 15 * time.Minute
	}
	if c.SlowSpec == "" {
		c.SlowSpec = "0 3,9,15 * * *"
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = c.FastInterval + time.Minute
	}
	if len(c.FastMarkets) == 0 {
		c.FastMarkets = []string{"onliner", "wildberries"}
	}
	if len(c.SlowMarkets) == 0 {
		c.SlowMarkets = []string{"remzona", "shate-mag", "21vek"}
	}
	return c
}

// Service owns the three pipeline jobs and registers them on the scheduler.
type Service struct {
	cfg        Config
	poller     *Poller
	dispatcher *Dispatcher
	log        logx.Logger
}

func NewService(cfg Config, poller *Poller, dispatcher *Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), poller: poller, dispatcher: dispatcher, log: log}
}

// Register wires the jobs. The scheduler's default overlap policy already
// guarantees at most one in-flight run per job.
func (s *Service) Register(sched *schedule.Service) error {
	if !s.cfg.Enabled {
		s.log.Info("monitor disabled; no jobs registered")
		return nil
	}
	fast := s.cfg.FastMarkets
	slow := s.cfg.SlowMarkets

	if _, err := sched.AddInterval("poll.fast", s.cfg.FastInterval, 0, func(ctx context.Context) error {
		return s.poller.Run(ctx, fast)
	}); err != nil {
		return err
	}
	if _, err := sched.AddSchedule("poll.slow", s.cfg.SlowSpec, 0, func(ctx context.Context) error {
		return s.poller.Run(ctx, slow)
	}); err != nil {
		return err
	}
	if _, err := sched.AddInterval("notify.dispatch", s.cfg.DispatchInterval, 0, func(ctx context.Context) error {
		return s.dispatcher.Run(ctx)
	}); err != nil {
		return err
	}
	s.log.Info("monitor jobs registered",
		logx.Duration("fast_interval", s.cfg.FastInterval),
		logx.String("slow_spec", s.cfg.SlowSpec),
		logx.Duration("dispatch_interval", s.cfg.DispatchInterval))
	return nil
}
