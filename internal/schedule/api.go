package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pricebot/pkg/logx"
)

// AddSchedule registers a job under name, parsing spec as either a cron
// expression or an interval duration. Registering while stopped is allowed:
// the definition is kept and wired on the next Start.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.AddScheduleOpt(name, spec, timeout, TaskOptions{}, job)
}

func (s *Service) AddScheduleOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.addDef(name, ps.Cron, timeout, opt, job)
	case SpecInterval:
		return s.addDef(name, fmt.Sprintf("@every %s", ps.Every), timeout, opt, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.addDef(name, spec, timeout, TaskOptions{}, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.addDef(name, fmt.Sprintf("@every %s", every), timeout, TaskOptions{}, job)
}

func (s *Service) addDef(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	// Upsert by name so hot-reloads never double-register a job.
	_ = s.removeLocked(name)

	id := fmt.Sprintf("job:%d", time.Now().UnixNano())
	d := scheduleDef{
		id:      id,
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeout(timeout),
		job:     job,
		opt:     opt,
		state:   &runState{},
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		return id, nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return id, err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name), logx.String("id", id), logx.String("spec", spec), logx.Duration("timeout", d.timeout))
	return id, nil
}

// Remove unschedules every definition with the given name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(name)
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	eid, err := s.c.AddFunc(d.spec, func() { s.tick(d) })
	if err == nil {
		d.entryID = eid
	}
	return err
}

// tick is the cron callback: it applies the overlap policy and enqueues.
func (s *Service) tick(d *scheduleDef) {
	if d.opt.Overlap == OverlapSkipIfRunning && d.state.isRunning() {
		s.log.Debug("tick skipped, previous run still active", logx.String("task", d.name))
		return
	}
	s.enqueue(task{id: d.id, name: d.name, timeout: d.timeout, run: d.job, state: d.state})
}
