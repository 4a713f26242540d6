package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "studysched/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:    map[string]*scheduleDef{},
		running: map[string]bool{},
	}
}

// ParseSpec reports whether spec is a schedule Register would accept.
func (s *Service) ParseSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid interval %q", spec)
		}
		return nil
	}
	_, err := s.parser.Parse(spec)
	return err
}

// Register adds job, replacing any job with the same name.
func (s *Service) Register(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Spec = strings.TrimSpace(job.Spec)
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a func")
	}
	if err := s.ParseSpec(job.Spec); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[job.Name]; ok && s.c != nil {
		s.c.Remove(old.entryID)
	}
	d := &scheduleDef{job: job}
	s.defs[job.Name] = d
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A zone change restarts cron; toggling Enabled
// starts or stops triggering.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	was := s.cfg
	s.cfg = cfg
	started := s.c != nil
	if started && cfg.Enabled && location(was).String() != location(cfg).String() {
		s.restartLocked()
	}
	s.mu.Unlock()

	switch {
	case started && !cfg.Enabled:
		s.Stop(ctx)
	case !started && cfg.Enabled:
		s.Start(ctx)
	}
}

// Start begins triggering registered jobs. Runs use ctx as their parent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.ctx = ctx
	loc := location(s.cfg)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", d.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop stops triggering and waits for in-flight runs, bounded by ctx.
// Registered jobs are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs the named job synchronously, outside of its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, d.job)
}

// Schedules lists registered jobs sorted by name. Next/Prev are zero while stopped.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.job.Name, Spec: d.job.Spec}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	job := d.job
	parent := s.ctx
	fn := cron.FuncJob(func() {
		if err := s.run(parent, job); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Warn("job failed", logx.String("job", job.Name), logx.Err(err))
		}
	})

	if rest, ok := strings.CutPrefix(job.Spec, "@every"); ok {
		every, err := time.ParseDuration(strings.TrimSpace(rest))
		if err == nil && every > 0 {
			sched, jitter := everyWithSpread(every, time.Now().In(location(s.cfg)), job.Name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, fn)
			return nil
		}
	}
	d.startupSpread = 0
	eid, err := s.c.AddJob(job.Spec, fn)
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	loc := location(s.cfg)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		_ = s.addCronLocked(d)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) run(parent context.Context, job Job) error {
	s.rmu.Lock()
	if s.running[job.Name] {
		s.rmu.Unlock()
		s.log.Info("job skipped, previous run still active", logx.String("job", job.Name))
		return ErrJobRunning
	}
	s.running[job.Name] = true
	s.rmu.Unlock()
	defer func() {
		s.rmu.Lock()
		delete(s.running, job.Name)
		s.rmu.Unlock()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	s.log.Debug("job finished", logx.String("job", job.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
	return err
}

func location(cfg Config) *time.Location {
	if cfg.Location == nil {
		return time.UTC
	}
	return cfg.Location
}
