// Package housekeeping runs periodic maintenance on a cron schedule. The
// only job today prunes old message uploads.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"msgblast/internal/uploads"
	logx "msgblast/pkg/logx"
)

type Config struct {
	Dir    string
	MaxAge time.Duration
	// Schedule is a cron expression ("0 * * * *", "@hourly", "@every 30m")
	// or a bare Go duration ("30m").
	Schedule string
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	running bool
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "housekeeping")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    cfg,
	}
}

// NormalizeSchedule turns a bare duration into "@every d".
func NormalizeSchedule(raw string) string {
	s := strings.TrimSpace(raw)
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return "@every " + d.String()
	}
	return s
}

// Validate reports whether schedule can be registered.
func (s *Service) Validate(schedule string) error {
	if _, err := s.parser.Parse(NormalizeSchedule(schedule)); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := s.registerLocked(); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.running = true
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("housekeeping stop timed out")
	}
}

// Apply swaps in cfg and re-registers the job when running.
func (s *Service) Apply(cfg Config) error {
	if err := s.Validate(cfg.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if !s.running {
		return nil
	}
	s.c.Remove(s.entry)
	return s.registerLocked()
}

func (s *Service) registerLocked() error {
	spec := NormalizeSchedule(s.cfg.Schedule)
	id, err := s.c.AddFunc(spec, func() { s.PruneNow() })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	s.entry = id
	s.log.Debug("prune scheduled", logx.String("spec", spec), logx.Time("next", s.c.Entry(id).Next))
	return nil
}

// PruneNow runs the upload prune once and returns the number of removed files.
func (s *Service) PruneNow() int {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	n, err := uploads.Prune(cfg.Dir, cfg.MaxAge, s.now())
	if err != nil {
		s.log.Warn("upload prune failed", logx.String("dir", cfg.Dir), logx.Err(err))
	}
	if n > 0 {
		s.log.Info("uploads pruned", logx.String("dir", cfg.Dir), logx.Int("removed", n))
	}
	return n
}
