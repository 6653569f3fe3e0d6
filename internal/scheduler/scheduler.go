package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartpop/popup-analytics/pkg/logger"
)

// defaultResolution tick 간격. 가장 짧은 작업 주기보다 작아야 한다.
const defaultResolution = 10 * time.Second

// TaskFunc 주기적 작업 본문
type TaskFunc func(ctx context.Context) error

// ScheduledTask 등록된 주기적 작업
type ScheduledTask struct {
	Name      string
	Component string
	Interval  time.Duration
	Timeout   time.Duration
	Handler   TaskFunc
	LastRun   time.Time
	NextRun   time.Time
	RunCount  int64
	LastError error
}

// Scheduler in-process 주기 작업 실행기
type Scheduler struct {
	tasks      []*ScheduledTask
	mu         sync.RWMutex
	log        *zerolog.Logger
	resolution time.Duration
	now        func() time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithResolution sets how often due tasks are checked
func WithResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resolution = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New 스케줄러 생성
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:      make([]*ScheduledTask, 0),
		log:        logger.GetLogger(),
		resolution: defaultResolution,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register 주기적 작업 등록. timeout 0 이면 interval 을 상한으로 쓴다.
func (s *Scheduler) Register(component, name string, interval, timeout time.Duration, handler TaskFunc) {
	if timeout <= 0 {
		timeout = interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, &ScheduledTask{
		Name:      name,
		Component: component,
		Interval:  interval,
		Timeout:   timeout,
		Handler:   handler,
		NextRun:   s.now().Add(interval),
	})

	s.log.Info().
		Str("component", component).
		Str("task", name).
		Dur("interval", interval).
		Msg("scheduled task registered")
}

// Unregister 컴포넌트의 모든 작업 해제
func (s *Scheduler) Unregister(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.tasks[:0]
	for _, t := range s.tasks {
		if t.Component != component {
			filtered = append(filtered, t)
		}
	}
	s.tasks = filtered
}

// Start 스케줄러 시작 (백그라운드 goroutine). ctx 가 끝나거나 Stop 이 불리면 멈춘다.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.resolution)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, s.now())
			}
		}
	}()
	s.log.Info().Dur("resolution", s.resolution).Msg("scheduler started")
}

// Stop 스케줄러 중지. 실행 중인 작업이 끝날 때까지 기다린다.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow executes one task immediately regardless of its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.RLock()
	var target *ScheduledTask
	for _, t := range s.tasks {
		if t.Name == name {
			target = t
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		return false
	}
	s.run(ctx, target, s.now())
	return true
}

// tick 실행 대상 작업 체크 및 실행
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.RLock()
	tasks := make([]*ScheduledTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.RUnlock()

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		s.mu.RLock()
		due := !now.Before(task.NextRun)
		s.mu.RUnlock()
		if !due {
			continue
		}
		s.run(ctx, task, now)
	}
}

func (s *Scheduler) run(ctx context.Context, task *ScheduledTask, now time.Time) {
	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	start := time.Now()
	err := task.Handler(taskCtx)
	elapsed := time.Since(start)

	taskRuns.WithLabelValues(task.Name, outcome(err)).Inc()
	taskDuration.WithLabelValues(task.Name).Observe(elapsed.Seconds())

	if err != nil {
		s.log.Error().Err(err).
			Str("component", task.Component).
			Str("task", task.Name).
			Dur("elapsed", elapsed).
			Msg("scheduled task failed")
	} else {
		s.log.Debug().
			Str("task", task.Name).
			Dur("elapsed", elapsed).
			Msg("scheduled task finished")
	}

	s.mu.Lock()
	task.LastError = err
	task.LastRun = now
	task.NextRun = now.Add(task.Interval)
	task.RunCount++
	s.mu.Unlock()
}

// GetTasks 등록된 작업 목록 조회 (모니터링용)
func (s *Scheduler) GetTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		info := TaskInfo{
			Name:      t.Name,
			Component: t.Component,
			Interval:  t.Interval.String(),
			LastRun:   t.LastRun,
			NextRun:   t.NextRun,
			RunCount:  t.RunCount,
		}
		if t.LastError != nil {
			errMsg := t.LastError.Error()
			info.LastError = &errMsg
		}
		result = append(result, info)
	}
	return result
}

// TaskInfo 작업 정보 (JSON 응답용)
type TaskInfo struct {
	Name      string    `json:"name"`
	Component string    `json:"component"`
	Interval  string    `json:"interval"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	RunCount  int64     `json:"run_count"`
	LastError *string   `json:"last_error,omitempty"`
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
