package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUPERVISOR - restart policy for long-running tasks
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every long-lived component runs as a supervised task:
//   - returning nil ends the task (intentional completion)
//   - returning an error or panicking restarts it after a cooldown that
//     doubles up to a cap and resets once a run stays healthy long enough
//   - context cancellation unwinds everything within the stop grace period
// ═══════════════════════════════════════════════════════════════════════════════

// RunFunc is one supervised task body. It must honor ctx cancellation.
type RunFunc func(ctx context.Context) error

type task struct {
	name string
	run  RunFunc

	mu       sync.Mutex
	restarts int
	lastErr  error
}

// Supervisor owns the lifecycle of all registered tasks.
type Supervisor struct {
	mu sync.Mutex

	tasks   []*task
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool

	minCooldown  time.Duration
	maxCooldown  time.Duration
	healthyAfter time.Duration
}

// NewSupervisor creates a supervisor with a 1s→30s restart cooldown window.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		minCooldown:  time.Second,
		maxCooldown:  30 * time.Second,
		healthyAfter: 5 * time.Minute,
	}
}

// Add registers a task. Must be called before Start.
func (s *Supervisor) Add(name string, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Error().Str("task", name).Msg("❌ Add after Start ignored")
		return
	}
	s.tasks = append(s.tasks, &task{name: name, run: run})
}

// Start launches every registered task.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	tasks := s.tasks
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go s.supervise(ctx, t)
	}
	log.Info().Int("tasks", len(tasks)).Msg("⚡ Supervisor started")
}

// Stop cancels all tasks and waits up to grace for them to unwind.
func (s *Supervisor) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("✅ All tasks stopped")
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("⚠️ Stop grace period elapsed with tasks still running")
	}
}

// Restarts reports per-task restart counts for health output.
func (s *Supervisor) Restarts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out[t.name] = t.restarts
		t.mu.Unlock()
	}
	return out
}

func (s *Supervisor) supervise(ctx context.Context, t *task) {
	defer s.wg.Done()

	cooldown := s.minCooldown
	for {
		started := time.Now()
		err := runSafely(ctx, t.run)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Info().Str("task", t.name).Msg("Task finished")
			return
		}

		if time.Since(started) >= s.healthyAfter {
			cooldown = s.minCooldown
		}

		t.mu.Lock()
		t.restarts++
		t.lastErr = err
		restarts := t.restarts
		t.mu.Unlock()

		log.Error().
			Err(err).
			Str("task", t.name).
			Int("restarts", restarts).
			Dur("cooldown", cooldown).
			Msg("❌ Task failed, restarting after cooldown")

		select {
		case <-ctx.Done():
			return
		case <-time.After(cooldown):
		}

		cooldown *= 2
		if cooldown > s.maxCooldown {
			cooldown = s.maxCooldown
		}
	}
}

func runSafely(ctx context.Context, run RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}
