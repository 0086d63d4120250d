// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler implements L9: periodic, jittered ticks for a registry
// of named tasks (one selector per autograb spec, and the linker), per spec §4.7.
// Each task runs on its own jittered timer; ticks are dispatched without
// waiting for the previous one to finish, so a slow Run that outlives its
// own Interval can genuinely overlap with the next tick — singleflight
// collapses that overlap into the run already in progress rather than
// starting a second one, the same "skipped" outcome spec §4.7 calls for.
package scheduler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// jitterFraction is the ±10% spec §4.7 requires to avoid synchronized
// bursts across a freshly started daemon's tasks.
const jitterFraction = 0.10

// Task is one named periodic job. Run's context is cancelled when the
// scheduler stops; Run should return promptly once it observes that.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStatus is a point-in-time snapshot of one task's last tick, for the
// web UI's GET /api/status endpoint (SPEC_FULL.md §10.5).
type TaskStatus struct {
	Name        string
	Interval    time.Duration
	LastRunAt   time.Time
	LastErr     string
	LastSkipped bool
}

// Scheduler runs a registry of Tasks, each on its own jittered ticker.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []Task
	status map[string]TaskStatus

	group singleflight.Group

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{status: make(map[string]TaskStatus)}
}

// Status returns a snapshot of every registered task's last tick, ordered
// by registration.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		if st, ok := s.status[t.Name]; ok {
			out = append(out, st)
		} else {
			out = append(out, TaskStatus{Name: t.Name, Interval: t.Interval})
		}
	}
	return out
}

func (s *Scheduler) recordStatus(name string, interval time.Duration, err error, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name] = TaskStatus{
		Name:        name,
		Interval:    interval,
		LastRunAt:   time.Now(),
		LastErr:     errString(err),
		LastSkipped: skipped,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Start launches one loop per registered task. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range tasks {
		s.wg.Add(1)
		go s.runLoop(runCtx, t)
	}
}

// Stop cancels every task's context and waits for their loops to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, t Task) {
	defer s.wg.Done()

	for {
		interval, err := jitter(t.Interval, jitterFraction)
		if err != nil {
			log.Warn().Err(err).Str("task", t.Name).Msg("scheduler: jitter, falling back to unjittered interval")
			interval = t.Interval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick(ctx, t)
		}()
	}
}

// tick runs t.Run. Dispatched asynchronously from runLoop, so a tick for
// the same task name can genuinely still be running when the next one
// fires; group.Do collapses that second caller into the run already in
// flight instead of starting a fresh, overlapping one.
func (s *Scheduler) tick(ctx context.Context, t Task) {
	ran := false
	_, err, _ := s.group.Do(t.Name, func() (any, error) {
		ran = true
		return nil, t.Run(ctx)
	})
	if !ran {
		log.Debug().Str("task", t.Name).Msg("scheduler: tick collapsed into one already in flight")
		s.recordStatus(t.Name, t.Interval, nil, true)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("task", t.Name).Msg("scheduler: task tick failed")
	}
	s.recordStatus(t.Name, t.Interval, err, false)
}

// jitter returns a duration uniformly distributed in
// [base*(1-fraction), base*(1+fraction)].
func jitter(base time.Duration, fraction float64) (time.Duration, error) {
	if base <= 0 {
		return base, nil
	}

	span := int64(float64(base) * fraction * 2)
	if span <= 0 {
		return base, nil
	}

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("generate jitter: %w", err)
	}

	low := base - time.Duration(float64(base)*fraction)
	return low + time.Duration(n.Int64()), nil
}
