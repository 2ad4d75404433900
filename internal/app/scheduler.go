package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReminderDispatcher sends the reminders due at now.
type ReminderDispatcher interface {
	DispatchReminders(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs the reminder sweep in the background.
type Scheduler struct {
	reminders ReminderDispatcher
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler sweeps reminders every interval.
func NewScheduler(reminders ReminderDispatcher, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		reminders: reminders,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the first sweep immediately, then one per interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("reminder_interval", s.interval))

	s.wg.Add(1)
	go s.runReminderTask(ctx)
}

// Stop ends the background task and waits for a running sweep.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Scheduler) runReminderTask(ctx context.Context) {
	defer s.wg.Done()

	s.sendReminders(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sendReminders(ctx)
		case <-s.stopChan:
			s.logger.Info("Reminder task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Reminder task cancelled")
			return
		}
	}
}

func (s *Scheduler) sendReminders(ctx context.Context) {
	sent, err := s.reminders.DispatchReminders(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("Failed to dispatch reminders", zap.Error(err))
		return
	}
	s.logger.Debug("Reminder sweep completed", zap.Int("sent", sent))
}
