package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"call-signaling/internal/metrics"
)

const (
	DefaultSweepInterval   = 5 * time.Second
	DefaultSweepMaxBackoff = time.Minute
)

// Sweeper periodically expires overdue ringing sessions. It runs one pass
// immediately on Start so sessions orphaned by a restart are resolved
// without waiting a full interval.
type Sweeper struct {
	svc        *Service
	interval   time.Duration
	maxBackoff time.Duration
	log        *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewSweeper(svc *Service, interval, maxBackoff time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxBackoff < interval {
		maxBackoff = DefaultSweepMaxBackoff
		if maxBackoff < interval {
			maxBackoff = interval
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		svc:        svc,
		interval:   interval,
		maxBackoff: maxBackoff,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it more than once has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.svc.SweepExpired(ctx)
	metrics.ObserveSweep(time.Since(start), err)
	return n, err
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
		}

		n, err := s.RunOnce(ctx)
		next := s.interval
		if err != nil {
			failures++
			next = sweepBackoff(s.interval, failures, s.maxBackoff)
			s.log.Warn("ring sweep failed", "err", err, "failures", failures, "retry_in", next)
		} else {
			failures = 0
			if n > 0 {
				s.log.Info("ring sweep expired sessions", "count", n)
			}
		}
		timer.Reset(next)
	}
}

// sweepBackoff doubles base per consecutive failure, capped at max.
func sweepBackoff(base time.Duration, failures int, max time.Duration) time.Duration {
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
