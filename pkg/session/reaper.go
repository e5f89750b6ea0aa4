package session

import (
	"context"
	"time"
)

// Reaper periodically removes invalid sessions from a store.
type Reaper struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartReaper runs Reap every interval until ctx is cancelled or Stop is called.
// A non-positive interval disables reaping and returns nil.
func (s *Store) StartReaper(ctx context.Context, interval time.Duration) *Reaper {
	if interval <= 0 {
		s.log.Debug("Session reaper disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Reaper{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.log.Info("Session reaper started", "interval", interval, "ttl_seconds", s.ttl)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			case <-ticker.C:
				if removed := s.Reap(); removed > 0 {
					s.log.Info("Reaped sessions", "count", removed, "remaining", s.Len())
				}
			}
		}
	}()

	return r
}

// Stop cancels the reaper and waits for its goroutine to exit.
func (r *Reaper) Stop() {
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}
