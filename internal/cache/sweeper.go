package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper drives periodic TTL maintenance on a Store. It is an explicit
// task owned by whoever constructs the serving core; nothing starts it as an
// import side effect.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper ticking at interval (default 5 minutes).
func NewSweeper(store Store, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, log: log}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	s.log.Info().Dur("interval", s.interval).Msg("cache sweeper started")
}

// Stop terminates the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Sweeper) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.store.SweepExpired(); n > 0 {
				s.log.Debug().Int("expired", n).Msg("cache sweep")
			}
		case <-stop:
			return
		}
	}
}
