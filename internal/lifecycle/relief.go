package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ReliefLoop periodically evicts idle models when resident usage exceeds
// the memory budget. Like the cache sweeper, it is an explicit task: the
// owner starts and stops it.
type ReliefLoop struct {
	coord    *Coordinator
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewReliefLoop creates a relief loop ticking at interval (default 30s).
func NewReliefLoop(coord *Coordinator, interval time.Duration, log zerolog.Logger) *ReliefLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReliefLoop{coord: coord, interval: interval, log: log}
}

// Start launches the loop. Calling Start on a running loop is a no-op.
func (l *ReliefLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
	l.log.Info().Dur("interval", l.interval).Msg("pressure relief loop started")
}

// Stop terminates the loop and waits for it to exit.
func (l *ReliefLoop) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (l *ReliefLoop) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if unloaded := l.coord.ApplyPressureRelief(); len(unloaded) > 0 {
				l.log.Info().Strs("models", unloaded).Msg("evicted under memory pressure")
			}
		case <-stop:
			return
		}
	}
}
