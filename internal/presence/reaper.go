package presence

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Reaper periodically evicts registry entries whose liveness signal has gone
// quiet for longer than the TTL. After each sweep that evicted anyone it
// emits a single roster broadcast, not one per eviction.
type Reaper struct {
	registry  *Registry
	ttl       time.Duration
	interval  time.Duration
	broadcast func()
	stop      chan struct{}
	done      chan struct{}
}

func NewReaper(registry *Registry, ttl, interval time.Duration, broadcast func()) *Reaper {
	return &Reaper{
		registry:  registry,
		ttl:       ttl,
		interval:  interval,
		broadcast: broadcast,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.run()
}

func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}

// Sweep runs one eviction cycle against a cutoff computed at cycle start.
func (r *Reaper) Sweep() {
	cutoff := time.Now().Add(-r.ttl)
	evicted := r.registry.Evict(cutoff)
	if len(evicted) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"evicted": evicted,
		"ttl":     r.ttl,
	}).Info("Reaped stale connections")

	r.broadcast()
}
