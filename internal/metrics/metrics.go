package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"sastabazar-be/internal/utils"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry holds named counters and the cumulative latency of gateway calls.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	latency  map[string]*Counter // total milliseconds
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		latency:  make(map[string]*Counter),
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; !ok {
		c = &Counter{}
		r.counters[name] = c
	}
	return c
}

func (r *Registry) Inc(name string) {
	r.Counter(name).Inc()
}

// Observe records the elapsed time of t under name and bumps its call counter.
func (r *Registry) Observe(name string, t *Timer) {
	r.Inc(name + ".calls")

	r.mu.Lock()
	c, ok := r.latency[name]
	if !ok {
		c = &Counter{}
		r.latency[name] = c
	}
	r.mu.Unlock()

	c.Add(uint64(t.Duration().Milliseconds()))
}

func (r *Registry) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]uint64, len(r.counters)+len(r.latency))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	for name, c := range r.latency {
		out[name+".latency_ms_total"] = c.Load()
	}
	return out
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.WriteJSON(w, http.StatusOK, r.Snapshot())
	})
}
