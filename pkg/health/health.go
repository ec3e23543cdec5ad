// Package health runs background liveness and readiness probes and serves
// their state over HTTP.
//
// Every probe runs in its own goroutine. A probe turns unhealthy only after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes, so a single slow ping does not flap
// the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Kind selects the probe set a check belongs to.
type Kind uint8

const (
	// Liveness checks tell whether the process should be restarted.
	Liveness Kind = iota
	// Readiness checks tell whether the process should receive traffic.
	Readiness
)

func (k Kind) String() string {
	if k == Readiness {
		return "readiness"
	}
	return "liveness"
}

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Option customizes a registered check.
type Option func(*probe)

// WithTimeout bounds a single run of the check. Defaults to one second.
func WithTimeout(d time.Duration) Option {
	return func(p *probe) { p.timeout = d }
}

// WithThresholds sets how many consecutive failures mark the check unhealthy
// and how many consecutive successes restore it. Defaults to 3 and 1.
func WithThresholds(failure, success int) Option {
	return func(p *probe) {
		p.failureThreshold = max(failure, 1)
		p.successThreshold = max(success, 1)
	}
}

// Result is the last observed state of a check.
type Result struct {
	Healthy   bool
	Err       error
	CheckedAt time.Time
	Took      time.Duration
}

type probe struct {
	name             string
	kind             Kind
	check            CheckFunc
	timeout          time.Duration
	failureThreshold int
	successThreshold int

	result atomic.Pointer[Result]

	// Owned by the probe goroutine.
	fails, oks int
}

func (p *probe) run(ctx context.Context, now func() time.Time) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := now()
	err := p.check(ctx)
	healthy := p.result.Load().Healthy

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			healthy = false
		}
	} else {
		p.fails = 0
		p.oks++
		if p.oks >= p.successThreshold {
			healthy = true
		}
	}
	p.result.Store(&Result{Healthy: healthy, Err: err, CheckedAt: start, Took: now().Sub(start)})
}

// Health owns the registered probes and the manual readiness switch.
type Health struct {
	ready atomic.Bool
	now   func() time.Time

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Health that is not ready. Call SetReady(true) once the
// service has finished starting.
func New() *Health {
	return &Health{now: time.Now}
}

// Register adds a check of the given kind. Checks start healthy. Register
// must be called before Start.
func (h *Health) Register(kind Kind, name string, check CheckFunc, opts ...Option) {
	p := &probe{
		name:             name,
		kind:             kind,
		check:            check,
		timeout:          time.Second,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(p)
	}
	p.result.Store(&Result{Healthy: true})

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// Start runs every check once immediately and then on each interval tick
// until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append([]*probe(nil), h.probes...)
	h.mu.Unlock()

	for _, p := range probes {
		h.wg.Go(func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				p.run(ctx, h.now)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		})
	}
}

// Stop cancels the probe goroutines and waits for them to exit. It is safe
// to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// SetReady flips the manual readiness switch. It is turned off first during
// graceful shutdown so load balancers drain the instance.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Ready reports whether the switch is on and every readiness check passes.
func (h *Health) Ready() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// Results returns the last result of every check of the given kind.
func (h *Health) Results(kind Kind) map[string]Result {
	out := make(map[string]Result)
	for _, p := range h.snapshot(kind) {
		out[p.name] = *p.result.Load()
	}
	return out
}

func (h *Health) snapshot(kind Kind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*probe
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func (h *Health) failures(kind Kind) map[string]string {
	failed := make(map[string]string)
	for _, p := range h.snapshot(kind) {
		r := p.result.Load()
		if r.Healthy {
			continue
		}
		if r.Err != nil {
			failed[p.name] = r.Err.Error()
		} else {
			failed[p.name] = "check is unhealthy"
		}
	}
	return failed
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} when all liveness checks
// pass, otherwise 503 with the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, "ok", h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. Besides the readiness checks, it fails while
// the manual switch is off.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := h.failures(Readiness)
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, "ok", failed)
}

// StatusEndpoint serves the public health route with {"status":"healthy"}
// while the process is live.
func (h *Health) StatusEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, "healthy", h.failures(Liveness))
}

func writeStatus(w http.ResponseWriter, okStatus string, failed map[string]string) {
	status, code := okStatus, http.StatusOK
	if len(failed) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failed[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
