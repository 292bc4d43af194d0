package connection

import (
	"sync"
	"time"

	"github.com/tether-protocol/tether-go/pkg/timer"
)

// Prober performs one liveness round-trip and resolves fn with the
// measured delay or an error. Satisfied by engine.Engine.
type Prober interface {
	Probe(fn func(rtt time.Duration, err error))
}

// MonitorCallbacks receives liveness outcomes. All callbacks are
// required and are invoked without the monitor lock held.
type MonitorCallbacks struct {
	// OnSuccess fires per successful probe with its round-trip time.
	OnSuccess func(rtt time.Duration)

	// OnFailure fires per failed probe with the consecutive-failure
	// count including this failure.
	OnFailure func(consecutive int, err error)

	// OnThreshold fires once the consecutive-failure count reaches the
	// threshold. The owner is expected to end the session; the monitor
	// stops probing and does not reset its counter.
	OnThreshold func(consecutive int)
}

// Monitor issues periodic liveness probes through the protocol engine
// and tracks consecutive failures. Its state is scoped to one open
// session: Start resets everything, and an epoch counter makes probe
// resolutions from a superseded run inert.
type Monitor struct {
	sched     timer.Scheduler
	prober    Prober
	interval  func() time.Duration
	threshold func() int
	cb        MonitorCallbacks

	mu       sync.Mutex
	epoch    uint64
	failures int
	running  bool
	probe    timer.Handle
}

// NewMonitor creates a liveness monitor. interval and threshold are
// read at each scheduling decision, so configuration changes apply from
// the next probe onward.
func NewMonitor(sched timer.Scheduler, prober Prober, interval func() time.Duration, threshold func() int, cb MonitorCallbacks) *Monitor {
	return &Monitor{
		sched:     sched,
		prober:    prober,
		interval:  interval,
		threshold: threshold,
		cb:        cb,
	}
}

// Start begins probing for a new session. The first probe fires after
// firstDelay - typically zero, so a fresh session is validated
// immediately - and subsequent probes follow the configured interval.
func (m *Monitor) Start(firstDelay time.Duration) {
	m.mu.Lock()
	m.epoch++
	m.failures = 0
	m.running = true
	if m.probe != nil {
		m.probe.Stop()
	}
	epoch := m.epoch
	m.probe = m.sched.AfterFunc(firstDelay, func() {
		m.fire(epoch)
	})
	m.mu.Unlock()
}

// Stop cancels probing. No further probes are issued and in-flight
// probe resolutions are discarded.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.epoch++
	m.running = false
	if m.probe != nil {
		m.probe.Stop()
		m.probe = nil
	}
	m.mu.Unlock()
}

// Reset clears the consecutive-failure counter.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
}

// Failures returns the current consecutive-failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// fire issues one probe if this timer still belongs to the active run.
func (m *Monitor) fire(epoch uint64) {
	m.mu.Lock()
	if !m.running || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.prober.Probe(func(rtt time.Duration, err error) {
		m.resolve(epoch, rtt, err)
	})
}

// resolve processes one probe outcome.
func (m *Monitor) resolve(epoch uint64, rtt time.Duration, err error) {
	m.mu.Lock()
	if !m.running || epoch != m.epoch {
		// Stale resolution from a superseded session.
		m.mu.Unlock()
		return
	}

	if err == nil {
		m.failures = 0
		m.scheduleNextLocked(epoch)
		m.mu.Unlock()
		m.cb.OnSuccess(rtt)
		return
	}

	m.failures++
	n := m.failures
	hitThreshold := n >= m.threshold()
	if !hitThreshold {
		m.scheduleNextLocked(epoch)
	}
	m.mu.Unlock()

	m.cb.OnFailure(n, err)
	if hitThreshold {
		m.cb.OnThreshold(n)
	}
}

func (m *Monitor) scheduleNextLocked(epoch uint64) {
	m.probe = m.sched.AfterFunc(m.interval(), func() {
		m.fire(epoch)
	})
}
