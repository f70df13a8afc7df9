package corruption

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"timelock/internal/logging"
)

// DefaultInterval is the delay between two local analyses.
const DefaultInterval = 5 * time.Minute

// DefaultNotifyTimeout bounds a single peer notification.
const DefaultNotifyTimeout = 5 * time.Second

// Notifier tells peers that this node detected corruption.
type Notifier interface {
	NotifyRemoteServersOfCorruption(ctx context.Context) error
}

// Metrics exports the detectors' state.
type Metrics struct {
	status           *prometheus.GaugeVec
	cycles           *prometheus.CounterVec
	notifierFailures prometheus.Counter
}

// NewMetrics registers the corruption metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "timelock",
			Subsystem: "corruption",
			Name:      "status",
			Help:      "Corruption status by detector: 0 healthy, 1 detected locally, 2 reported by a peer.",
		}, []string{"detector"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timelock",
			Subsystem: "corruption",
			Name:      "cycles_total",
			Help:      "Local analysis cycles by result.",
		}, []string{"result"}),
		notifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timelock",
			Subsystem: "corruption",
			Name:      "notifier_failures_total",
			Help:      "Failed attempts to notify a peer of corruption.",
		}),
	}
	reg.MustRegister(m.status, m.cycles, m.notifierFailures)
	return m
}

func (m *Metrics) setStatus(detector string, s Status) {
	if m != nil {
		m.status.WithLabelValues(detector).Set(float64(s))
	}
}

func (m *Metrics) cycle(result string) {
	if m != nil {
		m.cycles.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) notifierFailed() {
	if m != nil {
		m.notifierFailures.Inc()
	}
}

// DetectorOptions tune a LocalDetector. Zero values select the defaults.
type DetectorOptions struct {
	Interval      time.Duration
	NotifyTimeout time.Duration
}

// LocalDetector periodically analyzes the cluster history.
type LocalDetector struct {
	provider      HistoryProvider
	clusterSize   int
	notifiers     []Notifier
	interval      time.Duration
	notifyTimeout time.Duration
	log           logging.Logger
	metrics       *Metrics

	report atomic.Pointer[HealthReport]
	status atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// StartLocalDetector creates a detector and starts its loop. The first
// analysis runs immediately; each later one starts interval after the
// previous one finished. metrics may be nil.
func StartLocalDetector(provider HistoryProvider, clusterSize int, notifiers []Notifier, opts DetectorOptions, log logging.Logger, metrics *Metrics) *LocalDetector {
	d := newLocalDetector(provider, clusterSize, notifiers, opts, log, metrics)
	d.wg.Add(1)
	go d.loop()
	return d
}

func newLocalDetector(provider HistoryProvider, clusterSize int, notifiers []Notifier, opts DetectorOptions, log logging.Logger, metrics *Metrics) *LocalDetector {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDetector{
		provider:      provider,
		clusterSize:   clusterSize,
		notifiers:     notifiers,
		interval:      opts.Interval,
		notifyTimeout: opts.NotifyTimeout,
		log:           log.With("component", "corruption"),
		metrics:       metrics,
		ctx:           ctx,
		cancel:        cancel,
	}
	healthy := HealthyReport()
	d.report.Store(&healthy)
	metrics.setStatus("local", Healthy)
	return d
}

func (d *LocalDetector) loop() {
	defer d.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
			d.runCycle(d.ctx)
			timer.Reset(d.interval)
		}
	}
}

// Stop ends the loop and waits for a running cycle.
func (d *LocalDetector) Stop() {
	d.stop.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
}

// ShouldRejectRequests reports whether this node detected corruption.
func (d *LocalDetector) ShouldRejectRequests() bool {
	return d.Status().ShouldRejectRequests()
}

// HealthReport returns the report of the last completed analysis.
func (d *LocalDetector) HealthReport() HealthReport {
	return *d.report.Load()
}

// Status returns the current status.
func (d *LocalDetector) Status() Status {
	return Status(d.status.Load())
}

func (d *LocalDetector) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.cycle("failed")
			d.log.Errorf("corruption analysis panicked: %v", r)
		}
	}()

	history, err := d.provider.GetHistory(ctx)
	if err != nil {
		d.metrics.cycle("failed")
		d.log.Errorf("failed to load history for corruption analysis: %v", err)
		return
	}

	report := Analyze(history, d.clusterSize)
	d.report.Store(&report)

	previous := d.Status()
	next := nextStatus(previous, report)
	d.status.Store(int32(next))
	d.metrics.setStatus("local", next)
	d.metrics.cycle("ok")

	if next != previous {
		d.log.WithFields(logging.Fields{"report": report.String(), "status": next.String()}).
			Error("definitive corruption detected, rejecting requests")
	}
	if next.ShouldRejectRequests() {
		d.notify(ctx)
	}
}

// notify calls every notifier once. A failing notifier does not stop the
// others.
func (d *LocalDetector) notify(ctx context.Context) {
	var wg sync.WaitGroup
	for i, n := range d.notifiers {
		i, n := i, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.metrics.notifierFailed()
					d.log.With("notifier", i).Errorf("corruption notifier panicked: %v", r)
				}
			}()
			callCtx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
			defer cancel()
			if err := n.NotifyRemoteServersOfCorruption(callCtx); err != nil {
				d.metrics.notifierFailed()
				d.log.With("notifier", i).Warnf("failed to notify peer of corruption: %v", err)
			}
		}()
	}
	wg.Wait()
}

// RemoteDetector records corruption reported by peers.
type RemoteDetector struct {
	status  atomic.Int32
	from    atomic.Pointer[string]
	log     logging.Logger
	metrics *Metrics
}

// NewRemoteDetector returns a healthy detector. metrics may be nil.
func NewRemoteDetector(log logging.Logger, metrics *Metrics) *RemoteDetector {
	metrics.setStatus("remote", Healthy)
	return &RemoteDetector{log: log.With("component", "corruption"), metrics: metrics}
}

// ReportCorruption records that peer from detected corruption. The status
// never returns to Healthy.
func (d *RemoteDetector) ReportCorruption(from string) {
	if d.status.Swap(int32(DefinitiveCorruptionDetectedByRemote)) == int32(Healthy) {
		d.from.Store(&from)
		d.metrics.setStatus("remote", DefinitiveCorruptionDetectedByRemote)
		d.log.With("peer", from).Error("peer reported definitive corruption, rejecting requests")
	}
}

// ReportedBy returns the first peer that reported corruption.
func (d *RemoteDetector) ReportedBy() (string, bool) {
	p := d.from.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Status returns the current status.
func (d *RemoteDetector) Status() Status {
	return Status(d.status.Load())
}

// ShouldRejectRequests reports whether a peer reported corruption.
func (d *RemoteDetector) ShouldRejectRequests() bool {
	return d.Status().ShouldRejectRequests()
}

// HealthCheck combines the local and remote detectors.
type HealthCheck struct {
	local  *LocalDetector
	remote *RemoteDetector
}

// NewHealthCheck combines local and remote.
func NewHealthCheck(local *LocalDetector, remote *RemoteDetector) *HealthCheck {
	return &HealthCheck{local: local, remote: remote}
}

// ShouldRejectRequests is the admission check of the request path.
func (h *HealthCheck) ShouldRejectRequests() bool {
	return h.local.ShouldRejectRequests() || h.remote.ShouldRejectRequests()
}

// Status returns the most severe status of the two detectors.
func (h *HealthCheck) Status() Status {
	local, remote := h.local.Status(), h.remote.Status()
	if remote.severity() > local.severity() {
		return remote
	}
	return local
}

// HealthReport returns the local detector's last report.
func (h *HealthCheck) HealthReport() HealthReport {
	return h.local.HealthReport()
}

// Summary is the JSON view served on the admin endpoint.
type Summary struct {
	Status               Status       `json:"status"`
	ShouldRejectRequests bool         `json:"shouldRejectRequests"`
	ReportedBy           string       `json:"reportedBy,omitempty"`
	Report               HealthReport `json:"report"`
}

// Summary returns the current state of both detectors.
func (h *HealthCheck) Summary() Summary {
	s := Summary{
		Status:               h.Status(),
		ShouldRejectRequests: h.ShouldRejectRequests(),
		Report:               h.HealthReport(),
	}
	s.ReportedBy, _ = h.remote.ReportedBy()
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%s (%s)", s.Status, s.Report)
}
