package clock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/algorand/go-deadlock"
	"golang.org/x/sync/errgroup"

	"timelock/internal/logging"
)

// DefaultInterval is the time between two sweeps.
const DefaultInterval = time.Second

// Options tune a Monitor. Zero values select the defaults.
type Options struct {
	Interval    time.Duration
	CallTimeout time.Duration
	// Now reads the local clock; MonotonicNanos by default.
	Now func() int64
}

// Monitor samples the clock of every peer once per interval and hands each
// pair of consecutive samples to a Comparer.
type Monitor struct {
	peers    map[string]ClockService
	comparer Comparer
	events   Events
	interval time.Duration
	timeout  time.Duration
	now      func() int64
	log      logging.Logger

	// sweepMu serializes sweeps; samples is only replaced while it is held.
	sweepMu deadlock.Mutex
	samples atomic.Pointer[map[string]RequestTime]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

// NewMonitor creates a monitor for peers. Call Start to begin sampling.
func NewMonitor(peers map[string]ClockService, comparer Comparer, events Events, opts Options, log logging.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CallTimeout <= 0 || opts.CallTimeout > opts.Interval {
		opts.CallTimeout = opts.Interval
	}
	if opts.Now == nil {
		opts.Now = MonotonicNanos
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		peers:    peers,
		comparer: comparer,
		events:   events,
		interval: opts.Interval,
		timeout:  opts.CallTimeout,
		now:      opts.Now,
		log:      log.With("component", "clock"),
		ctx:      ctx,
		cancel:   cancel,
	}
	empty := make(map[string]RequestTime, len(peers))
	for id := range peers {
		empty[id] = EmptyRequestTime
	}
	m.samples.Store(&empty)
	return m
}

// Samples returns the latest sample per peer. Unsampled peers map to
// EmptyRequestTime.
func (m *Monitor) Samples() map[string]RequestTime {
	cur := *m.samples.Load()
	out := make(map[string]RequestTime, len(cur))
	for id, s := range cur {
		out[id] = s
	}
	return out
}

// Start runs a sweep every interval until Stop is called.
func (m *Monitor) Start() {
	m.start.Do(func() {
		m.log.Infof("clock monitor started: %d peers every %v", len(m.peers), m.interval)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()

			for {
				select {
				case <-m.ctx.Done():
					return
				case <-ticker.C:
					m.runCycle()
				}
			}
		}()
	})
}

// Stop ends the sweep loop and waits for a running sweep to finish.
func (m *Monitor) Stop() {
	m.stop.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

func (m *Monitor) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			m.events.Exception("", fmt.Errorf("panic during clock sweep: %v", r))
		}
	}()
	m.Sweep(m.ctx)
}

type sample struct {
	peer string
	time RequestTime
	err  error
}

// Sweep samples every peer concurrently, compares each new sample with the
// peer's previous one and publishes the new samples. A failed sample is
// reported and leaves the peer's previous sample in place.
func (m *Monitor) Sweep(ctx context.Context) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// The group only fans the calls out. Per-peer errors travel in results,
	// so a failing peer never cancels or hides the samples of the others.
	results := make([]sample, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = m.sample(ctx, id)
			return nil
		})
	}
	g.Wait()

	prev := *m.samples.Load()
	next := make(map[string]RequestTime, len(prev))
	for id, s := range prev {
		next[id] = s
	}
	for _, s := range results {
		if s.err != nil {
			m.events.Exception(s.peer, s.err)
			continue
		}
		if last := prev[s.peer]; !last.IsEmpty() {
			m.compare(s.peer, last, s.time)
		}
		next[s.peer] = s.time
	}
	m.samples.Store(&next)
}

func (m *Monitor) sample(ctx context.Context, peer string) (s sample) {
	s.peer = peer
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("panic sampling %s: %v", peer, r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	remote, err := m.peers[peer].GetSystemTimeInNanos(callCtx)
	end := m.now()
	if err != nil {
		s.err = err
		return s
	}
	s.time = RequestTime{LocalTimeAtStart: start, LocalTimeAtEnd: end, RemoteSystemTime: remote}
	return s
}

func (m *Monitor) compare(peer string, previous, current RequestTime) {
	defer func() {
		if r := recover(); r != nil {
			m.events.Exception(peer, fmt.Errorf("panic comparing samples: %v", r))
		}
	}()
	m.comparer.Compare(peer, previous, current)
}
