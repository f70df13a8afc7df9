package corruption

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"timelock/internal/logging"
	"timelock/internal/paxos"
	"timelock/internal/storage"
)

// DefaultHistoryWindow is the number of most recent sequences loaded per
// series and node.
const DefaultHistoryWindow = 500

// Record is what one node persisted at one sequence. Either side may be nil.
type Record struct {
	Seq      int64
	Learned  *paxos.Value
	Accepted *paxos.AcceptorState
}

// SeriesRecords are the records of one node, per series, ordered by sequence.
type SeriesRecords map[paxos.Series]SeriesLog

// SeriesLog is one node's records of one series. From is the lowest sequence
// the records cover; a missing record at or above From means the node has
// nothing at that sequence.
type SeriesLog struct {
	From    int64
	Records []Record
}

// NodeHistory is one node's records of one series.
type NodeHistory struct {
	Node    string
	From    int64
	Records []Record
}

// History is the cluster history per series.
type History map[paxos.Series][]NodeHistory

// HistoryProvider loads the history analyzed by the detector.
type HistoryProvider interface {
	GetHistory(ctx context.Context) (History, error)
}

// HistoryFetcher returns the recent records of a single node.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, window int) (SeriesRecords, error)
}

// LocalHistory reads this node's learner and acceptor logs.
type LocalHistory struct {
	store storage.Store
}

// NewLocalHistory returns a fetcher over store.
func NewLocalHistory(store storage.Store) *LocalHistory {
	return &LocalHistory{store: store}
}

// FetchHistory returns, for every series with learner or acceptor records,
// the last window sequences.
func (h *LocalHistory) FetchHistory(ctx context.Context, window int) (SeriesRecords, error) {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	seen := make(map[paxos.Series]struct{})
	for _, kind := range []storage.Kind{storage.KindLearner, storage.KindAcceptor} {
		keys, err := h.store.Series(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s series: %w", kind, err)
		}
		for _, k := range keys {
			seen[paxos.SeriesFromKey(k)] = struct{}{}
		}
	}

	out := make(SeriesRecords, len(seen))
	for series := range seen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log, err := h.seriesLog(series, window)
		if err != nil {
			return nil, err
		}
		out[series] = log
	}
	return out, nil
}

func (h *LocalHistory) seriesLog(series paxos.Series, window int) (SeriesLog, error) {
	learner, err := paxos.NewLocalLearner(h.store, series)
	if err != nil {
		return SeriesLog{}, err
	}
	acceptor, err := paxos.NewAcceptorLog(h.store, series)
	if err != nil {
		return SeriesLog{}, err
	}

	greatest := int64(-1)
	if seq, ok, err := learner.GreatestSeq(); err != nil {
		return SeriesLog{}, err
	} else if ok {
		greatest = seq
	}
	if seq, ok, err := acceptor.Greatest(); err != nil {
		return SeriesLog{}, err
	} else if ok && seq > greatest {
		greatest = seq
	}
	if greatest < 0 {
		return SeriesLog{}, nil
	}

	from := greatest - int64(window) + 1
	if from < 0 {
		from = 0
	}
	learned, err := learner.LearnedRange(from, greatest)
	if err != nil {
		return SeriesLog{}, err
	}
	accepted, err := acceptor.Range(from, greatest)
	if err != nil {
		return SeriesLog{}, err
	}

	bySeq := make(map[int64]*Record, len(learned)+len(accepted))
	record := func(seq int64) *Record {
		r, ok := bySeq[seq]
		if !ok {
			r = &Record{Seq: seq}
			bySeq[seq] = r
		}
		return r
	}
	for seq, v := range learned {
		v := v
		record(seq).Learned = &v
	}
	for seq, s := range accepted {
		s := s
		record(seq).Accepted = &s
	}

	log := SeriesLog{From: from, Records: make([]Record, 0, len(bySeq))}
	for _, r := range bySeq {
		log.Records = append(log.Records, *r)
	}
	sort.Slice(log.Records, func(i, j int) bool { return log.Records[i].Seq < log.Records[j].Seq })
	return log, nil
}

// LogHistoryProvider assembles the cluster history from the local logs and
// the logs of every remote node.
type LogHistoryProvider struct {
	localID string
	local   HistoryFetcher
	remotes map[string]HistoryFetcher
	window  int
	timeout time.Duration
	log     logging.Logger
}

// NewLogHistoryProvider creates a provider. timeout bounds each remote fetch.
func NewLogHistoryProvider(localID string, local HistoryFetcher, remotes map[string]HistoryFetcher, window int, timeout time.Duration, log logging.Logger) *LogHistoryProvider {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &LogHistoryProvider{
		localID: localID,
		local:   local,
		remotes: remotes,
		window:  window,
		timeout: timeout,
		log:     log.With("component", "corruption"),
	}
}

// GetHistory fetches every node's records concurrently. A remote that cannot
// be reached is left out of this cycle; a local failure fails the call.
func (p *LogHistoryProvider) GetHistory(ctx context.Context) (History, error) {
	type fetched struct {
		node    string
		records SeriesRecords
	}

	var (
		mu      sync.Mutex
		results []fetched
		wg      sync.WaitGroup
	)
	for id, f := range p.remotes {
		id, f := id, f
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			records, err := f.FetchHistory(callCtx, p.window)
			if err != nil {
				p.log.With("peer", id).Warnf("failed to fetch history: %v", err)
				return
			}
			mu.Lock()
			results = append(results, fetched{id, records})
			mu.Unlock()
		}()
	}

	local, err := p.local.FetchHistory(ctx, p.window)
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to load local history: %w", err)
	}
	results = append(results, fetched{p.localID, local})

	history := make(History)
	for _, r := range results {
		for series, log := range r.records {
			history[series] = append(history[series], NodeHistory{Node: r.node, From: log.From, Records: log.Records})
		}
	}
	for _, nodes := range history {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Node < nodes[j].Node })
	}
	return history, nil
}
