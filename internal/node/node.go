package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"timelock/internal/clock"
	"timelock/internal/config"
	"timelock/internal/corruption"
	"timelock/internal/learner"
	"timelock/internal/logging"
	"timelock/internal/paxos"
	"timelock/internal/quorum"
	"timelock/internal/repair"
	"timelock/internal/rpc"
	"timelock/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Node represents a single node in the timelock cluster.
type Node struct {
	cfg        *config.Config
	log        logging.Logger
	leaderUUID uuid.UUID

	store     *storage.PebbleStore
	learners  *rpc.LearnerRegistry
	clientMgr *rpc.ClientManager
	registry  *prometheus.Registry

	leader   *learner.NetworkClient
	catchUp  *repair.CatchUp
	skew     *clock.Monitor
	history  *corruption.LocalHistory
	provider corruption.HistoryProvider
	notify   []corruption.Notifier
	cmetrics *corruption.Metrics
	remote   *corruption.RemoteDetector
	local    *corruption.LocalDetector
	health   *corruption.HealthCheck

	grpcServer  *grpc.Server
	adminServer *http.Server
	addr        net.Addr

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a node from cfg. Defaults must already be applied. dialOpts are
// added to every peer connection.
func New(cfg *config.Config, log logging.Logger, dialOpts ...grpc.DialOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log = log.With("node", cfg.NodeID)

	store, err := storage.Open(cfg.DataDir, cfg.InMemory)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:        cfg,
		log:        log,
		leaderUUID: uuid.New(),
		store:      store,
		learners:   rpc.NewLearnerRegistry(store),
		clientMgr:  rpc.NewClientManager(dialOpts...),
		registry:   prometheus.NewRegistry(),
		history:    corruption.NewLocalHistory(store),
		stopped:    make(chan struct{}),
	}
	n.registry.MustRegister(collectors.NewGoCollector())

	if err := n.wire(); err != nil {
		n.clientMgr.Close()
		store.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) wire() error {
	cfg := n.cfg

	localLeader, err := n.learners.Get(paxos.LeaderSeries)
	if err != nil {
		return err
	}

	learners := make(map[string]paxos.Learner)
	clocks := make(map[string]clock.ClockService)
	fetchers := make(map[string]corruption.HistoryFetcher)
	for _, p := range cfg.Remotes() {
		conn, err := n.clientMgr.Conn(p.Addr)
		if err != nil {
			return fmt.Errorf("peer %s: %w", p.ID, err)
		}
		learners[p.ID] = rpc.NewLearnerClient(conn, paxos.LeaderSeries)
		clocks[p.ID] = rpc.NewClockClient(conn)
		c := rpc.NewCorruptionClient(conn, cfg.NodeID)
		fetchers[p.ID] = c
		n.notify = append(n.notify, c)
	}

	env := quorum.NewEnvironment[paxos.Learner](cfg.NodeID, localLeader, learners, cfg.MaxConcurrentPerPeer)
	params := quorum.Params{QuorumSize: cfg.QuorumSize(), Timeout: cfg.QuorumTimeout, CancelRemainingCalls: true}
	n.leader, err = learner.NewNetworkClient(paxos.LeaderSeries, env, params, n.log, quorum.NewMetrics(n.registry))
	if err != nil {
		return err
	}
	n.catchUp = repair.NewCatchUp(localLeader, n.leader, n.log)

	events := clock.NewLoggedEvents(n.log, n.registry, cfg.SkewThreshold)
	n.skew = clock.NewMonitor(clocks, clock.NewSkewComparer(events), events, clock.Options{Interval: cfg.SkewInterval}, n.log)

	n.provider = corruption.NewLogHistoryProvider(cfg.NodeID, n.history, fetchers, cfg.HistoryWindow, cfg.QuorumTimeout, n.log)
	n.cmetrics = corruption.NewMetrics(n.registry)
	n.remote = corruption.NewRemoteDetector(n.log, n.cmetrics)
	return nil
}

// Start listens on the configured address and starts every background loop.
func (n *Node) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}
	return n.StartOn(ctx, lis)
}

// StartOn is Start on an existing listener. The node stops when ctx is done
// or Stop is called.
func (n *Node) StartOn(ctx context.Context, lis net.Listener) error {
	n.addr = lis.Addr()

	n.local = corruption.StartLocalDetector(n.provider, n.cfg.ClusterSize(), n.notify,
		corruption.DetectorOptions{Interval: n.cfg.CorruptionInterval, NotifyTimeout: n.cfg.QuorumTimeout}, n.log, n.cmetrics)
	n.health = corruption.NewHealthCheck(n.local, n.remote)

	n.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(rpc.AdmissionInterceptor(n.health.ShouldRejectRequests)))
	rpc.RegisterLearnerService(n.grpcServer, rpc.NewLearnerServer(n.learners))
	rpc.RegisterClockService(n.grpcServer, rpc.NewClockServer(clock.SystemClock{}))
	rpc.RegisterCorruptionService(n.grpcServer, rpc.NewCorruptionServer(n.remote, n.history))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.grpcServer.Serve(lis); err != nil {
			n.log.Errorf("grpc server stopped: %v", err)
		}
	}()

	n.skew.Start()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		runCtx, cancel := context.WithTimeout(ctx, n.cfg.QuorumTimeout)
		defer cancel()
		if _, err := n.catchUp.Run(runCtx); err != nil {
			n.log.Warnf("startup catch-up failed: %v", err)
		}
	}()

	if n.cfg.AdminAddr != "" {
		adminLis, err := net.Listen("tcp", n.cfg.AdminAddr)
		if err != nil {
			n.Stop()
			return fmt.Errorf("failed to listen on admin address %s: %w", n.cfg.AdminAddr, err)
		}
		n.adminServer = &http.Server{Handler: n.AdminHandler(), ReadHeaderTimeout: 5 * time.Second}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.adminServer.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.Errorf("admin server stopped: %v", err)
			}
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
			n.Stop()
		case <-n.stopped:
		}
	}()

	n.log.Infof("node started on %s, cluster size %d, leader uuid %s", n.addr, n.cfg.ClusterSize(), n.leaderUUID)
	return nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		defer close(n.stopped)
		n.log.Info("stopping node")
		if n.skew != nil {
			n.skew.Stop()
		}
		if n.local != nil {
			n.local.Stop()
		}
		if n.adminServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			n.adminServer.Shutdown(ctx)
			cancel()
		}
		if n.grpcServer != nil {
			n.grpcServer.GracefulStop()
		}
		n.wg.Wait()
		if err := n.clientMgr.Close(); err != nil {
			n.log.Warnf("failed to close peer connections: %v", err)
		}
		if err := n.store.Close(); err != nil {
			n.log.Warnf("failed to close store: %v", err)
		}
	})
}

// CatchUp learns locally every leader value that peers agree on above the
// greatest locally learned sequence.
func (n *Node) CatchUp(ctx context.Context) (repair.Result, error) {
	return n.catchUp.Run(ctx)
}

// ID returns the node ID.
func (n *Node) ID() string {
	return n.cfg.NodeID
}

// Addr returns the address the node serves on, once started.
func (n *Node) Addr() net.Addr {
	return n.addr
}

// LeaderUUID identifies this process as a proposer.
func (n *Node) LeaderUUID() uuid.UUID {
	return n.leaderUUID
}

// NewValue stamps data with this node's proposer identity.
func (n *Node) NewValue(seq int64, data []byte) paxos.Value {
	return paxos.Value{Seq: seq, ProposerID: n.leaderUUID.String(), Data: data}
}

// LeaderLearner is the learner network client of the leader series.
func (n *Node) LeaderLearner() *learner.NetworkClient {
	return n.leader
}

// LocalLearner returns this node's learner of series.
func (n *Node) LocalLearner(series paxos.Series) (*paxos.LocalLearner, error) {
	return n.learners.Get(series)
}

// AcceptorLog returns this node's acceptor records of series.
func (n *Node) AcceptorLog(series paxos.Series) (*paxos.AcceptorLog, error) {
	return paxos.NewAcceptorLog(n.store, series)
}

// ClockMonitor returns the skew monitor.
func (n *Node) ClockMonitor() *clock.Monitor {
	return n.skew
}

// HealthCheck returns the corruption health check. It is nil until started.
func (n *Node) HealthCheck() *corruption.HealthCheck {
	return n.health
}

// ShouldRejectRequests is the admission check of this node.
func (n *Node) ShouldRejectRequests() bool {
	return n.health != nil && n.health.ShouldRejectRequests()
}

// AdminHandler serves /metrics and the health endpoints.
func (n *Node) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health/corruption", n.corruptionHandler).Methods(http.MethodGet)
	r.HandleFunc("/health/clock", n.clockHandler).Methods(http.MethodGet)
	return r
}

func (n *Node) corruptionHandler(w http.ResponseWriter, _ *http.Request) {
	if n.health == nil {
		http.Error(w, "node not started", http.StatusServiceUnavailable)
		return
	}
	summary := n.health.Summary()
	code := http.StatusOK
	if summary.ShouldRejectRequests {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, summary)
}

func (n *Node) clockHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.skew.Samples())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
