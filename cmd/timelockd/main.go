package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"timelock/internal/config"
	"timelock/internal/logging"
	"timelock/internal/node"
)

var (
	configFile string
	nodeID     string
	listenAddr string
	adminAddr  string
	dataDir    string
	inMemory   bool
	peersFlag  string
	logLevel   string
	jsonLogs   bool
)

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file; flags override its values")
	rootCmd.Flags().StringVar(&nodeID, "node-id", "", "Unique ID of this node")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "gRPC listen address")
	rootCmd.Flags().StringVar(&adminAddr, "admin", "", "HTTP address for /metrics and health endpoints (disabled if empty)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding the Paxos logs")
	rootCmd.Flags().BoolVar(&inMemory, "in-memory", false, "Keep the Paxos logs in memory only")
	rootCmd.Flags().StringVar(&peersFlag, "peers", "", "Cluster members as id=addr,id=addr (including this node)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Log as JSON")

	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "timelockd",
	Short: "Run a timelock Paxos node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log := logging.Base()
		lvl, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		log.SetLevel(lvl)
		if cfg.JSONLogs {
			log.SetJSONFormatter()
		}

		n, err := node.New(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := n.Start(ctx); err != nil {
			n.Stop()
			return err
		}
		log.Infof("node %s serving on %s", n.ID(), n.Addr())

		<-ctx.Done()
		log.Info("shutting down")
		n.Stop()
		return nil
	},
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.NodeID = nodeID
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = adminAddr
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("in-memory") {
		cfg.InMemory = inMemory
	}
	if flags.Changed("peers") {
		peers, err := config.ParsePeers(peersFlag)
		if err != nil {
			return nil, err
		}
		cfg.Peers = peers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("json-logs") {
		cfg.JSONLogs = jsonLogs
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
