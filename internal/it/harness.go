package it

import (
	"context"
	"fmt"
	"net"
	"sync"

	"timelock/internal/config"
	"timelock/internal/logging"
	"timelock/internal/node"
)

// Cluster represents an in-process test cluster of nodes
type Cluster struct {
	mu        sync.Mutex
	nodes     []*node.Node
	listeners map[string]net.Listener
	stopped   map[string]bool
}

// NewCluster builds size nodes named n1..nN on loopback ports. tweak, if
// not nil, adjusts each node's config before defaults are applied.
func NewCluster(size int, tweak func(*config.Config)) (*Cluster, error) {
	c := &Cluster{listeners: make(map[string]net.Listener), stopped: make(map[string]bool)}

	peers := make([]config.Peer, 0, size)
	for i := 1; i <= size; i++ {
		id := fmt.Sprintf("n%d", i)
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			c.closeListeners()
			return nil, fmt.Errorf("failed to listen for %s: %w", id, err)
		}
		c.listeners[id] = lis
		peers = append(peers, config.Peer{ID: id, Addr: lis.Addr().String()})
	}

	for _, p := range peers {
		cfg := &config.Config{
			NodeID:     p.ID,
			ListenAddr: p.Addr,
			InMemory:   true,
			Peers:      peers,
		}
		if tweak != nil {
			tweak(cfg)
		}
		cfg.ApplyDefaults()

		n, err := node.New(cfg, logging.Base())
		if err != nil {
			c.Stop()
			c.closeListeners()
			return nil, fmt.Errorf("failed to create node %s: %w", p.ID, err)
		}
		c.nodes = append(c.nodes, n)
	}
	return c, nil
}

// Start starts every node on its reserved listener
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if err := n.StartOn(ctx, c.listeners[n.ID()]); err != nil {
			return fmt.Errorf("failed to start node %s: %w", n.ID(), err)
		}
	}
	return nil
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.Stop()
		c.stopped[n.ID()] = true
	}
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID() == nodeID {
			return n
		}
	}
	return nil
}

// Nodes returns every node, including stopped ones.
func (c *Cluster) Nodes() []*node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*node.Node(nil), c.nodes...)
}

// KillNode stops a specific node
func (c *Cluster) KillNode(nodeID string) error {
	n := c.GetNode(nodeID)
	if n == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	n.Stop()

	c.mu.Lock()
	c.stopped[nodeID] = true
	c.mu.Unlock()
	return nil
}

func (c *Cluster) closeListeners() {
	for _, lis := range c.listeners {
		lis.Close()
	}
}
