package rpc

import (
	"errors"
	"fmt"

	"github.com/algorand/go-deadlock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientManager manages gRPC connections to peer nodes.
type ClientManager struct {
	mu    deadlock.RWMutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewClientManager creates a new client manager. extra options are appended
// to the defaults, which select insecure transport and the timelock codec.
func NewClientManager(extra ...grpc.DialOption) *ClientManager {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
		opts:  append(opts, extra...),
	}
}

// Conn returns the connection for the given node address, creating it if
// needed. Connections are established lazily on first use.
func (cm *ClientManager) Conn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, cm.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	cm.conns[addr] = conn
	return conn, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}
