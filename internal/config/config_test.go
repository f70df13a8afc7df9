package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "n1=127.0.0.1:50051",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "n1=127.0.0.1:50051,n2=127.0.0.1:50052,n3=127.0.0.1:50053",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
				{ID: "n3", Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "with spaces",
			input: "n1 = 127.0.0.1:50051 , n2 = 127.0.0.1:50052",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "n1:127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "n1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID || got[i].Addr != tt.want[i].Addr {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: n1
listen_addr: 127.0.0.1:50051
data_dir: /var/lib/timelock
peers:
  - id: n2
    addr: 127.0.0.1:50052
  - id: n3
    addr: 127.0.0.1:50053
quorum_timeout: 2s
corruption_interval: 1m
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	require.Equal(t, "n1", cfg.NodeID)
	require.Equal(t, 2*time.Second, cfg.QuorumTimeout)
	require.Equal(t, time.Minute, cfg.CorruptionInterval)
	require.Equal(t, DefaultSkewInterval, cfg.SkewInterval)
	require.Equal(t, DefaultHistoryWindow, cfg.HistoryWindow)
	require.Equal(t, 3, cfg.ClusterSize())
	require.Equal(t, 2, cfg.QuorumSize())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: n1\nreplication_factor: 3\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "replication_factor")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Peers:    []Peer{{ID: "n2", Addr: "a"}, {ID: "n2", Addr: "b"}},
		LogLevel: "loud",
	}
	err := cfg.Validate()
	require.ErrorContains(t, err, "node_id")
	require.ErrorContains(t, err, "listen_addr")
	require.ErrorContains(t, err, "data_dir")
	require.ErrorContains(t, err, `peer "n2"`)
	require.ErrorContains(t, err, `log_level "loud"`)

	ok := &Config{NodeID: "n1", ListenAddr: ":1", InMemory: true}
	ok.ApplyDefaults()
	require.NoError(t, ok.Validate())
	require.Equal(t, DefaultRemoteTimeout, ok.QuorumTimeout)
}

func TestConfig_Remotes(t *testing.T) {
	cfg := &Config{
		NodeID:     "n1",
		ListenAddr: "127.0.0.1:50051",
		Peers: []Peer{
			{ID: "n1", Addr: "127.0.0.1:50051"},
			{ID: "n2", Addr: "127.0.0.1:50052"},
			{ID: "n3", Addr: "127.0.0.1:50053"},
			{ID: "n2", Addr: "127.0.0.1:50052"},
		},
	}

	remotes := cfg.Remotes()
	require.Equal(t, []Peer{
		{ID: "n2", Addr: "127.0.0.1:50052"},
		{ID: "n3", Addr: "127.0.0.1:50053"},
	}, remotes)
	require.Equal(t, 3, cfg.ClusterSize())
	require.Equal(t, 2, cfg.QuorumSize())
}
