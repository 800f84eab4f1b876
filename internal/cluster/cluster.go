package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/agleyzer/fansone-dl/internal/progress"
	"github.com/hashicorp/raft"
)

// Manager runs a Raft node whose FSM holds the progress table.
type Manager struct {
	config    Config
	raft      *raft.Raft
	fsm       *ProgressFSM
	transport *raft.NetworkTransport
	logger    *slog.Logger
	mu        sync.RWMutex
	shutdown  bool
}

// NewManager creates a new cluster manager.
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		config: config,
		fsm:    NewProgressFSM(logger),
		logger: logger,
	}, nil
}

// Start initializes and starts the Raft node.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raft != nil {
		return fmt.Errorf("cluster already started")
	}

	raftLogger := newRaftLogger(m.config.Verbose)

	raftConfig := raft.DefaultConfig()
	// Use bind address as LocalID for consistency with bootstrap configuration
	raftConfig.LocalID = raft.ServerID(m.config.BindAddr)
	raftConfig.HeartbeatTimeout = m.config.HeartbeatTimeout
	raftConfig.ElectionTimeout = m.config.ElectionTimeout
	raftConfig.LeaderLeaseTimeout = m.config.HeartbeatTimeout
	raftConfig.SnapshotInterval = m.config.SnapshotInterval
	raftConfig.SnapshotThreshold = m.config.SnapshotThreshold
	raftConfig.Logger = raftLogger

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()

	var snapshotStore raft.SnapshotStore = raft.NewInmemSnapshotStore()
	if m.config.DataDir != "" {
		if err := os.MkdirAll(m.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		fss, err := raft.NewFileSnapshotStoreWithLogger(m.config.DataDir, m.config.SnapshotRetain, raftLogger)
		if err != nil {
			return fmt.Errorf("create snapshot store: %w", err)
		}
		snapshotStore = fss
	}

	addr, err := net.ResolveTCPAddr("tcp", m.config.BindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.config.BindAddr, addr, 3, 10*time.Second, nil)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	m.transport = transport

	r, err := raft.NewRaft(raftConfig, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: make([]raft.Server, 0, len(m.config.Peers)),
	}
	for _, peer := range m.config.Peers {
		// Use peer address as both ID and address for simplicity
		configuration.Servers = append(configuration.Servers, raft.Server{
			ID:       raft.ServerID(peer),
			Address:  raft.ServerAddress(peer),
			Suffrage: raft.Voter,
		})
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		m.logger.Error("failed to bootstrap cluster", "error", err)
		// Continue anyway - node might be joining existing cluster
	}

	m.logger.Info("cluster started",
		"node_id", m.config.RaftID,
		"bind", m.config.BindAddr,
		"peers", len(m.config.Peers),
		"data_dir", m.config.DataDir,
	)

	return nil
}

func (m *Manager) running() (*raft.Raft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shutdown {
		return nil, fmt.Errorf("cluster is shut down")
	}
	if m.raft == nil {
		return nil, fmt.Errorf("cluster not started")
	}
	return m.raft, nil
}

// SaveRecord replicates rec through the Raft log. Only the leader accepts
// writes.
func (m *Manager) SaveRecord(ctx context.Context, rec progress.Record) error {
	r, err := m.running()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeCommand(Command{
		Type: CommandSaveRecord,
		Data: SaveRecordCommand{Record: rec},
	})
	if err != nil {
		return err
	}

	timeout := m.config.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	future := r.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}
	if resp, ok := future.Response().(error); ok && resp != nil {
		return fmt.Errorf("apply command: %w", resp)
	}
	return nil
}

// Record returns the replicated record for id, or nil.
func (m *Manager) Record(id progress.VideoID) *progress.Record {
	return m.fsm.Record(id)
}

// Records returns all replicated records.
func (m *Manager) Records() []progress.Record {
	return m.fsm.Records()
}

// IsLeader returns true if this node is the Raft leader.
func (m *Manager) IsLeader() bool {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return false
	}

	return r.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return ""
	}

	leaderAddr, _ := r.LeaderWithID()
	return string(leaderAddr)
}

// State returns the current Raft state.
func (m *Manager) State() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return "NotStarted"
	}

	switch r.State() {
	case raft.Follower:
		return "Follower"
	case raft.Candidate:
		return "Candidate"
	case raft.Leader:
		return "Leader"
	case raft.Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Peers returns the list of peer addresses.
func (m *Manager) Peers() []string {
	return m.config.Peers
}

// NodeID returns this node's Raft ID.
func (m *Manager) NodeID() string {
	return m.config.RaftID
}

// Shutdown takes a final snapshot and stops the Raft node.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil
	}

	m.shutdown = true

	if m.raft != nil {
		if err := m.raft.Snapshot().Error(); err != nil && !errors.Is(err, raft.ErrNothingNewToSnapshot) {
			m.logger.Warn("failed to snapshot before shutdown", "error", err)
		}
		if err := m.raft.Shutdown().Error(); err != nil {
			m.logger.Error("failed to shutdown raft", "error", err)
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}

	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.Error("failed to close transport", "error", err)
			return fmt.Errorf("close transport: %w", err)
		}
	}

	m.logger.Info("cluster shut down")
	return nil
}

// WaitForLeader blocks until a leader is elected or context is canceled.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.LeaderAddr() != "" {
				return nil
			}
		}
	}
}
