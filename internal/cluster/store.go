package cluster

import (
	"context"

	"github.com/agleyzer/fansone-dl/internal/progress"
)

// Store is a progress.Repository backed by a Manager. Reads are served
// from the local FSM; writes go through the leader.
type Store struct {
	m *Manager
}

// NewStore wraps m as a progress.Repository.
func NewStore(m *Manager) *Store {
	return &Store{m: m}
}

func (s *Store) Load(ctx context.Context, id progress.VideoID) (*progress.Record, error) {
	return s.m.Record(id), nil
}

func (s *Store) Save(ctx context.Context, rec progress.Record) error {
	if err := s.m.SaveRecord(ctx, rec); err != nil {
		return &progress.PersistenceError{Op: "replicate", Path: s.m.config.BindAddr, Err: err}
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]progress.Record, error) {
	return s.m.Records(), nil
}

var _ progress.Repository = (*Store)(nil)

// Manager returns the underlying cluster manager.
func (s *Store) Manager() *Manager {
	return s.m
}
