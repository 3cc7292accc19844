package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Fetcher retrieves the current participant set from the chain gateway.
type Fetcher interface {
	GetRegistrySnapshot(ctx context.Context, endpoint string) (*Snapshot, error)
}

// Listener is notified after every successful sync with the freshly fetched
// snapshot. The snapshot is shared across listeners and must not be mutated;
// listeners that keep state past the call work on their own Clone.
type Listener func(snapshot *Snapshot)

// Syncer keeps an up-to-date registry snapshot and fans out change
// notifications. Sync is driven externally, typically by a cron schedule.
type Syncer struct {
	fetcher  Fetcher
	endpoint string
	logger   *zap.Logger

	mu        sync.Mutex
	current   *Snapshot
	listeners []Listener
}

// NewSyncer creates a Syncer that reads from the given gateway endpoint.
func NewSyncer(fetcher Fetcher, endpoint string, logger *zap.Logger) *Syncer {
	return &Syncer{
		fetcher:  fetcher,
		endpoint: endpoint,
		logger:   logger,
	}
}

// RegisterListener adds a listener for future syncs.
func (s *Syncer) RegisterListener(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get returns a deep copy of the last synced snapshot, or nil before the
// first successful sync.
func (s *Syncer) Get() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// Sync fetches a fresh snapshot, publishes it, and notifies listeners.
// Listeners run outside the lock so a slow listener never blocks Get.
func (s *Syncer) Sync(ctx context.Context) error {
	snapshot, err := s.fetcher.GetRegistrySnapshot(ctx, s.endpoint)
	if err != nil {
		return fmt.Errorf("fetch registry snapshot: %w", err)
	}

	s.mu.Lock()
	s.current = snapshot
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.logger.Info("[registry] synced snapshot",
		zap.Int64("block", snapshot.Block),
		zap.Int("identities", len(snapshot.Identities)))

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}
