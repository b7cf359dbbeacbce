package process

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// The registry is process-wide state tracking every live supervisor so that
// instances whose handles were abandoned can still be swept at process exit.
// It is initialized lazily on first registration. Membership is the only
// state in this package mutated from multiple goroutines without an owning
// supervisor; the lock is held for membership changes and snapshots only,
// never across I/O.
var (
	registryMu sync.Mutex
	registry   map[*Supervisor]struct{}
)

func register(s *Supervisor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry == nil {
		registry = make(map[*Supervisor]struct{})
	}
	registry[s] = struct{}{}
}

func deregister(s *Supervisor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, s)
}

// Registered returns the number of currently registered supervisors.
func Registered() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}

// ShutdownAll stops every registered supervisor. It snapshots the membership
// first, so registrations racing with the sweep are neither dropped from the
// registry nor processed twice, and it tolerates individual failures: one
// stuck instance cannot block cleanup of the others. The first error, if any,
// is returned after all supervisors have been processed.
func ShutdownAll(grace time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	registryMu.Lock()
	snapshot := make([]*Supervisor, 0, len(registry))
	for s := range registry {
		snapshot = append(snapshot, s)
	}
	registryMu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	logger.Info("Shutting down all registered instances", "count", len(snapshot))

	var g errgroup.Group
	for _, s := range snapshot {
		s := s
		g.Go(func() error {
			if err := s.Shutdown(grace); err != nil {
				logger.Error("Failed to shut down instance", "instanceID", s.identity.ID, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
