package proxy

import (
	"context"
	"time"

	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/metrics"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/types"
)

// Sweeper Periodically removes inactive, expired and malformed sessions from the store.
type Sweeper struct {
	store     sessions.Store
	storeName string
	interval  time.Duration
	now       func() time.Time
	log       logger.Logger
}

func NewSweeper(store sessions.Store, storeName string, interval time.Duration, log logger.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		storeName: storeName,
		interval:  interval,
		now:       time.Now,
		log:       log.WithComponent(types.ComponentNameSweeper),
	}
}

// Run Sweep every interval until ctx is cancelled. A non-positive interval disables sweeping.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("session sweeping disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) int {
	purged, err := s.store.Purge(ctx, s.now())
	if err != nil {
		s.log.WithError(err).Error("purge sessions")
		return 0
	}

	metrics.AddSessionsPurged(s.storeName, purged)
	if purged > 0 {
		s.log.Infof("purged %d sessions", purged)
	}
	return purged
}
