// Package sweep evicts peers that stopped announcing and the hashes they
// leave behind.
package sweep

import (
	"context"
	"time"

	"src.userspace.com.au/logger"
	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/metrics"
	"src.userspace.com.au/peerdb/store"
)

const (
	DefaultTTL      = time.Hour
	DefaultInterval = 5 * time.Minute
)

// Sweeper runs the cleanup passes of a directory
type Sweeper struct {
	dir      store.Cleaner
	log      logger.Logger
	rec      metrics.Recorder
	now      func() time.Time
	ttl      time.Duration
	interval time.Duration
}

// Result of one sweep
type Result struct {
	Cutoff time.Time
	Peers  int
	Hashes int
}

// New creates a sweeper for dir
func New(dir store.Cleaner, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		dir:      dir,
		log:      logger.New(&logger.Options{Name: "sweep"}),
		rec:      metrics.Nop{},
		now:      time.Now,
		ttl:      DefaultTTL,
		interval: DefaultInterval,
	}

	for _, option := range opts {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Sweep removes peers unseen for longer than the TTL, then orphaned hashes.
// Hashes are only swept when the peer pass succeeded.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	r := Result{Cutoff: s.now().Add(-s.ttl).UTC()}

	var err error
	r.Peers, err = s.dir.CleanupPeers(ctx, r.Cutoff)
	if err != nil {
		return r, peerdb.Error.Wrap(err)
	}
	s.rec.PeersEvicted(r.Peers)

	r.Hashes, err = s.dir.CleanupHashes(ctx)
	if err != nil {
		return r, peerdb.Error.Wrap(err)
	}
	s.rec.HashesEvicted(r.Hashes)

	return r, nil
}

// Run sweeps every interval until ctx is done. Failures are logged and the
// sweep is tried again on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper running", "ttl", s.ttl.String(), "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			r, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Error("sweep failed", "error", err)
				continue
			}
			if r.Peers > 0 || r.Hashes > 0 {
				s.log.Info("swept", "peers", r.Peers, "hashes", r.Hashes)
			} else {
				s.log.Debug("swept", "cutoff", r.Cutoff.Format(time.RFC3339))
			}
		}
	}
}
