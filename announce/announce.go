// Package announce turns announces from the network into directory updates
package announce

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/errs"
	"golang.org/x/time/rate"
	"src.userspace.com.au/logger"
	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/metrics"
	"src.userspace.com.au/peerdb/store"
)

// ErrRateLimited is returned when announces arrive faster than allowed
var ErrRateLimited = errs.New("announce rate limited")

// Tracker records announces in a directory
type Tracker struct {
	dir           store.Announcer
	log           logger.Logger
	rec           metrics.Recorder
	now           func() time.Time
	limiter       *rate.Limiter
	blacklist     *lru.ARCCache
	blacklistSize int
	seed          []peerdb.Hash
}

// New creates a tracker in front of dir
func New(dir store.Announcer, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		dir:           dir,
		log:           logger.New(&logger.Options{Name: "announce"}),
		rec:           metrics.Nop{},
		now:           time.Now,
		limiter:       rate.NewLimiter(rate.Limit(1000), 2000),
		blacklistSize: 1000,
	}

	for _, option := range opts {
		if err := option(t); err != nil {
			return nil, err
		}
	}

	// Seeded hashes must all fit or the first would be evicted
	if len(t.seed) > t.blacklistSize {
		return nil, peerdb.Error.New("%d blacklisted hashes do not fit a blacklist of %d", len(t.seed), t.blacklistSize)
	}

	var err error
	t.blacklist, err = lru.NewARC(t.blacklistSize)
	if err != nil {
		return nil, peerdb.Error.Wrap(err)
	}
	for _, h := range t.seed {
		t.Ban(h)
	}
	t.seed = nil
	return t, nil
}

// Announce records that addr is sharing hashes now. Blacklisted hashes are
// dropped; an announce of only blacklisted hashes still refreshes the peer.
func (t *Tracker) Announce(ctx context.Context, addr peerdb.Addr, hashes []peerdb.Hash) (known bool, err error) {
	t.rec.RequestReceived()

	if !t.limiter.Allow() {
		return false, ErrRateLimited
	}
	if addr.IsZero() {
		return false, peerdb.Error.New("announce without address")
	}

	keep := make([]peerdb.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !h.Valid() {
			return false, peerdb.Error.New("invalid hash from %s", addr)
		}
		if t.Banned(h) {
			if t.log.IsDebug() {
				t.log.Debug("dropped blacklisted hash", "peer", addr, "hash", h)
			}
			continue
		}
		keep = append(keep, h)
	}

	known, err = t.dir.UpdatePeer(ctx, peerdb.NewPeer(addr, t.now()), keep)
	if err != nil {
		t.log.Warn("announce failed", "peer", addr, "error", err)
		return false, err
	}
	if !known {
		t.log.Debug("new peer", "peer", addr, "network", addr.Network())
	}
	return known, nil
}

// Swarm returns up to limit peers sharing h, leaving out exclude. A limit of
// zero returns every peer.
func (t *Tracker) Swarm(ctx context.Context, h peerdb.Hash, exclude peerdb.Addr, limit int) ([]peerdb.Peer, error) {
	if !h.Valid() {
		return nil, peerdb.Error.New("invalid hash")
	}
	if t.Banned(h) {
		return nil, nil
	}
	peers, err := t.dir.PeersForHash(ctx, h)
	if err != nil {
		return nil, err
	}

	out := peers[:0]
	for _, p := range peers {
		if p.Addr == exclude {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ban blacklists h
func (t *Tracker) Ban(h peerdb.Hash) {
	t.blacklist.Add(h.Key(), true)
}

// Banned reports whether h is blacklisted
func (t *Tracker) Banned(h peerdb.Hash) bool {
	return t.blacklist.Contains(h.Key())
}
