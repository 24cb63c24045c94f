package store

import (
	"context"
	"time"

	"src.userspace.com.au/logger"
	"src.userspace.com.au/peerdb"
)

// Logged wraps a Directory and logs every call
type Logged struct {
	dir Directory
	log logger.Logger
}

// WithLogger logs calls to dir at debug level and failures at error level
func WithLogger(dir Directory, log logger.Logger) *Logged {
	return &Logged{dir: dir, log: log.Named("store")}
}

func (l *Logged) done(op string, err error, args ...interface{}) {
	if err != nil {
		l.log.Error(append([]interface{}{op + " failed", "error", err}, args...)...)
		return
	}
	if l.log.IsDebug() {
		l.log.Debug(append([]interface{}{op}, args...)...)
	}
}

// UpdatePeer implements Announcer
func (l *Logged) UpdatePeer(ctx context.Context, p peerdb.Peer, hashes []peerdb.Hash) (bool, error) {
	known, err := l.dir.UpdatePeer(ctx, p, hashes)
	l.done("update peer", err, "peer", p.Addr, "hashes", len(hashes), "known", known)
	return known, err
}

// PeersForHash implements Announcer
func (l *Logged) PeersForHash(ctx context.Context, h peerdb.Hash) ([]peerdb.Peer, error) {
	peers, err := l.dir.PeersForHash(ctx, h)
	l.done("peers for hash", err, "hash", h, "peers", len(peers))
	return peers, err
}

// PeerCount implements Counter
func (l *Logged) PeerCount(ctx context.Context) (int, error) {
	n, err := l.dir.PeerCount(ctx)
	l.done("peer count", err, "count", n)
	return n, err
}

// HashCount implements Counter
func (l *Logged) HashCount(ctx context.Context) (int, error) {
	n, err := l.dir.HashCount(ctx)
	l.done("hash count", err, "count", n)
	return n, err
}

// CleanupPeers implements Cleaner
func (l *Logged) CleanupPeers(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := l.dir.CleanupPeers(ctx, cutoff)
	l.done("cleanup peers", err, "cutoff", cutoff.Format(time.RFC3339), "removed", n)
	return n, err
}

// CleanupHashes implements Cleaner
func (l *Logged) CleanupHashes(ctx context.Context) (int, error) {
	n, err := l.dir.CleanupHashes(ctx)
	l.done("cleanup hashes", err, "removed", n)
	return n, err
}

// RemovePeer implements Directory
func (l *Logged) RemovePeer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	p, err := l.dir.RemovePeer(ctx, addr)
	l.done("remove peer", err, "peer", addr, "found", p != nil)
	return p, err
}

// Peer implements Directory
func (l *Logged) Peer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	p, err := l.dir.Peer(ctx, addr)
	l.done("get peer", err, "peer", addr, "found", p != nil)
	return p, err
}

// Peers implements Directory
func (l *Logged) Peers(ctx context.Context) ([]peerdb.Peer, error) {
	peers, err := l.dir.Peers(ctx)
	l.done("get peers", err, "peers", len(peers))
	return peers, err
}

// Hashes implements Directory
func (l *Logged) Hashes(ctx context.Context) ([]peerdb.Swarm, error) {
	swarms, err := l.dir.Hashes(ctx)
	l.done("get hashes", err, "hashes", len(swarms))
	return swarms, err
}

// Close implements Directory
func (l *Logged) Close() error {
	err := l.dir.Close()
	l.done("close", err)
	return err
}
