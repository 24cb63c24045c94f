package store

import (
	"context"
	"time"

	"src.userspace.com.au/peerdb"
)

// Announcer is the part of a directory used to answer announces
type Announcer interface {
	// UpdatePeer upserts the peer and links it to every hash. It returns
	// true when the peer address was already stored before the call.
	UpdatePeer(ctx context.Context, p peerdb.Peer, hashes []peerdb.Hash) (known bool, err error)
	PeersForHash(ctx context.Context, h peerdb.Hash) ([]peerdb.Peer, error)
}

// Counter reads aggregate counts
type Counter interface {
	PeerCount(ctx context.Context) (int, error)
	HashCount(ctx context.Context) (int, error)
}

// Cleaner evicts stale rows. CleanupPeers must run before CleanupHashes
// for the hashes it orphans to be removed in the same sweep.
type Cleaner interface {
	CleanupPeers(ctx context.Context, cutoff time.Time) (int, error)
	CleanupHashes(ctx context.Context) (int, error)
}

// Directory is implemented by every storage backend. All errors are in
// the peerdb.Error class.
type Directory interface {
	Announcer
	Counter
	Cleaner

	RemovePeer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error)
	Peer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error)
	Peers(ctx context.Context) ([]peerdb.Peer, error)
	Hashes(ctx context.Context) ([]peerdb.Swarm, error)
	Close() error
}
