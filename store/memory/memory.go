// Package memory is a directory held in maps, for tests and for embedding
// where neither SQL backend is wanted.
package memory

import (
	"context"
	"sync"
	"time"

	"src.userspace.com.au/peerdb"
)

type peerEntry struct {
	peer   peerdb.Peer
	hashes map[string]struct{}
}

// Store implements store.Directory in memory
type Store struct {
	mu     sync.RWMutex
	peers  map[peerdb.Addr]*peerEntry
	hashes map[string]*hashEntry
	closed bool
}

type hashEntry struct {
	hash  peerdb.Hash
	peers map[peerdb.Addr]struct{}
}

// New creates an empty store
func New() *Store {
	return &Store{
		peers:  make(map[peerdb.Addr]*peerEntry),
		hashes: make(map[string]*hashEntry),
	}
}

var errClosed = peerdb.Error.New("store is closed")

// UpdatePeer implements store.Announcer
func (s *Store) UpdatePeer(ctx context.Context, p peerdb.Peer, hashes []peerdb.Hash) (bool, error) {
	p, err := peerdb.CheckUpdate(p, hashes)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}

	pe, known := s.peers[p.Addr]
	if known {
		if p.LastSeen.After(pe.peer.LastSeen) {
			pe.peer.LastSeen = p.LastSeen
		}
	} else {
		pe = &peerEntry{peer: p, hashes: make(map[string]struct{})}
		s.peers[p.Addr] = pe
	}

	for _, h := range hashes {
		key := h.Key()
		he, ok := s.hashes[key]
		if !ok {
			he = &hashEntry{hash: h.Clone(), peers: make(map[peerdb.Addr]struct{})}
			s.hashes[key] = he
		}
		he.peers[p.Addr] = struct{}{}
		pe.hashes[key] = struct{}{}
	}
	return known, nil
}

// unlink drops every link of a peer, leaving orphaned hashes in place
func (s *Store) unlink(pe *peerEntry) {
	for key := range pe.hashes {
		if he, ok := s.hashes[key]; ok {
			delete(he.peers, pe.peer.Addr)
		}
	}
}

// RemovePeer implements store.Directory
func (s *Store) RemovePeer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	pe, ok := s.peers[addr]
	if !ok {
		return nil, nil
	}
	s.unlink(pe)
	delete(s.peers, addr)
	p := pe.peer
	return &p, nil
}

// Peer implements store.Directory
func (s *Store) Peer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	pe, ok := s.peers[addr]
	if !ok {
		return nil, nil
	}
	p := pe.peer
	return &p, nil
}

// Peers implements store.Directory
func (s *Store) Peers(ctx context.Context) ([]peerdb.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	peers := make([]peerdb.Peer, 0, len(s.peers))
	for _, pe := range s.peers {
		peers = append(peers, pe.peer)
	}
	return peers, nil
}

// PeersForHash implements store.Announcer
func (s *Store) PeersForHash(ctx context.Context, h peerdb.Hash) ([]peerdb.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	he, ok := s.hashes[h.Key()]
	if !ok {
		return nil, nil
	}
	peers := make([]peerdb.Peer, 0, len(he.peers))
	for addr := range he.peers {
		if pe, ok := s.peers[addr]; ok {
			peers = append(peers, pe.peer)
		}
	}
	return peers, nil
}

// Hashes implements store.Directory
func (s *Store) Hashes(ctx context.Context) ([]peerdb.Swarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var swarms []peerdb.Swarm
	for _, he := range s.hashes {
		if len(he.peers) == 0 {
			continue
		}
		swarms = append(swarms, peerdb.Swarm{Hash: he.hash.Clone(), Peers: len(he.peers)})
	}
	return swarms, nil
}

// PeerCount implements store.Counter
func (s *Store) PeerCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed
	}
	return len(s.peers), nil
}

// HashCount implements store.Counter
func (s *Store) HashCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed
	}
	return len(s.hashes), nil
}

// CleanupPeers implements store.Cleaner
func (s *Store) CleanupPeers(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	ts := peerdb.CutoffUnix(cutoff)
	var n int
	for addr, pe := range s.peers {
		if peerdb.ToUnix(pe.peer.LastSeen) < ts {
			s.unlink(pe)
			delete(s.peers, addr)
			n++
		}
	}
	return n, nil
}

// CleanupHashes implements store.Cleaner
func (s *Store) CleanupHashes(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	var n int
	for key, he := range s.hashes {
		if len(he.peers) == 0 {
			delete(s.hashes, key)
			n++
		}
	}
	return n, nil
}

// Close implements store.Directory. A closed store fails every call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
