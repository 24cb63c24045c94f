// Package storetest holds the tests every store.Directory must pass
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/store"
)

// NewFunc returns an empty directory. The suite closes it.
type NewFunc func(t *testing.T) store.Directory

// RunTests runs the common directory tests, each against a new directory
func RunTests(t *testing.T, newDir NewFunc) {
	run := func(name string, fn func(t *testing.T, dir store.Directory)) {
		t.Run(name, func(t *testing.T) {
			dir := newDir(t)
			defer func() { assert.NoError(t, dir.Close()) }()
			fn(t, dir)
		})
	}

	run("KnownFlag", testKnownFlag)
	run("KeepsDateAdded", testKeepsDateAdded)
	run("UniqueAddress", testUniqueAddress)
	run("UniqueHash", testUniqueHash)
	run("BinaryHashes", testBinaryHashes)
	run("SwarmCardinality", testSwarmCardinality)
	run("RemovePeer", testRemovePeer)
	run("CleanupPeers", testCleanupPeers)
	run("CleanupFractionalCutoff", testCleanupFractionalCutoff)
	run("CleanupHashes", testCleanupHashes)
	run("Rejects", testRejects)
	run("Scenario", testScenario)
	run("Concurrent", testConcurrent)
}

var ctx = context.Background()

func at(s int64) time.Time { return time.Unix(s, 0) }

func addr(i int) peerdb.Addr {
	return peerdb.MustParseAddr(fmt.Sprintf("10.0.0.%d:6881", i))
}

func hash(s string) peerdb.Hash { return peerdb.Hash(s) }

func announce(t *testing.T, dir store.Directory, a peerdb.Addr, ts int64, hashes ...peerdb.Hash) bool {
	known, err := dir.UpdatePeer(ctx, peerdb.NewPeer(a, at(ts)), hashes)
	require.NoError(t, err)
	return known
}

func swarms(t *testing.T, dir store.Directory) map[string]int {
	list, err := dir.Hashes(ctx)
	require.NoError(t, err)
	out := make(map[string]int, len(list))
	for _, sw := range list {
		_, dup := out[sw.Hash.Key()]
		require.False(t, dup, "hash %s listed twice", sw.Hash)
		out[sw.Hash.Key()] = sw.Peers
	}
	return out
}

func addrs(peers []peerdb.Peer) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Addr.String())
	}
	sort.Strings(out)
	return out
}

func counts(t *testing.T, dir store.Directory) (peers, hashes int) {
	peers, err := dir.PeerCount(ctx)
	require.NoError(t, err)
	hashes, err = dir.HashCount(ctx)
	require.NoError(t, err)
	return peers, hashes
}

func testKnownFlag(t *testing.T, dir store.Directory) {
	a := addr(1)
	assert.False(t, announce(t, dir, a, 100, hash("h1")), "first announce is a new peer")
	// Same timestamps must not confuse the flag
	assert.True(t, announce(t, dir, a, 100, hash("h1")), "second announce is a known peer")
	assert.True(t, announce(t, dir, a, 200), "announce without hashes is a known peer")
	assert.False(t, announce(t, dir, addr(2), 100), "other address is a new peer")
}

func testKeepsDateAdded(t *testing.T, dir store.Directory) {
	a := addr(1)
	announce(t, dir, a, 100, hash("h1"))
	announce(t, dir, a, 150, hash("h1"))

	// Announce carrying a later first-seen time
	_, err := dir.UpdatePeer(ctx, peerdb.Peer{Addr: a, DateAdded: at(180), LastSeen: at(200)}, nil)
	require.NoError(t, err)

	p, err := dir.Peer(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, a, p.Addr)
	assert.Equal(t, int64(100), p.DateAdded.Unix())
	assert.Equal(t, int64(200), p.LastSeen.Unix())

	// LastSeen never moves backwards
	announce(t, dir, a, 120)
	p, err = dir.Peer(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(200), p.LastSeen.Unix())
	assert.False(t, p.LastSeen.Before(p.DateAdded))
}

func testUniqueAddress(t *testing.T, dir store.Directory) {
	for i := 0; i < 10; i++ {
		announce(t, dir, addr(1), int64(100+i), hash("h1"), hash(fmt.Sprintf("h%d", i)))
	}
	peers, hashes := counts(t, dir)
	assert.Equal(t, 1, peers)
	assert.Equal(t, 10, hashes)

	all, err := dir.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:6881"}, addrs(all))
	// Repeated links collapse into one
	assert.Equal(t, 1, swarms(t, dir)["h1"])
}

func testUniqueHash(t *testing.T, dir store.Directory) {
	const m = 5
	for i := 1; i <= m; i++ {
		// Repeat the hash within one announce too
		announce(t, dir, addr(i), 100, hash("h1"), hash("h1"))
	}
	_, hashes := counts(t, dir)
	assert.Equal(t, 1, hashes)
	assert.Equal(t, map[string]int{"h1": m}, swarms(t, dir))
}

func testBinaryHashes(t *testing.T, dir store.Directory) {
	h1 := peerdb.Hash{0x00, 0x01, 0x00}
	h2 := peerdb.Hash{0x00, 0x01}
	h3 := peerdb.Hash{0xff}
	announce(t, dir, addr(1), 100, h1, h2)
	announce(t, dir, addr(2), 100, h2, h3)

	assert.Equal(t, map[string]int{h1.Key(): 1, h2.Key(): 2, h3.Key(): 1}, swarms(t, dir))

	peers, err := dir.PeersForHash(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:6881", "10.0.0.2:6881"}, addrs(peers))

	peers, err = dir.PeersForHash(ctx, peerdb.Hash{0x00})
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func testSwarmCardinality(t *testing.T, dir store.Directory) {
	announce(t, dir, addr(1), 100, hash("a"), hash("b"))
	announce(t, dir, addr(2), 100, hash("b"), hash("c"))
	announce(t, dir, addr(3), 100, hash("b"))
	announce(t, dir, addr(4), 90, hash("c"))
	_, err := dir.CleanupPeers(ctx, at(95))
	require.NoError(t, err)
	_, err = dir.RemovePeer(ctx, addr(3))
	require.NoError(t, err)

	list, err := dir.Hashes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, sw := range list {
		peers, err := dir.PeersForHash(ctx, sw.Hash)
		require.NoError(t, err)
		assert.Len(t, peers, sw.Peers, "swarm %s", sw.Hash)
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 1}, swarms(t, dir))
}

func testRemovePeer(t *testing.T, dir store.Directory) {
	p, err := dir.RemovePeer(ctx, addr(9))
	require.NoError(t, err)
	assert.Nil(t, p, "unknown peer")

	announce(t, dir, addr(1), 100, hash("h1"))
	announce(t, dir, addr(1), 110, hash("h2"))
	announce(t, dir, addr(2), 100, hash("h1"))

	p, err = dir.RemovePeer(ctx, addr(9))
	require.NoError(t, err)
	assert.Nil(t, p)
	peers, hashes := counts(t, dir)
	assert.Equal(t, 2, peers)
	assert.Equal(t, 2, hashes)

	p, err = dir.RemovePeer(ctx, addr(1))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, addr(1), p.Addr)
	assert.Equal(t, int64(100), p.DateAdded.Unix())
	assert.Equal(t, int64(110), p.LastSeen.Unix())

	p, err = dir.Peer(ctx, addr(1))
	require.NoError(t, err)
	assert.Nil(t, p)

	// h2 is orphaned but stays until CleanupHashes
	peers, hashes = counts(t, dir)
	assert.Equal(t, 1, peers)
	assert.Equal(t, 2, hashes)
	assert.Equal(t, map[string]int{"h1": 1}, swarms(t, dir))

	forHash, err := dir.PeersForHash(ctx, hash("h2"))
	require.NoError(t, err)
	assert.Empty(t, forHash)

	p, err = dir.RemovePeer(ctx, addr(1))
	require.NoError(t, err)
	assert.Nil(t, p, "removed twice")
}

func testCleanupPeers(t *testing.T, dir store.Directory) {
	announce(t, dir, addr(1), 100, hash("a"), hash("b"))
	announce(t, dir, addr(2), 101, hash("b"))
	announce(t, dir, addr(3), 102, hash("c"))
	announce(t, dir, addr(4), 99, hash("a"))

	n, err := dir.CleanupPeers(ctx, at(101))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := dir.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:6881", "10.0.0.3:6881"}, addrs(all))

	// Links of removed peers are gone, orphans remain
	assert.Equal(t, map[string]int{"b": 1, "c": 1}, swarms(t, dir))
	_, hashes := counts(t, dir)
	assert.Equal(t, 3, hashes)

	n, err = dir.CleanupPeers(ctx, at(101))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep with the same cutoff")

	n, err = dir.CleanupPeers(ctx, at(1000))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	peers, _ := counts(t, dir)
	assert.Equal(t, 0, peers)
	assert.Empty(t, swarms(t, dir))
}

func testCleanupFractionalCutoff(t *testing.T, dir store.Directory) {
	announce(t, dir, addr(1), 100, hash("a"))
	announce(t, dir, addr(2), 101, hash("a"))

	n, err := dir.CleanupPeers(ctx, time.Unix(100, 500000000))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "peer seen at 100 is before 100.5")

	all, err := dir.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:6881"}, addrs(all))

	n, err = dir.CleanupPeers(ctx, time.Unix(101, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "peer seen at the cutoff stays")
}

func testCleanupHashes(t *testing.T, dir store.Directory) {
	n, err := dir.CleanupHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "empty store")

	announce(t, dir, addr(1), 100, hash("a"), hash("b"))
	announce(t, dir, addr(2), 200, hash("b"), hash("c"))

	// Nothing orphaned yet
	n, err = dir.CleanupHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = dir.CleanupPeers(ctx, at(150))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = dir.CleanupHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, hashes := counts(t, dir)
	assert.Equal(t, 2, hashes)
	assert.Equal(t, map[string]int{"b": 1, "c": 1}, swarms(t, dir))

	// A hash announced again after removal is a new row
	announce(t, dir, addr(3), 300, hash("a"))
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, swarms(t, dir))
}

func testRejects(t *testing.T, dir store.Directory) {
	_, err := dir.UpdatePeer(ctx, peerdb.NewPeer(addr(1), at(100)), []peerdb.Hash{hash("a"), {}})
	assert.True(t, peerdb.Error.Has(err), "empty hash: %v", err)

	_, err = dir.UpdatePeer(ctx, peerdb.Peer{Addr: addr(1), DateAdded: at(100), LastSeen: at(99)}, nil)
	assert.True(t, peerdb.Error.Has(err), "seen before added: %v", err)

	_, err = dir.UpdatePeer(ctx, peerdb.Peer{LastSeen: at(100)}, nil)
	assert.True(t, peerdb.Error.Has(err), "no address: %v", err)

	peers, hashes := counts(t, dir)
	assert.Equal(t, 0, peers)
	assert.Equal(t, 0, hashes)

	// A zero DateAdded is taken from LastSeen
	known, err := dir.UpdatePeer(ctx, peerdb.Peer{Addr: addr(1), LastSeen: at(100)}, nil)
	require.NoError(t, err)
	assert.False(t, known)
	p, err := dir.Peer(ctx, addr(1))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(100), p.DateAdded.Unix())
}

func testScenario(t *testing.T, dir store.Directory) {
	p1 := peerdb.MustParseAddr("10.0.0.1:6881")
	p2 := peerdb.MustParseAddr("10.0.0.2:6881")
	h1 := hash("H1")

	announce(t, dir, p1, 100, h1)
	peers, _ := counts(t, dir)
	assert.Equal(t, 1, peers)
	assert.Equal(t, map[string]int{"H1": 1}, swarms(t, dir))

	announce(t, dir, p2, 101, h1)
	assert.Equal(t, map[string]int{"H1": 2}, swarms(t, dir))

	n, err := dir.CleanupPeers(ctx, at(101))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	peers, _ = counts(t, dir)
	assert.Equal(t, 1, peers)
	assert.Equal(t, map[string]int{"H1": 1}, swarms(t, dir))

	removed, err := dir.RemovePeer(ctx, p2)
	require.NoError(t, err)
	require.NotNil(t, removed)
	n, err = dir.CleanupHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, hashes := counts(t, dir)
	assert.Equal(t, 0, hashes)
}

func testConcurrent(t *testing.T, dir store.Directory) {
	const workers = 8
	const rounds = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				p := peerdb.NewPeer(addr(w), at(int64(100+r)))
				if _, err := dir.UpdatePeer(ctx, p, []peerdb.Hash{hash("shared"), hash(fmt.Sprintf("own%d", w))}); err != nil {
					errs <- err
				}
				if _, err := dir.PeersForHash(ctx, hash("shared")); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	peers, hashes := counts(t, dir)
	assert.Equal(t, workers, peers)
	assert.Equal(t, workers+1, hashes)
	assert.Equal(t, workers, swarms(t, dir)["shared"])
}
