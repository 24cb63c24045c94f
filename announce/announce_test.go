package announce

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.userspace.com.au/logger"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/store/memory"
)

var ctx = context.Background()

type counter struct{ requests int }

func (c *counter) RequestReceived()  { c.requests++ }
func (c *counter) ConnectionOpened() {}
func (c *counter) ConnectionClosed() {}
func (c *counter) PeersEvicted(int)  {}
func (c *counter) HashesEvicted(int) {}

func newTracker(t *testing.T, opts ...Option) (*Tracker, *memory.Store) {
	dir := memory.New()
	t.Cleanup(func() { dir.Close() })
	opts = append([]Option{
		SetLogger(logger.New(&logger.Options{Output: &bytes.Buffer{}})),
		SetClock(func() time.Time { return peerdb.FromUnix(1000) }),
	}, opts...)
	tr, err := New(dir, opts...)
	require.NoError(t, err)
	return tr, dir
}

func TestAnnounce(t *testing.T) {
	rec := &counter{}
	tr, dir := newTracker(t, SetRecorder(rec))
	a := peerdb.MustParseAddr("10.0.0.1:6881")

	known, err := tr.Announce(ctx, a, []peerdb.Hash{peerdb.Hash("h1")})
	require.NoError(t, err)
	assert.False(t, known)

	known, err = tr.Announce(ctx, a, []peerdb.Hash{peerdb.Hash("h2")})
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 2, rec.requests)

	p, err := dir.Peer(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, peerdb.FromUnix(1000), p.DateAdded)
	assert.Equal(t, peerdb.FromUnix(1000), p.LastSeen)

	_, err = tr.Announce(ctx, peerdb.Addr{}, []peerdb.Hash{peerdb.Hash("h1")})
	assert.True(t, peerdb.Error.Has(err))
	_, err = tr.Announce(ctx, a, []peerdb.Hash{nil})
	assert.True(t, peerdb.Error.Has(err))
}

func TestBlacklist(t *testing.T) {
	tr, dir := newTracker(t, SetBlacklist(peerdb.Hash("seeded")))
	a := peerdb.MustParseAddr("[2001:db8::1]:6881")

	assert.True(t, tr.Banned(peerdb.Hash("seeded")))
	tr.Ban(peerdb.Hash("banned"))
	assert.True(t, tr.Banned(peerdb.Hash("banned")))
	assert.False(t, tr.Banned(peerdb.Hash("h1")))

	_, err := tr.Announce(ctx, a, []peerdb.Hash{peerdb.Hash("banned"), peerdb.Hash("h1")})
	require.NoError(t, err)

	swarms, err := dir.Hashes(ctx)
	require.NoError(t, err)
	require.Len(t, swarms, 1)
	assert.Equal(t, "h1", string(swarms[0].Hash))

	// Only banned hashes still refreshes the peer
	b := peerdb.MustParseAddr("10.0.0.2:6881")
	known, err := tr.Announce(ctx, b, []peerdb.Hash{peerdb.Hash("seeded")})
	require.NoError(t, err)
	assert.False(t, known)
	n, err := dir.PeerCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	peers, err := tr.Swarm(ctx, peerdb.Hash("banned"), peerdb.Addr{}, 0)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestBlacklistOptions(t *testing.T) {
	_, err := New(memory.New(), SetBlacklistSize(0))
	assert.True(t, peerdb.Error.Has(err))
	_, err = New(memory.New(), SetBlacklist(peerdb.Hash{}))
	assert.True(t, peerdb.Error.Has(err))
	_, err = New(memory.New(), SetRateLimit(0, 1))
	assert.True(t, peerdb.Error.Has(err))
}

func TestBlacklistSeedFits(t *testing.T) {
	seed := []peerdb.Hash{{1}, {2}, {3}, {4}, {5}}

	_, err := New(memory.New(), SetBlacklistSize(3), SetBlacklist(seed...))
	assert.True(t, peerdb.Error.Has(err), "seed larger than the blacklist")

	tr, _ := newTracker(t, SetBlacklistSize(5), SetBlacklist(seed...))
	for _, h := range seed {
		assert.True(t, tr.Banned(h), "hash %s", h)
	}
}

func TestRateLimit(t *testing.T) {
	rec := &counter{}
	tr, _ := newTracker(t, SetRateLimit(0.001, 2), SetRecorder(rec))
	a := peerdb.MustParseAddr("10.0.0.1:6881")
	hashes := []peerdb.Hash{peerdb.Hash("h1")}

	for i := 0; i < 2; i++ {
		_, err := tr.Announce(ctx, a, hashes)
		require.NoError(t, err)
	}
	_, err := tr.Announce(ctx, a, hashes)
	assert.Equal(t, ErrRateLimited, err)
	assert.Equal(t, 3, rec.requests)
}

func TestSwarm(t *testing.T) {
	tr, _ := newTracker(t)
	h := peerdb.Hash("h1")
	for _, s := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1", "abcdefghijklmnop.onion:1"} {
		_, err := tr.Announce(ctx, peerdb.MustParseAddr(s), []peerdb.Hash{h})
		require.NoError(t, err)
	}

	peers, err := tr.Swarm(ctx, h, peerdb.Addr{}, 0)
	require.NoError(t, err)
	assert.Len(t, peers, 4)

	self := peerdb.MustParseAddr("10.0.0.2:1")
	peers, err = tr.Swarm(ctx, h, self, 0)
	require.NoError(t, err)
	assert.Len(t, peers, 3)
	for _, p := range peers {
		assert.NotEqual(t, self, p.Addr)
	}

	peers, err = tr.Swarm(ctx, h, self, 2)
	require.NoError(t, err)
	assert.Len(t, peers, 2)

	peers, err = tr.Swarm(ctx, peerdb.Hash("unknown"), self, 2)
	require.NoError(t, err)
	assert.Empty(t, peers)

	_, err = tr.Swarm(ctx, nil, self, 2)
	assert.True(t, peerdb.Error.Has(err))
}
