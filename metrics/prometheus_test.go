package metrics

import (
	"context"
	"io/ioutil"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/store/memory"
)

var _ Recorder = (*Prometheus)(nil)
var _ Recorder = Nop{}

var testBuild = peerdb.BuildInfo{Version: "1.2.3", Revision: "abc", GoVersion: "go1.17"}

func TestCounters(t *testing.T) {
	p := NewPrometheus(nil, testBuild, "memory")

	p.RequestReceived()
	p.RequestReceived()
	p.ConnectionOpened()
	p.ConnectionClosed()
	p.PeersEvicted(3)
	p.HashesEvicted(0)
	p.HashesEvicted(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.requests))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.opened))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.closed))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.peers))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.hashes))
}

func TestDirectoryGauges(t *testing.T) {
	ctx := context.Background()
	dir := memory.New()
	defer dir.Close()

	for i, a := range []string{"10.0.0.1:6881", "10.0.0.2:6881"} {
		p := peerdb.NewPeer(peerdb.MustParseAddr(a), peerdb.FromUnix(int64(100+i)))
		_, err := dir.UpdatePeer(ctx, p, []peerdb.Hash{peerdb.Hash("h1"), peerdb.Hash{byte(i)}})
		require.NoError(t, err)
	}

	p := NewPrometheus(dir, testBuild, "memory")
	expected := `
# HELP zn_tracker_hashes Hashes in database
# TYPE zn_tracker_hashes gauge
zn_tracker_hashes 3
# HELP zn_tracker_peers Peers in database
# TYPE zn_tracker_peers gauge
zn_tracker_peers 2
`
	err := testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected), "zn_tracker_peers", "zn_tracker_hashes")
	assert.NoError(t, err)
}

func TestDirectoryGaugeError(t *testing.T) {
	dir := memory.New()
	dir.Close()

	p := NewPrometheus(dir, testBuild, "memory")
	_, err := p.Registry().Gather()
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	p := NewPrometheus(nil, testBuild, "sqlite")
	p.RequestReceived()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "zn_tracker_requests_total 1")
	assert.Contains(t, string(body), `zn_tracker_build_info{goversion="go1.17",peerdb_type="sqlite",revision="abc",version="1.2.3"} 1`)
}
