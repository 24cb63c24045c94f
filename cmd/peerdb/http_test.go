package main

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.userspace.com.au/logger"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/announce"
	"src.userspace.com.au/peerdb/metrics"
	"src.userspace.com.au/peerdb/store/memory"
)

func TestMain(m *testing.M) {
	log = logger.New(&logger.Options{Output: ioutil.Discard})
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, opts ...announce.Option) *httptest.Server {
	dir := memory.New()
	rec := metrics.NewPrometheus(dir, peerdb.Build, "memory")
	opts = append([]announce.Option{announce.SetLogger(log), announce.SetRecorder(rec)}, opts...)
	tracker, err := announce.New(dir, opts...)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(newServer(dir, tracker, rec, 2).routes())
	srv.Config.ConnState = connState(rec)
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		dir.Close()
	})
	return srv
}

func post(t *testing.T, srv *httptest.Server, addr string, hashes ...string) *http.Response {
	form := url.Values{"addr": {addr}, "hash": hashes}
	res, err := srv.Client().PostForm(srv.URL+"/announce", form)
	require.NoError(t, err)
	return res
}

func get(t *testing.T, srv *httptest.Server, path string, v interface{}) int {
	res, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestAnnounceAndQuery(t *testing.T) {
	srv := newTestServer(t)

	res := post(t, srv, "10.0.0.1:6881", "aa", "bb")
	var body map[string]bool
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, body["known"])

	for _, a := range []string{"10.0.0.2:6881", "10.0.0.3:6881", "10.0.0.1:6881"} {
		res = post(t, srv, a, "aa")
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	var st stats
	assert.Equal(t, http.StatusOK, get(t, srv, "/stats", &st))
	assert.Equal(t, stats{Peers: 3, Hashes: 2}, st)

	var swarms []struct {
		Hash  string `json:"hash"`
		Peers int    `json:"peers"`
	}
	assert.Equal(t, http.StatusOK, get(t, srv, "/swarms", &swarms))
	counts := map[string]int{}
	for _, sw := range swarms {
		counts[sw.Hash] = sw.Peers
	}
	assert.Equal(t, map[string]int{"aa": 3, "bb": 1}, counts)

	var peers []map[string]interface{}
	assert.Equal(t, http.StatusOK, get(t, srv, "/swarm?hash=aa", &peers))
	assert.Len(t, peers, 2, "default limit")
	assert.Equal(t, http.StatusOK, get(t, srv, "/swarm?hash=aa&limit=0&exclude=10.0.0.3:6881", &peers))
	assert.Len(t, peers, 2)
	for _, p := range peers {
		assert.NotEqual(t, "10.0.0.3:6881", p["address"])
	}
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)

	res := post(t, srv, "not-an-address", "aa")
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = post(t, srv, "10.0.0.1:6881", "zz")
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, srv, "/announce", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/swarm", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/swarm?hash=aa&limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/swarm?hash=aa&exclude=nope", nil))

	var peers []peerdb.Peer
	assert.Equal(t, http.StatusOK, get(t, srv, "/swarm?hash=cc", &peers))
	assert.NotNil(t, peers)
	assert.Empty(t, peers)
}

func TestRateLimited(t *testing.T) {
	srv := newTestServer(t, announce.SetRateLimit(0.001, 1))

	res := post(t, srv, "10.0.0.1:6881", "aa")
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = post(t, srv, "10.0.0.1:6881", "aa")
	res.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	res := post(t, srv, "10.0.0.1:6881", "aa")
	res.Body.Close()

	res, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "zn_tracker_requests_total 1")
	assert.Contains(t, out, "zn_tracker_peers 1")
	assert.Contains(t, out, "zn_tracker_hashes 1")
	assert.Contains(t, out, `peerdb_type="memory"`)
	assert.True(t, strings.Contains(out, "zn_tracker_opened_connections_total"))
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := peerdb.DefaultConfig()
	cfg.Blacklist = []string{"xyz"}
	assert.Error(t, run(cfg))

	cfg = peerdb.DefaultConfig()
	cfg.SwarmLimit = -1
	assert.Error(t, run(cfg))
}
