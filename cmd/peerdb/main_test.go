package main

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.userspace.com.au/logger"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/sweep"
)

// slowCleaner holds every peer pass for a while, ignoring cancellation
type slowCleaner struct {
	started  chan struct{}
	running  int32
	finished int32
}

func (c *slowCleaner) CleanupPeers(ctx context.Context, cutoff time.Time) (int, error) {
	if atomic.AddInt32(&c.running, 1) == 1 {
		close(c.started)
	}
	time.Sleep(50 * time.Millisecond)
	atomic.AddInt32(&c.finished, 1)
	return 0, nil
}

func (c *slowCleaner) CleanupHashes(ctx context.Context) (int, error) {
	return 0, nil
}

func TestStopSweeperWaits(t *testing.T) {
	c := &slowCleaner{started: make(chan struct{})}
	s, err := sweep.New(c, sweep.SetLogger(log), sweep.SetInterval(time.Millisecond))
	require.NoError(t, err)

	stop := startSweeper(context.Background(), s)
	select {
	case <-c.started:
	case <-time.After(time.Second):
		t.Fatal("sweep never started")
	}
	stop()
	assert.Equal(t, atomic.LoadInt32(&c.running), atomic.LoadInt32(&c.finished),
		"stop returned with a sweep in progress")
}

func TestRunListenFails(t *testing.T) {
	cfg := peerdb.DefaultConfig()
	cfg.DSN = "memory:"
	cfg.MetricsAddress = "localhost:99999"
	assert.True(t, peerdb.Error.Has(run(cfg)))
}

func TestLogBuild(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&logger.Options{Output: &buf})
	logBuild(l, peerdb.BuildInfo{Version: "1.0.0", Revision: "abc123", GoVersion: "go1.17"})

	out := buf.String()
	assert.Contains(t, out, "message=starting")
	assert.Contains(t, out, "version=1.0.0")
	assert.Contains(t, out, "revision=abc123")
	assert.Contains(t, out, "goversion=go1.17")
}
