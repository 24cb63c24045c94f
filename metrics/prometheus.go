package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/store"
)

const namespace = "zn_tracker"

// Timeout for the directory counts taken on each scrape
var collectTimeout = 5 * time.Second

// Prometheus is a Recorder backed by its own registry
type Prometheus struct {
	reg *prometheus.Registry

	requests prometheus.Counter
	opened   prometheus.Counter
	closed   prometheus.Counter
	peers    prometheus.Counter
	hashes   prometheus.Counter
}

// NewPrometheus registers the tracker metrics. Peer and hash gauges are read
// from counts on every scrape.
func NewPrometheus(counts store.Counter, info peerdb.BuildInfo, dbType string) *Prometheus {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	p := &Prometheus{
		reg:      prometheus.NewRegistry(),
		requests: counter("requests_total", "Number of requests received"),
		opened:   counter("opened_connections_total", "Number of opened connections"),
		closed:   counter("closed_connections_total", "Number of closed connections"),
		peers:    counter("evicted_peers_total", "Number of peers removed by the sweeper"),
		hashes:   counter("evicted_hashes_total", "Number of hashes removed by the sweeper"),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
		ConstLabels: prometheus.Labels{
			"version":     info.Version,
			"revision":    info.Revision,
			"peerdb_type": dbType,
			"goversion":   info.GoVersion,
		},
	})
	buildInfo.Set(1)

	p.reg.MustRegister(p.requests, p.opened, p.closed, p.peers, p.hashes, buildInfo)
	if counts != nil {
		p.reg.MustRegister(newDirectoryCollector(counts))
	}
	return p
}

// RequestReceived counts an announce request
func (p *Prometheus) RequestReceived() { p.requests.Inc() }

// ConnectionOpened counts an accepted connection
func (p *Prometheus) ConnectionOpened() { p.opened.Inc() }

// ConnectionClosed counts a finished connection
func (p *Prometheus) ConnectionClosed() { p.closed.Inc() }

// PeersEvicted adds n peers removed by a sweep
func (p *Prometheus) PeersEvicted(n int) { p.peers.Add(float64(n)) }

// HashesEvicted adds n hashes removed by a sweep
func (p *Prometheus) HashesEvicted(n int) { p.hashes.Add(float64(n)) }

// Registry exposes the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

type directoryCollector struct {
	counts store.Counter
	peers  *prometheus.Desc
	hashes *prometheus.Desc
}

func newDirectoryCollector(counts store.Counter) *directoryCollector {
	return &directoryCollector{
		counts: counts,
		peers:  prometheus.NewDesc(namespace+"_peers", "Peers in database", nil, nil),
		hashes: prometheus.NewDesc(namespace+"_hashes", "Hashes in database", nil, nil),
	}
}

func (c *directoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peers
	ch <- c.hashes
}

func (c *directoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	if n, err := c.counts.PeerCount(ctx); err != nil {
		ch <- prometheus.NewInvalidMetric(c.peers, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(n))
	}
	if n, err := c.counts.HashCount(ctx); err != nil {
		ch <- prometheus.NewInvalidMetric(c.hashes, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.hashes, prometheus.GaugeValue, float64(n))
	}
}
