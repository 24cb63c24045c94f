package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/announce"
	"src.userspace.com.au/peerdb/metrics"
	"src.userspace.com.au/peerdb/store"
)

type server struct {
	dir        store.Directory
	tracker    *announce.Tracker
	rec        *metrics.Prometheus
	swarmLimit int
}

func newServer(dir store.Directory, tracker *announce.Tracker, rec *metrics.Prometheus, swarmLimit int) *server {
	return &server{dir: dir, tracker: tracker, rec: rec, swarmLimit: swarmLimit}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.rec.Handler())
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/swarms", s.swarmsHandler)
	mux.HandleFunc("/swarm", s.swarmHandler)
	mux.HandleFunc("/announce", s.announceHandler)
	return mux
}

func connState(rec metrics.Recorder) func(net.Conn, http.ConnState) {
	return func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			rec.ConnectionOpened()
		case http.StateClosed, http.StateHijacked:
			rec.ConnectionClosed()
		}
	}
}

type stats struct {
	Peers  int `json:"peers"`
	Hashes int `json:"hashes"`
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	var st stats
	var err error
	if st.Peers, err = s.dir.PeerCount(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if st.Hashes, err = s.dir.HashCount(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) swarmsHandler(w http.ResponseWriter, r *http.Request) {
	swarms, err := s.dir.Hashes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if swarms == nil {
		swarms = []peerdb.Swarm{}
	}
	writeJSON(w, http.StatusOK, swarms)
}

func (s *server) swarmHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h, err := peerdb.HashFromString(q.Get("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := s.swarmLimit
	if l := q.Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, peerdb.Error.New("invalid limit %q", l))
			return
		}
	}
	var exclude peerdb.Addr
	if e := q.Get("exclude"); e != "" {
		if exclude, err = peerdb.ParseAddr(e); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	peers, err := s.tracker.Swarm(r.Context(), h, exclude, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if peers == nil {
		peers = []peerdb.Peer{}
	}
	writeJSON(w, http.StatusOK, peers)
}

// announceHandler takes a form with one addr and one or more hash values
func (s *server) announceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, peerdb.Error.New("POST required"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := peerdb.ParseAddr(r.PostForm.Get("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var hashes []peerdb.Hash
	for _, v := range r.PostForm["hash"] {
		h, err := peerdb.HashFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		hashes = append(hashes, h)
	}

	known, err := s.tracker.Announce(r.Context(), addr, hashes)
	switch {
	case err == announce.ErrRateLimited:
		writeError(w, http.StatusTooManyRequests, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"known": known})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
