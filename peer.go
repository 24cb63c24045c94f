package peerdb

import (
	"fmt"
	"time"
)

// Peer is a network endpoint serving one or more hashes
type Peer struct {
	Addr      Addr      `db:"address" json:"address"`
	DateAdded time.Time `db:"date_added" json:"date_added"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
}

// NewPeer returns a peer first and last seen at ts
func NewPeer(addr Addr, ts time.Time) Peer {
	return Peer{Addr: addr, DateAdded: ts, LastSeen: ts}
}

// Normalize truncates timestamps to the stored resolution and fills a zero
// DateAdded from LastSeen.
func (p Peer) Normalize() Peer {
	if p.DateAdded.IsZero() {
		p.DateAdded = p.LastSeen
	}
	p.DateAdded = FromUnix(ToUnix(p.DateAdded))
	p.LastSeen = FromUnix(ToUnix(p.LastSeen))
	return p
}

// Validate checks the peer can be stored
func (p Peer) Validate() error {
	if p.Addr.IsZero() {
		return Error.New("peer has no address")
	}
	if p.LastSeen.Before(p.DateAdded) {
		return Error.New("peer %s last seen %s before added %s", p.Addr, p.LastSeen, p.DateAdded)
	}
	return nil
}

// String implements fmt.Stringer
func (p Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.Addr, p.LastSeen.Format(time.RFC3339))
}

// ToUnix converts a timestamp to the seconds stored by the backends
func ToUnix(t time.Time) int64 {
	return t.Unix()
}

// CutoffUnix converts a cleanup cutoff to stored seconds. A fractional
// cutoff rounds up so every stored time before it compares lower.
func CutoffUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() != 0 {
		s++
	}
	return s
}

// FromUnix converts stored seconds back to a timestamp
func FromUnix(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

// CheckUpdate validates the arguments of an announce and returns the peer
// as it will be stored. Backends call it before touching storage.
func CheckUpdate(p Peer, hashes []Hash) (Peer, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return p, err
	}
	for _, h := range hashes {
		if !h.Valid() {
			return p, Error.New("empty hash announced by %s", p.Addr)
		}
	}
	return p, nil
}
