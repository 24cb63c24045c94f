package peerdb

import (
	"testing"
	"time"
)

func TestPeerValidate(t *testing.T) {
	addr := MustParseAddr("10.0.0.1:6881")
	t0 := time.Unix(100, 0)

	tests := []struct {
		name string
		peer Peer
		ok   bool
	}{
		{"fresh", NewPeer(addr, t0), true},
		{"seen later", Peer{Addr: addr, DateAdded: t0, LastSeen: t0.Add(time.Minute)}, true},
		{"seen before added", Peer{Addr: addr, DateAdded: t0, LastSeen: t0.Add(-time.Second)}, false},
		{"no address", Peer{DateAdded: t0, LastSeen: t0}, false},
	}
	for _, tt := range tests {
		err := tt.peer.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() => %v, expected ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestPeerNormalize(t *testing.T) {
	addr := MustParseAddr("10.0.0.1:6881")
	seen := time.Unix(101, 999999999)

	p := Peer{Addr: addr, LastSeen: seen}.Normalize()
	if !p.DateAdded.Equal(time.Unix(101, 0)) {
		t.Errorf("DateAdded => %s, expected it filled from LastSeen", p.DateAdded)
	}
	if !p.LastSeen.Equal(time.Unix(101, 0)) {
		t.Errorf("LastSeen => %s, expected truncation to seconds", p.LastSeen)
	}
	if ToUnix(FromUnix(1234)) != 1234 {
		t.Errorf("unix conversion does not round trip")
	}
}

func TestCutoffUnix(t *testing.T) {
	tests := []struct {
		in   time.Time
		want int64
	}{
		{time.Unix(100, 0), 100},
		{time.Unix(100, 1), 101},
		{time.Unix(100, 500000000), 101},
		{time.Unix(100, 999999999), 101},
	}
	for _, tt := range tests {
		if got := CutoffUnix(tt.in); got != tt.want {
			t.Errorf("CutoffUnix(%s) => %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestCorrupt(t *testing.T) {
	err := Corrupt("bad address %q", "x")
	if !Error.Has(err) {
		t.Errorf("corrupt record should be a peerdb error")
	}
	if !ErrCorrupt.Has(err) {
		t.Errorf("corrupt record should be marked corrupt")
	}
	if ErrCorrupt.Has(Error.New("other")) {
		t.Errorf("plain errors should not be marked corrupt")
	}
}
