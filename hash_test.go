package peerdb

import (
	"encoding/hex"
	"testing"
)

func TestHashFromString(t *testing.T) {
	tests := []struct {
		str string
		ok  bool
	}{
		{str: "5a3ce1c14e7a08645677bbd1cfe7d8f956d53256", ok: true},
		{str: "5a3ce1c14e7a08645677bbd1cfe7d8f956d53256000000", ok: true},
		{str: "00", ok: true},
		{str: "5a3ce1c14e7a08645677bbd1cfe7d8f956d5325", ok: false},
		{str: "5a3ce1c14e7a08645677bbd1cfe7d8f956d5325k", ok: false},
		{str: "", ok: false},
	}

	for _, tt := range tests {
		h, err := HashFromString(tt.str)
		if !tt.ok {
			if err == nil {
				t.Errorf("HashFromString should have failed for %q", tt.str)
			}
			continue
		}
		if err != nil {
			t.Errorf("HashFromString(%q) failed with %s", tt.str, err)
			continue
		}
		b, _ := hex.DecodeString(tt.str)
		if !h.Equal(Hash(b)) {
			t.Errorf("expected %s to equal %x", h, b)
		}
		if h.String() != tt.str {
			t.Errorf("String() => %q, expected %q", h.String(), tt.str)
		}
	}
}

func TestHashClone(t *testing.T) {
	buf := []byte{1, 2, 3}
	h := Hash(buf).Clone()
	buf[0] = 9
	if h[0] != 1 {
		t.Errorf("Clone shares memory with its source")
	}
	if Hash(nil).Clone() != nil {
		t.Errorf("Clone of nil should be nil")
	}
	if (Hash{}).Valid() {
		t.Errorf("empty hash should not be valid")
	}
	if (Hash{1}).Key() != "\x01" {
		t.Errorf("Key should be the raw bytes")
	}
}
