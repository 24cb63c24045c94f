package peerdb

import (
	"bytes"
	"encoding/hex"
)

// Hash identifies a swarm. Its length is up to the caller.
type Hash []byte

// HashFromString decodes a hex encoded hash
func HashFromString(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, Error.New("invalid hash %q: %v", s, err)
	}
	if len(b) == 0 {
		return nil, Error.New("empty hash")
	}
	return Hash(b), nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// Equal compares byte for byte
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// Valid is false for an empty hash
func (h Hash) Valid() bool {
	return len(h) > 0
}

// Key is the hash as a comparable value for maps
func (h Hash) Key() string {
	return string(h)
}

// Clone copies the hash so callers may reuse their buffer
func (h Hash) Clone() Hash {
	if h == nil {
		return nil
	}
	return append(Hash(nil), h...)
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := HashFromString(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Swarm is a hash with the number of peers linked to it
type Swarm struct {
	Hash  Hash `json:"hash"`
	Peers int  `json:"peers"`
}
