package peerdb

import (
	"net"
	"strconv"
	"strings"
)

// Network is the kind of host in a peer address
type Network int

const (
	// NoNetwork is the zero Addr
	NoNetwork Network = iota
	IPv4
	IPv6
	Onion
	I2P
)

func (n Network) String() string {
	switch n {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case Onion:
		return "onion"
	case I2P:
		return "i2p"
	default:
		return "unknown"
	}
}

// Addr is the address a peer is reachable on. It is comparable and
// may be used as a map key.
type Addr struct {
	host    string
	port    uint16
	network Network
}

// ParseAddr parses host:port where host is an IP, an .onion or an .i2p name
func ParseAddr(s string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, Error.New("invalid address %q: %v", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Addr{}, Error.New("invalid port in address %q", s)
	}

	a := Addr{port: uint16(port)}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			a.host, a.network = ip4.String(), IPv4
		} else {
			a.host, a.network = ip.String(), IPv6
		}
		return a, nil
	}

	name := strings.ToLower(host)
	switch {
	case strings.HasSuffix(name, ".onion") && len(name) > len(".onion"):
		a.host, a.network = name, Onion
	case strings.HasSuffix(name, ".i2p") && len(name) > len(".i2p"):
		a.host, a.network = name, I2P
	default:
		return Addr{}, Error.New("unsupported host in address %q", s)
	}
	return a, nil
}

// MustParseAddr is ParseAddr for constant addresses, it panics on error
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Host returns the host part
func (a Addr) Host() string { return a.host }

// Port returns the port part
func (a Addr) Port() uint16 { return a.port }

// Network returns the kind of host
func (a Addr) Network() Network { return a.network }

// IsZero is true for the zero Addr
func (a Addr) IsZero() bool { return a.network == NoNetwork }

// String implements fmt.Stringer and is the stored form
func (a Addr) String() string {
	if a.IsZero() {
		return ""
	}
	return net.JoinHostPort(a.host, strconv.Itoa(int(a.port)))
}

// MarshalText implements encoding.TextMarshaler
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Addr) UnmarshalText(b []byte) error {
	parsed, err := ParseAddr(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
