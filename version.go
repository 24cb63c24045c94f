package peerdb

import "runtime"

// Set with -ldflags "-X src.userspace.com.au/peerdb.version=..."
var (
	version  = "dev"
	revision = "unknown"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	GoVersion string `json:"goversion"`
}

// Build is the information for this binary
var Build = BuildInfo{
	Version:   version,
	Revision:  revision,
	GoVersion: runtime.Version(),
}
