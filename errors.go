package peerdb

import "github.com/zeebo/errs"

var (
	// Error is the class of every storage failure returned by a directory
	Error = errs.Class("peerdb")

	// ErrCorrupt marks a persisted row that could not be decoded
	ErrCorrupt = errs.Class("corrupt record")
)

// Corrupt reports a row that failed to decode as a storage error
func Corrupt(format string, args ...interface{}) error {
	return Error.Wrap(ErrCorrupt.New(format, args...))
}
