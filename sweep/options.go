package sweep

import (
	"time"

	"src.userspace.com.au/logger"
	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/metrics"
)

// Option configures a Sweeper
type Option func(*Sweeper) error

// SetLogger sets the logger
func SetLogger(l logger.Logger) Option {
	return func(s *Sweeper) error {
		s.log = l.Named("sweep")
		return nil
	}
}

// SetRecorder reports evictions to r
func SetRecorder(r metrics.Recorder) Option {
	return func(s *Sweeper) error {
		s.rec = r
		return nil
	}
}

// SetClock replaces the wall clock
func SetClock(now func() time.Time) Option {
	return func(s *Sweeper) error {
		s.now = now
		return nil
	}
}

// SetTTL sets how long a silent peer is kept
func SetTTL(d time.Duration) Option {
	return func(s *Sweeper) error {
		if d < time.Second {
			return peerdb.Error.New("peer TTL must be at least one second")
		}
		s.ttl = d
		return nil
	}
}

// SetInterval sets the time between sweeps in Run
func SetInterval(d time.Duration) Option {
	return func(s *Sweeper) error {
		if d <= 0 {
			return peerdb.Error.New("sweep interval must be positive")
		}
		s.interval = d
		return nil
	}
}
