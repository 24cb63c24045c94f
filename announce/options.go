package announce

import (
	"time"

	"golang.org/x/time/rate"
	"src.userspace.com.au/logger"
	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/metrics"
)

// Option configures a Tracker
type Option func(*Tracker) error

// SetLogger sets the logger
func SetLogger(l logger.Logger) Option {
	return func(t *Tracker) error {
		t.log = l.Named("announce")
		return nil
	}
}

// SetRecorder reports requests to r
func SetRecorder(r metrics.Recorder) Option {
	return func(t *Tracker) error {
		t.rec = r
		return nil
	}
}

// SetClock replaces the wall clock
func SetClock(now func() time.Time) Option {
	return func(t *Tracker) error {
		t.now = now
		return nil
	}
}

// SetRateLimit allows r announces per second with bursts of b
func SetRateLimit(r float64, b int) Option {
	return func(t *Tracker) error {
		if r <= 0 || b < 1 {
			return peerdb.Error.New("invalid rate limit %v/%d", r, b)
		}
		t.limiter = rate.NewLimiter(rate.Limit(r), b)
		return nil
	}
}

// SetBlacklistSize bounds the number of banned hashes kept
func SetBlacklistSize(n int) Option {
	return func(t *Tracker) error {
		if n < 1 {
			return peerdb.Error.New("invalid blacklist size %d", n)
		}
		t.blacklistSize = n
		return nil
	}
}

// SetBlacklist bans the given hashes
func SetBlacklist(hashes ...peerdb.Hash) Option {
	return func(t *Tracker) error {
		for _, h := range hashes {
			if !h.Valid() {
				return peerdb.Error.New("invalid blacklist hash")
			}
		}
		t.seed = append(t.seed, hashes...)
		return nil
	}
}
