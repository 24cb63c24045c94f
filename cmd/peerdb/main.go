package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"src.userspace.com.au/logger"
	"src.userspace.com.au/peerdb"
	"src.userspace.com.au/peerdb/announce"
	"src.userspace.com.au/peerdb/metrics"
	"src.userspace.com.au/peerdb/store"
	"src.userspace.com.au/peerdb/sweep"
)

var log logger.Logger

func main() {
	var (
		configPath  string
		dsn         string
		metricsAddr string
		debug       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "TOML configuration file")
	flag.StringVar(&dsn, "dsn", "", "database DSN (memory:, a SQLite DSN or postgres://)")
	flag.StringVar(&metricsAddr, "metrics", "", "HTTP listen address")
	flag.BoolVar(&debug, "debug", false, "show debug output")
	flag.BoolVar(&showVersion, "v", false, "show version")

	flag.Parse()

	if showVersion {
		fmt.Printf("%s (%s) %s\n", peerdb.Build.Version, peerdb.Build.Revision, peerdb.Build.GoVersion)
		os.Exit(0)
	}

	cfg := peerdb.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = peerdb.LoadConfig(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	// Flags given on the command line win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dsn":
			cfg.DSN = dsn
		case "metrics":
			cfg.MetricsAddress = metricsAddr
		case "debug":
			cfg.Debug = debug
		}
	})

	logOpts := &logger.Options{
		Name:  "peerdb",
		Level: logger.Info,
	}
	if cfg.Debug {
		logOpts.Level = logger.Debug
	}
	log = logger.New(logOpts)
	logBuild(log, peerdb.Build)
	log.Debug("debugging")

	if err := run(cfg); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func logBuild(l logger.Logger, b peerdb.BuildInfo) {
	l.Info("starting", "version", b.Version, "revision", b.Revision, "goversion", b.GoVersion)
}

// startSweeper runs s in the background. The returned func stops it and
// waits for a sweep in progress to finish.
func startSweeper(ctx context.Context, s *sweep.Sweeper) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func run(cfg peerdb.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	blacklist := make([]peerdb.Hash, 0, len(cfg.Blacklist))
	for _, s := range cfg.Blacklist {
		h, err := peerdb.HashFromString(s)
		if err != nil {
			return peerdb.Error.New("blacklist entry %q: %v", s, err)
		}
		blacklist = append(blacklist, h)
	}

	raw, err := store.Open(cfg.DSN)
	if err != nil {
		return err
	}
	dir := store.WithLogger(raw, log)
	defer dir.Close()
	dbType := store.Type(cfg.DSN)
	log.Info("store opened", "type", dbType)

	rec := metrics.NewPrometheus(dir, peerdb.Build, dbType)

	sweeper, err := sweep.New(dir,
		sweep.SetLogger(log),
		sweep.SetRecorder(rec),
		sweep.SetTTL(cfg.TTL()),
		sweep.SetInterval(cfg.Interval()),
	)
	if err != nil {
		return err
	}

	tracker, err := announce.New(dir,
		announce.SetLogger(log),
		announce.SetRecorder(rec),
		announce.SetRateLimit(cfg.AnnounceRate, cfg.AnnounceBurst),
		announce.SetBlacklistSize(cfg.BlacklistSize),
		announce.SetBlacklist(blacklist...),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Runs before the deferred store close
	defer startSweeper(ctx, sweeper)()

	srv := &http.Server{
		Addr:    cfg.MetricsAddress,
		Handler: newServer(dir, tracker, rec, cfg.SwarmLimit).routes(),
	}
	srv.ConnState = connState(rec)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", cfg.MetricsAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		return peerdb.Error.Wrap(err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdown)
}
