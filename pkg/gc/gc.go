// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

// Package gc provides garbage collection for the registry store: the
// insertion/collection interlock manifest puts coordinate through, the
// per-repository collector, and the background collection loop.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/logger"
	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gcRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_gc_runs_total",
		Help: "Total number of GC passes",
	})

	gcManifestsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_gc_manifests_deleted_total",
		Help: "Total number of manifests removed by GC",
	})

	gcBlobsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_gc_blobs_deleted_total",
		Help: "Total number of blobs removed by GC",
	})

	gcAborts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_gc_aborts_total",
		Help: "Total number of GC passes aborted by a racing insertion",
	})

	gcLastRunTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zapreg_gc_last_run_timestamp",
		Help: "Timestamp of last completed GC pass",
	})

	gcDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zapreg_gc_duration_seconds",
		Help:    "Duration of GC passes in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	gcErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_gc_errors_total",
		Help: "Total number of GC errors",
	})
)

func init() {
	prometheus.MustRegister(
		gcRunsTotal,
		gcManifestsDeleted,
		gcBlobsDeleted,
		gcAborts,
		gcLastRunTime,
		gcDuration,
		gcErrors,
	)
}

// Service runs periodic collection passes over every repository.
type Service struct {
	store     objectstore.Store
	collector *Collector
	interval  time.Duration
	mode      Mode

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Config holds configuration for the GC service.
type Config struct {
	Store     objectstore.Store
	Collector *Collector

	// Interval is how often to run GC (default: 5 minutes)
	Interval time.Duration

	// Mode is the collection mode for background passes (default:
	// unreferenced).
	Mode Mode
}

// NewService creates a new GC service.
func NewService(cfg Config) *Service {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeUnreferenced
	}

	return &Service{
		store:     cfg.Store,
		collector: cfg.Collector,
		interval:  cfg.Interval,
		mode:      cfg.Mode,
	}
}

// SetMode changes the collection mode for subsequent passes.
func (s *Service) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

func (s *Service) currentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Start begins the GC loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the GC loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	s.running = false
}

func (s *Service) run(ctx context.Context) {
	next := nextPassIn(s.interval)
	ticker := time.NewTicker(next)
	defer ticker.Stop()

	// Run immediately on start
	s.collectAll(ctx)
	logger.Ctx(ctx).Debug().Dur("next_pass_in", next).Msg("collection pass scheduled")

	for {
		select {
		case <-ticker.C:
			s.collectAll(ctx)
			next = nextPassIn(s.interval)
			ticker.Reset(next)
			logger.Ctx(ctx).Debug().Dur("next_pass_in", next).Msg("collection pass scheduled")
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CollectOnce runs a single pass over every repository.
func (s *Service) CollectOnce(ctx context.Context) error {
	repos, err := s.repositories(ctx)
	if err != nil {
		return err
	}
	mode := s.currentMode()
	for _, name := range repos {
		if _, err := s.collector.Collect(ctx, name, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) collectAll(ctx context.Context) {
	repos, err := s.repositories(ctx)
	if err != nil {
		gcErrors.Inc()
		logger.Ctx(ctx).Error().Err(err).Msg("failed to enumerate repositories for GC")
		return
	}

	mode := s.currentMode()
	for _, name := range repos {
		ok, err := s.collector.Collect(ctx, name, mode)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("repository", name).Msg("GC pass failed")
			continue
		}
		if !ok {
			logger.Ctx(ctx).Debug().Str("repository", name).Msg("GC pass yielded to insertion")
		}
	}
}

// repositories enumerates repository names by scanning manifest keys.
func (s *Service) repositories(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var repos []string

	cursor := ""
	for {
		page, err := s.store.List(ctx, objectstore.ListOptions{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			name := types.RepositoryOfManifestKey(key)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				repos = append(repos, name)
			}
		}
		if page.NextCursor == "" {
			return repos, nil
		}
		cursor = page.NextCursor
	}
}
