package usecase

import (
	"context"
	"log"
	"time"

	emailrepo "mailpilot-backend/internal/email/repository"
)

// CleanupScheduler periodically sweeps expired rows out of both caches.
// Reads already treat expired rows as misses, so the sweep only reclaims
// space; its cadence never affects correctness.
type CleanupScheduler struct {
	contentCache  emailrepo.ContentCacheRepository
	analysisCache emailrepo.AnalysisCacheRepository
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCleanupScheduler creates a new CleanupScheduler
func NewCleanupScheduler(
	contentCache emailrepo.ContentCacheRepository,
	analysisCache emailrepo.AnalysisCacheRepository,
	interval time.Duration,
) *CleanupScheduler {
	return &CleanupScheduler{
		contentCache:  contentCache,
		analysisCache: analysisCache,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop or context cancellation.
func (s *CleanupScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Printf("[Cleanup] Cache sweep scheduler started (interval: %v)", s.interval)

		// Sweep once at startup to clear anything that expired while down.
		s.SweepNow()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.SweepNow()
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *CleanupScheduler) Stop() {
	close(s.stopChan)
}

// SweepNow removes expired rows from both caches immediately.
func (s *CleanupScheduler) SweepNow() {
	now := time.Now()

	contentRemoved, err := s.contentCache.SweepExpired(now)
	if err != nil {
		log.Printf("[Cleanup] Content cache sweep failed: %v", err)
	}

	analysisRemoved, err := s.analysisCache.SweepExpired(now)
	if err != nil {
		log.Printf("[Cleanup] Analysis cache sweep failed: %v", err)
	}

	if contentRemoved > 0 || analysisRemoved > 0 {
		log.Printf("[Cleanup] Swept %d content rows, %d analysis rows", contentRemoved, analysisRemoved)
	}
}
